// Package analysis reduces a detector's output to the values stored and
// returned for one analysis.
package analysis

import (
	"encoding/json"
	"fmt"
	"time"

	"neurovision/internal/model"
)

// Details is the structured blob persisted with every recognition result.
type Details struct {
	ModelVersion string            `json:"model_version"`
	ProcessedAt  time.Time         `json:"processed_at"`
	ObjectsCount int               `json:"objects_count"`
	Detections   []model.Detection `json:"detections"`
}

// Summary is the aggregated view of a detection list.
type Summary struct {
	Accuracy          float64
	ObjectsCount      int
	Objects           []string
	RecognizedObjects []byte
	Details           []byte
}

type Aggregator struct {
	modelVersion string
	now          func() time.Time
}

func NewAggregator(modelVersion string) *Aggregator {
	return &Aggregator{
		modelVersion: modelVersion,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Aggregate computes the mean confidence (0 for no detections), the object
// names in detector order and the serialized detail blob.
func (a *Aggregator) Aggregate(detections []model.Detection) (Summary, error) {
	if detections == nil {
		detections = []model.Detection{}
	}

	objects := make([]string, 0, len(detections))
	for _, d := range detections {
		objects = append(objects, d.ClassName)
	}

	summary := Summary{
		Accuracy:     MeanConfidence(detections),
		ObjectsCount: len(detections),
		Objects:      objects,
	}

	recognized, err := json.Marshal(detections)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to encode detections: %w", err)
	}
	summary.RecognizedObjects = recognized

	details, err := json.Marshal(Details{
		ModelVersion: a.modelVersion,
		ProcessedAt:  a.now(),
		ObjectsCount: len(detections),
		Detections:   detections,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("failed to encode detection details: %w", err)
	}
	summary.Details = details

	return summary, nil
}

// MeanConfidence returns the arithmetic mean of the confidences, or 0.
func MeanConfidence(detections []model.Detection) float64 {
	if len(detections) == 0 {
		return 0
	}
	var sum float64
	for _, d := range detections {
		sum += d.Confidence
	}
	return sum / float64(len(detections))
}

// DecodeDetails parses a blob produced by Aggregate.
func DecodeDetails(blob []byte) (*Details, error) {
	var d Details
	if err := json.Unmarshal(blob, &d); err != nil {
		return nil, fmt.Errorf("failed to decode detection details: %w", err)
	}
	if d.Detections == nil {
		d.Detections = []model.Detection{}
	}
	return &d, nil
}

// DecodeDetections parses the recognized objects column.
func DecodeDetections(blob []byte) ([]model.Detection, error) {
	detections := []model.Detection{}
	if len(blob) == 0 {
		return detections, nil
	}
	if err := json.Unmarshal(blob, &detections); err != nil {
		return nil, fmt.Errorf("failed to decode detections: %w", err)
	}
	return detections, nil
}
