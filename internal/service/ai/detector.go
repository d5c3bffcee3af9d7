// Package ai runs object detection over uploaded images.
package ai

import (
	"errors"
	"math"

	"neurovision/internal/model"
)

var (
	// ErrModelNotLoaded is returned when the detection model is unavailable.
	ErrModelNotLoaded = errors.New("detection model not loaded")
	// ErrInputNotFound is returned when the path does not hold a readable image.
	ErrInputNotFound = errors.New("input image not found")
)

// Output is the result of one detector call. Annotated is a JPEG of the
// input with every detection drawn on it.
type Output struct {
	Annotated  []byte
	Detections []model.Detection
	Metrics    model.Metrics
}

// validDetection reports whether confidence lies in [0,1] and every box
// coordinate is a finite number.
func validDetection(confidence float64, bbox []float64) bool {
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return false
	}
	for _, v := range bbox {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
