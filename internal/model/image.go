package model

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidUser  = errors.New("image must belong to a user")
	ErrInvalidPath  = errors.New("image path is required")
	ErrInvalidImage = errors.New("recognition result must reference an image")
)

// Image represents an uploaded image record. Rows are never updated; deleting
// one removes its recognition results.
type Image struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	ImagePath     string    `json:"image_path"`
	CorrelationID string    `json:"correlation_id"`
	UploadedAt    time.Time `json:"uploaded_at"`
}

// NewImage builds an Image ready to be inserted.
func NewImage(userID int64, imagePath, correlationID string) (*Image, error) {
	if userID <= 0 {
		return nil, ErrInvalidUser
	}
	if strings.TrimSpace(imagePath) == "" {
		return nil, ErrInvalidPath
	}
	return &Image{
		UserID:        userID,
		ImagePath:     imagePath,
		CorrelationID: correlationID,
		UploadedAt:    time.Now().UTC(),
	}, nil
}

// RecognitionResult is the outcome of one analysis of an Image.
type RecognitionResult struct {
	ID                 int64     `json:"id"`
	ImageID            int64     `json:"image_id"`
	RecognizedObjects  string    `json:"recognized_objects"`
	ProcessedImagePath string    `json:"processed_image_path"`
	Accuracy           float64   `json:"accuracy"`
	ConfidenceAvg      float64   `json:"confidence_avg"`
	InferenceTimeMs    *float64  `json:"inference_time_ms"`
	TotalTimeMs        *float64  `json:"total_time_ms"`
	ObjectsCount       int       `json:"objects_count"`
	DetectionDetails   string    `json:"detection_details"`
	AnalyzedAt         time.Time `json:"analyzed_at"`
}

// RecognitionInput carries the aggregated analysis values of a RecognitionResult.
type RecognitionInput struct {
	RecognizedObjects  []byte
	ProcessedImagePath string
	Accuracy           float64
	Metrics            Metrics
	ObjectsCount       int
	DetectionDetails   []byte
}

// NewRecognitionResult binds the analysis values to a persisted image.
// Accuracy and ConfidenceAvg carry the same mean confidence.
func NewRecognitionResult(imageID int64, in RecognitionInput) (*RecognitionResult, error) {
	if imageID <= 0 {
		return nil, ErrInvalidImage
	}
	if strings.TrimSpace(in.ProcessedImagePath) == "" {
		return nil, ErrInvalidPath
	}

	inference := in.Metrics.InferenceMs
	return &RecognitionResult{
		ImageID:            imageID,
		RecognizedObjects:  string(in.RecognizedObjects),
		ProcessedImagePath: in.ProcessedImagePath,
		Accuracy:           in.Accuracy,
		ConfidenceAvg:      in.Accuracy,
		InferenceTimeMs:    &inference,
		TotalTimeMs:        in.Metrics.TotalMs,
		ObjectsCount:       in.ObjectsCount,
		DetectionDetails:   string(in.DetectionDetails),
		AnalyzedAt:         time.Now().UTC(),
	}, nil
}

// ImageStats contains statistics about a user's analyses.
type ImageStats struct {
	TotalImages  int            `json:"total_images"`
	TotalObjects int            `json:"total_objects"`
	AvgAccuracy  float64        `json:"avg_accuracy"`
	ObjectCounts map[string]int `json:"object_counts"`
}
