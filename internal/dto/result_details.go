package dto

import (
	"time"

	"neurovision/internal/model"
)

// ResultDetails is the stored recognition result of one image.
type ResultDetails struct {
	ImageID            int64             `json:"image_id"`
	ImageURL           string            `json:"image_url"`
	CorrelationID      string            `json:"correlation_id"`
	UploadedAt         time.Time         `json:"uploaded_at"`
	ProcessedImagePath string            `json:"processed_image_path"`
	Accuracy           float64           `json:"accuracy"`
	ObjectsCount       int               `json:"objects_count"`
	Metrics            Metrics           `json:"metrics"`
	ModelVersion       string            `json:"model_version"`
	ProcessedAt        time.Time         `json:"processed_at"`
	Detections         []model.Detection `json:"detections"`
	AnalyzedAt         time.Time         `json:"analyzed_at"`
}
