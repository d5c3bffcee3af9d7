package dto

import "time"

// AnalysisEvent is pushed to a user's live connections after an analysis completes.
type AnalysisEvent struct {
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlation_id"`
	ImageID       int64     `json:"image_id"`
	ImageURL      string    `json:"image_url"`
	Objects       []string  `json:"objects"`
	Accuracy      float64   `json:"accuracy"`
	CompletedAt   time.Time `json:"completed_at"`
}
