package dto

// Metrics is the client-facing timing record. TotalTime is null when unknown.
type Metrics struct {
	InferenceTime float64  `json:"inference_time"`
	TotalTime     *float64 `json:"total_time"`
}

// AnalysisResult is returned for every successful analysis.
type AnalysisResult struct {
	ImageID      int64    `json:"image_id"`
	ResultID     int64    `json:"-"`
	ImageURL     string   `json:"image_url"`
	Objects      []string `json:"objects"`
	Accuracy     float64  `json:"accuracy"`
	Metrics      Metrics  `json:"metrics"`
	ObjectsCount int      `json:"objects_count"`
}

// Envelope wraps successful responses.
type Envelope struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// ErrorResponse is written for failed requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
