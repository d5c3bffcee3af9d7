package dto

import (
	"encoding/json"
	"time"
)

// ImageInfo is one entry of the analysis history.
type ImageInfo struct {
	ImageID      int64     `json:"image_id"`
	ImageURL     string    `json:"image_url"`
	Date         time.Time `json:"date"`
	TimeOfDay    time.Time `json:"timeOfDay"`
	Objects      []string  `json:"objects"`
	Accuracy     float64   `json:"accuracy"`
	ObjectsCount int       `json:"objects_count"`
}

// MarshalJSON customizes JSON output for ImageInfo to format date and time-of-day.
func (p ImageInfo) MarshalJSON() ([]byte, error) {
	type Alias ImageInfo
	objects := p.Objects
	if objects == nil {
		objects = []string{}
	}
	return json.Marshal(&struct {
		Date      string   `json:"date"`
		TimeOfDay string   `json:"timeOfDay"`
		Objects   []string `json:"objects"`
		Alias
	}{
		Date:      p.Date.Format("02-01-2006"),
		TimeOfDay: p.TimeOfDay.Format("15:04"),
		Objects:   objects,
		Alias:     (Alias)(p),
	})
}
