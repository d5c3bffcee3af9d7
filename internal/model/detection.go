package model

import (
	"encoding/json"
	"fmt"
)

// BoundingBox is an axis-aligned box in pixel coordinates of the source image.
// It is serialized as [x1, y1, x2, y2].
type BoundingBox struct {
	X1, Y1, X2, Y2 float64
}

// NewBoundingBox orders the corners so that X1 <= X2 and Y1 <= Y2.
func NewBoundingBox(x1, y1, x2, y2 float64) BoundingBox {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func (b BoundingBox) Width() float64  { return b.X2 - b.X1 }
func (b BoundingBox) Height() float64 { return b.Y2 - b.Y1 }

func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.X1, b.Y1, b.X2, b.Y2})
}

func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var coords []float64
	if err := json.Unmarshal(data, &coords); err != nil {
		return fmt.Errorf("invalid bbox: %w", err)
	}
	if len(coords) != 4 {
		return fmt.Errorf("invalid bbox: expected 4 coordinates, got %d", len(coords))
	}
	*b = NewBoundingBox(coords[0], coords[1], coords[2], coords[3])
	return nil
}

// Detection represents a detected object in an image.
type Detection struct {
	ClassID    int         `json:"class_id"`
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// Metrics is the timing record of one detector call. TotalMs is nil when the
// detector could not measure end-to-end time.
type Metrics struct {
	InferenceMs float64
	TotalMs     *float64
}
