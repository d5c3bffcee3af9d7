package ai

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"neurovision/internal/model"
)

var (
	boxColor   = color.NRGBA{R: 255, G: 0, B: 0, A: 255}
	labelColor = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

// Annotator draws detections onto images without OpenCV.
type Annotator struct {
	Thickness int
	Quality   int
}

func NewAnnotator() *Annotator {
	return &Annotator{Thickness: 2, Quality: 90}
}

// Annotate draws every detection on the image and returns it as JPEG.
func (a *Annotator) Annotate(img image.Image, detections []model.Detection) ([]byte, error) {
	canvas := imaging.Clone(img)

	for _, d := range detections {
		rect := image.Rect(int(d.BBox.X1), int(d.BBox.Y1), int(d.BBox.X2), int(d.BBox.Y2)).Intersect(canvas.Bounds())
		if rect.Empty() {
			continue
		}
		a.drawBox(canvas, rect)
		a.drawLabel(canvas, rect, fmt.Sprintf("%s (%.2f)", d.ClassName, d.Confidence))
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, canvas, imaging.JPEG, imaging.JPEGQuality(a.Quality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func (a *Annotator) drawBox(dst draw.Image, r image.Rectangle) {
	src := image.NewUniform(boxColor)
	t := a.Thickness
	if t < 1 {
		t = 1
	}
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

func (a *Annotator) drawLabel(dst draw.Image, r image.Rectangle, text string) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil() + 4
	height := face.Metrics().Height.Ceil() + 2

	top := r.Min.Y - height
	if top < dst.Bounds().Min.Y {
		top = r.Min.Y
	}
	bg := image.Rect(r.Min.X, top, r.Min.X+width, top+height).Intersect(dst.Bounds())
	draw.Draw(dst, bg, image.NewUniform(boxColor), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(labelColor),
		Face: face,
		Dot:  fixed.P(r.Min.X+2, top+face.Metrics().Ascent.Ceil()+1),
	}
	d.DrawString(text)
}
