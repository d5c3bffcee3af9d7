//go:build gocv

package ai

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"time"

	"gocv.io/x/gocv"

	"neurovision/internal/config"
	"neurovision/internal/logger"
	"neurovision/internal/model"
)

// DNNDetector runs an OpenCV DNN graph in process. A gocv.Net is not safe for
// concurrent use, so the detector keeps a pool of them.
type DNNDetector struct {
	nets       *pool[*gocv.Net]
	modelPath  string
	configPath string
	threshold  float32
	labels     Labels
	logger     *logger.Logger
}

// NewDNNDetector loads config.ProcessingWorkers copies of the network. When
// loading fails the detector is still returned and every Detect call reports
// ErrModelNotLoaded.
func NewDNNDetector(config *config.Config, labels Labels, logger *logger.Logger) *DNNDetector {
	size := config.ProcessingWorkers
	if size < 1 {
		size = 1
	}

	d := &DNNDetector{
		nets:       newPool(size, func(n *gocv.Net) { n.Close() }),
		modelPath:  config.ModelPath,
		configPath: config.ConfigPath,
		threshold:  float32(config.ConfidenceThreshold),
		labels:     labels,
		logger:     logger,
	}

	for i := 0; i < size; i++ {
		net, err := d.initializeNet()
		if err != nil {
			d.logger.Warning("Could not initialize detection network: %v", err)
			d.Close()
			return d
		}
		d.nets.add(net)
	}

	d.logger.Info("Detection network initialized (%d instances)", d.nets.len())
	return d
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (d *DNNDetector) initializeNet() (*gocv.Net, error) {
	if _, err := os.Stat(d.modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", d.modelPath)
	}

	if _, err := os.Stat(d.configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", d.configPath)
	}

	net := gocv.ReadNet(d.modelPath, d.configPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network")
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable backend or target")
	}

	return &net, nil
}

// Loaded reports whether at least one network is available.
func (d *DNNDetector) Loaded() bool {
	return d.nets.ready()
}

// Detect runs the network on the image at path and draws the results on it.
func (d *DNNDetector) Detect(ctx context.Context, path string) (*Output, error) {
	if !d.Loaded() {
		return nil, ErrModelNotLoaded
	}

	start := time.Now()

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputNotFound, err)
	}
	mat := gocv.IMRead(path, gocv.IMReadColor)
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("%w: cannot decode %s", ErrInputNotFound, path)
	}

	net, err := d.nets.acquire(ctx)
	if err != nil {
		return nil, err
	}

	// Create blob with parameters that fit ssd coco net input
	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	inferenceStart := time.Now()
	net.SetInput(blob, "")
	output := net.Forward("")
	inferenceMs := float64(time.Since(inferenceStart).Microseconds()) / 1000
	d.nets.release(net)
	defer output.Close()

	detections := d.parseOutput(output, mat.Cols(), mat.Rows())

	annotated, err := drawDetections(mat, detections)
	if err != nil {
		return nil, err
	}

	totalMs := float64(time.Since(start).Microseconds()) / 1000
	d.logger.Info("Detected %d objects (inference %.1fms, total %.1fms)", len(detections), inferenceMs, totalMs)

	return &Output{
		Annotated:  annotated,
		Detections: detections,
		Metrics:    model.Metrics{InferenceMs: inferenceMs, TotalMs: &totalMs},
	}, nil
}

// parseOutput reads rows of [batch_id, class_id, confidence, x1, y1, x2, y2]
// with coordinates relative to the image size.
func (d *DNNDetector) parseOutput(output gocv.Mat, cols, rows int) []model.Detection {
	detections := []model.Detection{}

	reshaped := output.Reshape(1, output.Total()/7)
	defer reshaped.Close()

	for i := 0; i < reshaped.Rows(); i++ {
		confidence := reshaped.GetFloatAt(i, 2)
		if confidence < d.threshold {
			continue
		}
		classID := int(reshaped.GetFloatAt(i, 1))
		name, ok := d.labels.Name(classID)
		if !ok {
			continue
		}

		box := []float64{
			float64(reshaped.GetFloatAt(i, 3) * float32(cols)),
			float64(reshaped.GetFloatAt(i, 4) * float32(rows)),
			float64(reshaped.GetFloatAt(i, 5) * float32(cols)),
			float64(reshaped.GetFloatAt(i, 6) * float32(rows)),
		}
		if !validDetection(float64(confidence), box) {
			continue
		}

		detections = append(detections, model.Detection{
			ClassID:    classID,
			ClassName:  name,
			Confidence: float64(confidence),
			BBox:       model.NewBoundingBox(box[0], box[1], box[2], box[3]),
		})
	}
	return detections
}

// drawDetections draws detection results on the image and returns a JPEG buffer.
func drawDetections(mat gocv.Mat, detections []model.Detection) ([]byte, error) {
	red := color.RGBA{R: 255, G: 0, B: 0, A: 0}

	for _, det := range detections {
		rect := image.Rect(int(det.BBox.X1), int(det.BBox.Y1), int(det.BBox.X2), int(det.BBox.Y2))
		if err := gocv.Rectangle(&mat, rect, red, 2); err != nil {
			return nil, fmt.Errorf("failed to draw rectangle: %v", err)
		}

		label := fmt.Sprintf("%s (%.2f)", det.ClassName, det.Confidence)
		pt := image.Pt(rect.Min.X, rect.Min.Y-5)
		if err := gocv.PutText(&mat, label, pt, gocv.FontHersheySimplex, 0.5, red, 1); err != nil {
			return nil, fmt.Errorf("failed to draw text: %v", err)
		}
	}

	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	finalImage := make([]byte, len(buf.GetBytes()))
	copy(finalImage, buf.GetBytes())
	return finalImage, nil
}

// Close releases every network in the pool. Networks in use are closed when
// their request finishes.
func (d *DNNDetector) Close() error {
	d.nets.close()
	return nil
}
