package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"neurovision/internal/config"
	"neurovision/internal/logger"
	"neurovision/internal/model"
)

const healthCacheTTL = 30 * time.Second

type remoteDetection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"` // [x1, y1, x2, y2]
}

type remoteResult struct {
	Detections      []remoteDetection `json:"detections"`
	InferenceTimeMs float64           `json:"inference_time_ms"`
	TotalTimeMs     *float64          `json:"total_time_ms"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// RemoteDetector sends images to an HTTP inference service and draws the
// returned boxes locally.
type RemoteDetector struct {
	endpoint    string
	client      *http.Client
	threshold   float64
	labels      Labels
	annotator   *Annotator
	logger      *logger.Logger
	healthCheck time.Time
	mu          sync.RWMutex
}

// NewRemoteDetector creates a detector for the service at config.InferenceURL.
func NewRemoteDetector(config *config.Config, labels Labels, logger *logger.Logger) *RemoteDetector {
	return &RemoteDetector{
		endpoint:  config.InferenceURL,
		client:    &http.Client{Timeout: 60 * time.Second},
		threshold: config.ConfidenceThreshold,
		labels:    labels,
		annotator: NewAnnotator(),
		logger:    logger,
	}
}

// IsHealthy reports whether the service has its model loaded. A positive
// answer is cached for 30 seconds.
func (d *RemoteDetector) IsHealthy(ctx context.Context) bool {
	d.mu.RLock()
	if time.Since(d.healthCheck) < healthCacheTTL {
		d.mu.RUnlock()
		return true
	}
	d.mu.RUnlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warning("Inference service health check failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	var health healthResponse
	if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&health) != nil || !health.ModelLoaded {
		return false
	}

	d.mu.Lock()
	d.healthCheck = time.Now()
	d.mu.Unlock()
	return true
}

// Detect runs detection on the image at path.
func (d *RemoteDetector) Detect(ctx context.Context, path string) (*Output, error) {
	start := time.Now()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputNotFound, err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputNotFound, err)
	}

	if !d.IsHealthy(ctx) {
		return nil, fmt.Errorf("%w: inference service unavailable", ErrModelNotLoaded)
	}

	result, err := d.infer(ctx, data, filepath.Base(path))
	if err != nil {
		return nil, err
	}

	detections := make([]model.Detection, 0, len(result.Detections))
	for _, rd := range result.Detections {
		if len(rd.BBox) != 4 || !validDetection(rd.Confidence, rd.BBox) || rd.Confidence < d.threshold {
			continue
		}
		label, ok := d.labels.Name(rd.ClassID)
		if !ok {
			continue
		}
		name := rd.Class
		if name == "" {
			name = label
		}
		detections = append(detections, model.Detection{
			ClassID:    rd.ClassID,
			ClassName:  name,
			Confidence: rd.Confidence,
			BBox:       model.NewBoundingBox(rd.BBox[0], rd.BBox[1], rd.BBox[2], rd.BBox[3]),
		})
	}

	annotated, err := d.annotator.Annotate(img, detections)
	if err != nil {
		return nil, err
	}

	metrics := model.Metrics{InferenceMs: result.InferenceTimeMs, TotalMs: result.TotalTimeMs}
	d.logger.Info("Remote detection: %d objects in %.1fms (round trip %s)", len(detections), result.InferenceTimeMs, time.Since(start))

	return &Output{Annotated: annotated, Detections: detections, Metrics: metrics}, nil
}

func (d *RemoteDetector) infer(ctx context.Context, data []byte, filename string) (*remoteResult, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	w.WriteField("conf_threshold", fmt.Sprintf("%.3f", d.threshold))
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/detect", &b)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		d.mu.Lock()
		d.healthCheck = time.Time{}
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: inference service returned 503", ErrModelNotLoaded)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("inference service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result remoteResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode inference response: %w", err)
	}
	return &result, nil
}

// Close releases idle connections to the inference service.
func (d *RemoteDetector) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
