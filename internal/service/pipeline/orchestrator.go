// Package pipeline sequences one image analysis from upload to response.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"neurovision/internal/config"
	"neurovision/internal/dto"
	"neurovision/internal/logger"
	"neurovision/internal/model"
	"neurovision/internal/repository"
	"neurovision/internal/service/ai"
	"neurovision/internal/service/analysis"
	"neurovision/internal/service/publish"
)

// State is a step of one analysis.
type State string

const (
	StateReceived    State = "RECEIVED"
	StateDetecting   State = "DETECTING"
	StateAggregating State = "AGGREGATING"
	StatePublishing  State = "PUBLISHING"
	StatePersisting  State = "PERSISTING"
	StateCompleted   State = "COMPLETED"
	StateFailed      State = "FAILED"
)

var correlationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Request is one uploaded image to analyze.
type Request struct {
	Image         []byte
	Filename      string
	UserID        int64
	CorrelationID string
}

// Orchestrator runs the analysis pipeline. It holds no per-request state and
// may be used by many requests at once.
type Orchestrator struct {
	detector       Detector
	aggregator     *analysis.Aggregator
	publisher      Publisher
	fallback       FallbackStore
	gateway        Gateway
	notifier       Notifier
	tempDir        string
	detectTimeout  time.Duration
	publishTimeout time.Duration
	logger         *logger.Logger
}

func NewOrchestrator(config *config.Config, logger *logger.Logger, detector Detector, aggregator *analysis.Aggregator,
	publisher Publisher, fallback FallbackStore, gateway Gateway) *Orchestrator {
	return &Orchestrator{
		detector:       detector,
		aggregator:     aggregator,
		publisher:      publisher,
		fallback:       fallback,
		gateway:        gateway,
		tempDir:        config.TempDir,
		detectTimeout:  config.DetectTimeout,
		publishTimeout: config.PublishTimeout,
		logger:         logger,
	}
}

// SetNotifier registers a receiver for completed analyses.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.notifier = n
}

// run tracks one request through the pipeline.
type run struct {
	o             *Orchestrator
	correlationID string
	state         State
	tempFiles     []string
	storedName    string
	started       time.Time
}

func (r *run) transition(to State) {
	r.o.logger.Info("[%s] %s -> %s", r.correlationID, r.state, to)
	r.state = to
}

func (r *run) fail(err error) error {
	cause := classify(err)
	stage := r.state
	r.o.logger.Error("[%s] analysis failed during %s: %v", r.correlationID, stage, err)
	r.state = StateFailed
	return &Error{Stage: stage, CorrelationID: r.correlationID, Err: cause}
}

func (r *run) writeTemp(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp(r.o.tempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	r.tempFiles = append(r.tempFiles, f.Name())

	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return f.Name(), nil
}

func (r *run) cleanup() {
	for _, path := range r.tempFiles {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.o.logger.Warning("[%s] failed to remove temp file %s: %v", r.correlationID, path, err)
		}
	}
	r.tempFiles = nil
}

// Analyze runs detection on the uploaded image, publishes the annotated copy
// (or stores it locally) and persists the Image and RecognitionResult in one
// transaction. Temp files are removed on every return path.
func (o *Orchestrator) Analyze(ctx context.Context, req Request) (*dto.AnalysisResult, error) {
	r := &run{o: o, correlationID: req.CorrelationID, state: StateReceived, started: time.Now()}
	if r.correlationID == "" {
		r.correlationID = uuid.NewString()
	}
	defer r.cleanup()

	o.logger.Info("[%s] analysis received from user %d (%d bytes)", r.correlationID, req.UserID, len(req.Image))

	if err := validate(req, r.correlationID); err != nil {
		return nil, r.fail(err)
	}

	uploadPath, err := r.writeTemp("upload-"+uuid.NewString()+"-*"+imageExt(req.Filename), req.Image)
	if err != nil {
		return nil, r.fail(err)
	}

	r.transition(StateDetecting)
	out, err := o.detect(ctx, uploadPath)
	if err != nil {
		return nil, r.fail(err)
	}

	r.transition(StateAggregating)
	summary, err := o.aggregator.Aggregate(out.Detections)
	if err != nil {
		return nil, r.fail(err)
	}
	annotatedPath, err := r.writeTemp("annotated-"+uuid.NewString()+"-*.jpg", out.Annotated)
	if err != nil {
		return nil, r.fail(err)
	}

	r.transition(StatePublishing)
	imageURL, err := o.publish(ctx, r, annotatedPath, out.Annotated)
	if err != nil {
		return nil, r.fail(err)
	}

	r.transition(StatePersisting)
	imageID, resultID, err := o.persist(ctx, r, req.UserID, imageURL, summary, out.Metrics)
	if err != nil {
		if r.storedName != "" {
			if rmErr := o.fallback.Remove(r.storedName); rmErr != nil {
				o.logger.Warning("[%s] failed to remove %s: %v", r.correlationID, r.storedName, rmErr)
			}
		}
		return nil, r.fail(err)
	}

	r.transition(StateCompleted)
	o.logger.Info("[%s] analysis completed in %s: %d objects, accuracy %.3f",
		r.correlationID, time.Since(r.started), summary.ObjectsCount, summary.Accuracy)

	result := &dto.AnalysisResult{
		ImageID:      imageID,
		ResultID:     resultID,
		ImageURL:     imageURL,
		Objects:      summary.Objects,
		Accuracy:     summary.Accuracy,
		Metrics:      dto.Metrics{InferenceTime: out.Metrics.InferenceMs, TotalTime: out.Metrics.TotalMs},
		ObjectsCount: summary.ObjectsCount,
	}

	if o.notifier != nil {
		o.notifier.Notify(req.UserID, dto.AnalysisEvent{
			Type:          "analysis.completed",
			CorrelationID: r.correlationID,
			ImageID:       imageID,
			ImageURL:      imageURL,
			Objects:       summary.Objects,
			Accuracy:      summary.Accuracy,
			CompletedAt:   time.Now().UTC(),
		})
	}

	return result, nil
}

func validate(req Request, correlationID string) error {
	if len(req.Image) == 0 {
		return fmt.Errorf("%w: empty image", ErrInvalidInput)
	}
	if req.UserID <= 0 {
		return fmt.Errorf("%w: missing user", ErrInvalidInput)
	}
	if !correlationIDPattern.MatchString(correlationID) {
		return fmt.Errorf("%w: malformed correlation id", ErrInvalidInput)
	}
	return nil
}

// detect bounds the detector call by detectTimeout. A detector that ignores
// its context is abandoned when the deadline passes.
func (o *Orchestrator) detect(ctx context.Context, path string) (*ai.Output, error) {
	if o.detectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.detectTimeout)
		defer cancel()
	}

	type result struct {
		out *ai.Output
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := o.detector.Detect(ctx, path)
		done <- result{out, err}
	}()

	select {
	case res := <-done:
		if errors.Is(res.err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrDetectTimeout, res.err)
		}
		if res.err == nil && res.out == nil {
			return nil, errors.New("detector returned no output")
		}
		return res.out, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrDetectTimeout, o.detectTimeout)
		}
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) publish(ctx context.Context, r *run, annotatedPath string, data []byte) (string, error) {
	if o.publishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.publishTimeout)
		defer cancel()
	}

	outcome := o.publisher.Publish(ctx, annotatedPath, r.correlationID)
	switch outcome.Kind {
	case publish.KindPublished:
		return outcome.URL, nil

	case publish.KindFallbackNeeded:
		o.logger.Warning("[%s] remote publish unavailable (%v), storing locally", r.correlationID, outcome.Err)
		name := r.correlationID + "_" + filepath.Base(annotatedPath)
		url, err := o.fallback.Store(name, data)
		if err != nil {
			return "", err
		}
		r.storedName = name
		return url, nil

	case publish.KindFatal:
		return "", outcome.Err

	default:
		return "", fmt.Errorf("unknown publish outcome %s", outcome.Kind)
	}
}

func (o *Orchestrator) persist(ctx context.Context, r *run, userID int64, imageURL string,
	summary analysis.Summary, metrics model.Metrics) (int64, int64, error) {
	var imageID, resultID int64

	err := o.gateway.InTx(ctx, func(store repository.AnalysisStore) error {
		img, err := model.NewImage(userID, imageURL, r.correlationID)
		if err != nil {
			return err
		}
		if imageID, err = store.SaveImage(ctx, img); err != nil {
			return err
		}

		res, err := model.NewRecognitionResult(imageID, model.RecognitionInput{
			RecognizedObjects:  summary.RecognizedObjects,
			ProcessedImagePath: imageURL,
			Accuracy:           summary.Accuracy,
			Metrics:            metrics,
			ObjectsCount:       summary.ObjectsCount,
			DetectionDetails:   summary.Details,
		})
		if err != nil {
			return err
		}
		resultID, err = store.SaveRecognitionResult(ctx, res)
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return imageID, resultID, nil
}

func imageExt(filename string) string {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".jpg", ".jpeg", ".png":
		return ext
	default:
		return ".jpg"
	}
}
