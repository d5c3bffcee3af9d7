package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"neurovision/internal/config"
	"neurovision/internal/dto"
	"neurovision/internal/logger"
	"neurovision/internal/model"
	"neurovision/internal/repository"
	"neurovision/internal/repository/sqlite"
	"neurovision/internal/service/ai"
	"neurovision/internal/service/analysis"
	"neurovision/internal/service/publish"
	"neurovision/internal/service/storage"
)

// ========================================
// Fakes
// ========================================

type fakeDetector struct {
	out      *ai.Output
	err      error
	block    chan struct{}
	sawInput bool
}

func (d *fakeDetector) Detect(ctx context.Context, path string) (*ai.Output, error) {
	_, err := os.Stat(path)
	d.sawInput = err == nil
	if d.block != nil {
		<-d.block
	}
	return d.out, d.err
}

type fakePublisher struct {
	outcome publish.Outcome
	calls   int
	sawFile bool
}

func (p *fakePublisher) Publish(ctx context.Context, localPath, correlationID string) publish.Outcome {
	p.calls++
	_, err := os.Stat(localPath)
	p.sawFile = err == nil
	out := p.outcome
	out.CorrelationID = correlationID
	return out
}

type fakeStore struct {
	mu      sync.Mutex
	err     error
	stored  []string
	removed []string
}

func (s *fakeStore) Store(name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.stored = append(s.stored, name)
	return "/uploads/public/" + name, nil
}

func (s *fakeStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, name)
	return nil
}

type failingGateway struct {
	calls int
}

func (g *failingGateway) InTx(ctx context.Context, fn func(store repository.AnalysisStore) error) error {
	g.calls++
	return &repository.PersistenceError{Op: "commit analysis", Err: errors.New("disk I/O error")}
}

type recordingNotifier struct {
	events []dto.AnalysisEvent
}

func (n *recordingNotifier) Notify(userID int64, event dto.AnalysisEvent) {
	n.events = append(n.events, event)
}

// ========================================
// Helpers
// ========================================

type harness struct {
	orch     *Orchestrator
	tempDir  string
	db       *sqlite.DB
	userID   int64
	detector *fakeDetector
	pub      *fakePublisher
	store    *fakeStore
	notifier *recordingNotifier
}

func newHarness(t *testing.T, dets []model.Detection) *harness {
	t.Helper()

	tempDir := t.TempDir()
	cfg := &config.Config{TempDir: tempDir, DetectTimeout: time.Second, PublishTimeout: time.Second}

	db, err := sqlite.New(sqlite.DriverPure, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	userID, err := sqlite.NewUserRepository(db).Create(context.Background(), &model.User{Email: "u@example.com", PasswordHash: "x"})
	require.NoError(t, err)

	total := 20.0
	h := &harness{
		tempDir: tempDir,
		db:      db,
		userID:  userID,
		detector: &fakeDetector{out: &ai.Output{
			Annotated:  []byte("annotated-jpeg"),
			Detections: dets,
			Metrics:    model.Metrics{InferenceMs: 12.5, TotalMs: &total},
		}},
		pub:      &fakePublisher{outcome: publish.Outcome{Kind: publish.KindPublished, URL: "https://i.imgur.com/x.jpg"}},
		store:    &fakeStore{},
		notifier: &recordingNotifier{},
	}

	h.orch = NewOrchestrator(cfg, logger.NewWriterLogger(io.Discard), h.detector, analysis.NewAggregator("test-model"),
		h.pub, h.store, sqlite.NewGateway(db))
	h.orch.SetNotifier(h.notifier)
	return h
}

func (h *harness) request() Request {
	return Request{Image: []byte("raw-upload"), Filename: "photo.PNG", UserID: h.userID, CorrelationID: "corr-123"}
}

func (h *harness) requireTempDirEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.tempDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func (h *harness) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, h.db.Conn().QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func requireStage(t *testing.T, err error, stage State) {
	t.Helper()
	var perr *Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, stage, perr.Stage)
}

var twoDetections = []model.Detection{
	{ClassID: 17, ClassName: "cat", Confidence: 0.9, BBox: model.NewBoundingBox(0, 0, 10, 10)},
	{ClassID: 18, ClassName: "dog", Confidence: 0.7, BBox: model.NewBoundingBox(5, 5, 20, 20)},
}

// ========================================
// Success paths
// ========================================

func TestAnalyze_TwoDetections(t *testing.T) {
	h := newHarness(t, twoDetections)

	res, err := h.orch.Analyze(context.Background(), h.request())
	require.NoError(t, err)

	require.InDelta(t, 0.8, res.Accuracy, 1e-9)
	require.Equal(t, []string{"cat", "dog"}, res.Objects)
	require.Equal(t, 2, res.ObjectsCount)
	require.Equal(t, "https://i.imgur.com/x.jpg", res.ImageURL)
	require.Equal(t, 12.5, res.Metrics.InferenceTime)
	require.Equal(t, 20.0, *res.Metrics.TotalTime)
	require.Positive(t, res.ImageID)

	require.True(t, h.detector.sawInput)
	require.True(t, h.pub.sawFile)
	require.Equal(t, 1, h.count(t, "images"))
	require.Equal(t, 1, h.count(t, "recognition_results"))
	require.Empty(t, h.store.stored)
	h.requireTempDirEmpty(t)

	stored, err := sqlite.NewRecognitionRepository(h.db).GetByImageID(context.Background(), res.ImageID)
	require.NoError(t, err)
	require.Equal(t, res.ResultID, stored.ID)
	require.Equal(t, stored.Accuracy, stored.ConfidenceAvg)

	details, err := analysis.DecodeDetails([]byte(stored.DetectionDetails))
	require.NoError(t, err)
	require.Equal(t, "test-model", details.ModelVersion)
	require.Len(t, details.Detections, 2)

	img, err := sqlite.NewImageRepository(h.db).GetByID(context.Background(), res.ImageID)
	require.NoError(t, err)
	require.Equal(t, "corr-123", img.CorrelationID)

	require.Len(t, h.notifier.events, 1)
	require.Equal(t, res.ImageID, h.notifier.events[0].ImageID)
}

func TestAnalyze_NoDetectionsStillPersists(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.orch.Analyze(context.Background(), h.request())
	require.NoError(t, err)
	require.Equal(t, 0.0, res.Accuracy)
	require.NotNil(t, res.Objects)
	require.Empty(t, res.Objects)
	require.Equal(t, 0, res.ObjectsCount)
	require.Equal(t, 1, h.count(t, "recognition_results"))
	h.requireTempDirEmpty(t)
}

func TestAnalyze_GeneratesCorrelationID(t *testing.T) {
	h := newHarness(t, nil)
	req := h.request()
	req.CorrelationID = ""

	res, err := h.orch.Analyze(context.Background(), req)
	require.NoError(t, err)

	img, err := sqlite.NewImageRepository(h.db).GetByID(context.Background(), res.ImageID)
	require.NoError(t, err)
	require.Len(t, img.CorrelationID, 36)
}

func TestAnalyze_RepeatedUploadsAreNotDeduplicated(t *testing.T) {
	h := newHarness(t, twoDetections)

	for i := 0; i < 2; i++ {
		_, err := h.orch.Analyze(context.Background(), h.request())
		require.NoError(t, err)
	}
	require.Equal(t, 2, h.count(t, "images"))
	require.Equal(t, 2, h.count(t, "recognition_results"))
}

func TestAnalyze_FallbackWhenPublishUnavailable(t *testing.T) {
	h := newHarness(t, twoDetections)
	h.pub.outcome = publish.Outcome{Kind: publish.KindFallbackNeeded, Err: publish.ErrRateLimited}

	res, err := h.orch.Analyze(context.Background(), h.request())
	require.NoError(t, err)

	require.Equal(t, 1, h.pub.calls)
	require.Len(t, h.store.stored, 1)
	require.True(t, strings.HasPrefix(h.store.stored[0], "corr-123_"))
	require.Equal(t, "/uploads/public/"+h.store.stored[0], res.ImageURL)
	require.Equal(t, 1, h.count(t, "images"))
	h.requireTempDirEmpty(t)
}

func TestAnalyze_FallbackWithRealStore(t *testing.T) {
	h := newHarness(t, twoDetections)
	h.pub.outcome = publish.Outcome{Kind: publish.KindFallbackNeeded, Err: publish.ErrRateLimited}

	uploadRoot := t.TempDir()
	fsStore := storage.NewFallbackStore(&config.Config{UploadRoot: uploadRoot}, logger.NewWriterLogger(io.Discard))
	h.orch.fallback = fsStore

	res, err := h.orch.Analyze(context.Background(), h.request())
	require.NoError(t, err)

	name, ok := fsStore.NameFromURL(res.ImageURL)
	require.True(t, ok)
	data, err := os.ReadFile(filepath.Join(uploadRoot, "public", name))
	require.NoError(t, err)
	require.Equal(t, "annotated-jpeg", string(data))
}

// ========================================
// Failure paths
// ========================================

func TestAnalyze_DetectorFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"model not loaded", ai.ErrModelNotLoaded, ai.ErrModelNotLoaded},
		{"input not found", ai.ErrInputNotFound, ai.ErrInputNotFound},
		{"unexpected", errors.New("segfault in native code"), ErrUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.detector.out = nil
			h.detector.err = tt.err

			res, err := h.orch.Analyze(context.Background(), h.request())
			require.Nil(t, res)
			require.ErrorIs(t, err, tt.wantErr)
			requireStage(t, err, StateDetecting)

			require.Equal(t, 0, h.pub.calls)
			require.Equal(t, 0, h.count(t, "images"))
			require.Empty(t, h.notifier.events)
			h.requireTempDirEmpty(t)
		})
	}
}

func TestAnalyze_DetectTimeout(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.detectTimeout = 20 * time.Millisecond
	h.detector.block = make(chan struct{})
	defer close(h.detector.block)

	_, err := h.orch.Analyze(context.Background(), h.request())
	require.ErrorIs(t, err, ErrDetectTimeout)
	requireStage(t, err, StateDetecting)
	require.Equal(t, "detection took too long", SafeMessage(err))
	h.requireTempDirEmpty(t)
}

func TestAnalyze_FallbackStoreFailure(t *testing.T) {
	h := newHarness(t, twoDetections)
	h.pub.outcome = publish.Outcome{Kind: publish.KindFallbackNeeded, Err: publish.ErrRateLimited}
	h.store.err = &storage.WriteError{Path: "/uploads/public/x.jpg", Err: errors.New("no space left on device")}

	_, err := h.orch.Analyze(context.Background(), h.request())
	require.ErrorIs(t, err, storage.ErrStorageWrite)
	requireStage(t, err, StatePublishing)
	require.Equal(t, 0, h.count(t, "images"))
	h.requireTempDirEmpty(t)
}

func TestAnalyze_FatalPublishOutcome(t *testing.T) {
	h := newHarness(t, twoDetections)
	h.pub.outcome = publish.Outcome{Kind: publish.KindFatal, Err: publish.ErrNotConfigured}

	_, err := h.orch.Analyze(context.Background(), h.request())
	require.ErrorIs(t, err, publish.ErrNotConfigured)
	requireStage(t, err, StatePublishing)
	require.Empty(t, h.store.stored)
	h.requireTempDirEmpty(t)
}

func TestAnalyze_PersistenceFailureRemovesFallbackFile(t *testing.T) {
	h := newHarness(t, twoDetections)
	h.pub.outcome = publish.Outcome{Kind: publish.KindFallbackNeeded, Err: publish.ErrUploadRejected}
	gw := &failingGateway{}
	h.orch.gateway = gw

	_, err := h.orch.Analyze(context.Background(), h.request())
	require.ErrorIs(t, err, repository.ErrPersistence)
	requireStage(t, err, StatePersisting)
	require.Equal(t, 1, gw.calls)
	require.Equal(t, h.store.stored, h.store.removed)
	require.Equal(t, "could not save the analysis", SafeMessage(err))
	require.NotContains(t, SafeMessage(err), "disk")
	h.requireTempDirEmpty(t)
}

func TestAnalyze_InvalidInput(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name   string
		mutate func(r *Request)
	}{
		{"empty image", func(r *Request) { r.Image = nil }},
		{"no user", func(r *Request) { r.UserID = 0 }},
		{"bad correlation id", func(r *Request) { r.CorrelationID = "../../etc" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := h.request()
			tt.mutate(&req)

			_, err := h.orch.Analyze(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidInput)
			requireStage(t, err, StateReceived)
		})
	}
	require.False(t, h.detector.sawInput)
	h.requireTempDirEmpty(t)
}

func TestImageExt(t *testing.T) {
	require.Equal(t, ".png", imageExt("a.PNG"))
	require.Equal(t, ".jpeg", imageExt("a.jpeg"))
	require.Equal(t, ".jpg", imageExt("noext"))
	require.Equal(t, ".jpg", imageExt("evil.sh"))
}
