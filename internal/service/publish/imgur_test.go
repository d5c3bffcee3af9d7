package publish

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"neurovision/internal/config"
	"neurovision/internal/logger"
)

type recordedSleeps struct {
	waits []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func newTestPublisher(t *testing.T, handler http.HandlerFunc) (*ImgurPublisher, *recordedSleeps, string) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewImgurPublisher(&config.Config{
		ImgurClientID:     "client-123",
		ImgurAPIURL:       server.URL,
		UploadMaxAttempts: 3,
		UploadBaseDelay:   5 * time.Second,
	}, logger.NewWriterLogger(io.Discard))
	require.NoError(t, err)

	rec := &recordedSleeps{}
	p.sleep = rec.sleep

	path := filepath.Join(t.TempDir(), "annotated.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg-bytes"), 0644))
	return p, rec, path
}

func successBody(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"data":{"id":"abc","link":"https://i.imgur.com/abc.jpg"},"success":true,"status":200}`)
}

func TestPublish_Success(t *testing.T) {
	var gotAuth, gotTitle, gotData string
	p, rec, path := newTestPublisher(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTitle = r.FormValue("title")
		if file, _, err := r.FormFile("image"); err == nil {
			data, _ := io.ReadAll(file)
			gotData = string(data)
		}
		successBody(w)
	})

	out := p.Publish(context.Background(), path, "corr-1")

	require.Equal(t, KindPublished, out.Kind)
	require.Equal(t, "https://i.imgur.com/abc.jpg", out.URL)
	require.Equal(t, "corr-1", out.CorrelationID)
	require.Equal(t, 1, out.Attempts)
	require.Equal(t, "Client-ID client-123", gotAuth)
	require.Equal(t, "corr-1", gotTitle)
	require.Equal(t, "jpeg-bytes", gotData)
	require.Empty(t, rec.waits)
}

func TestPublish_RateLimitedThenSuccess_LinearBackoff(t *testing.T) {
	var calls int32
	p, rec, path := newTestPublisher(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		successBody(w)
	})

	out := p.Publish(context.Background(), path, "corr-2")

	require.Equal(t, KindPublished, out.Kind)
	require.Equal(t, 3, out.Attempts)
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, rec.waits)
}

func TestPublish_AlwaysRateLimited_FallsBack(t *testing.T) {
	var calls int32
	p, rec, path := newTestPublisher(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	out := p.Publish(context.Background(), path, "corr-3")

	require.Equal(t, KindFallbackNeeded, out.Kind)
	require.ErrorIs(t, out.Err, ErrRateLimited)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
	require.Len(t, rec.waits, 2)
}

func TestPublish_OtherErrorFallsBackImmediately(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"unsuccessful body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"data":{"error":"bad image"},"success":false,"status":400}`)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `<html>`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			p, rec, path := newTestPublisher(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				tt.handler(w, r)
			})

			out := p.Publish(context.Background(), path, "corr")

			require.Equal(t, KindFallbackNeeded, out.Kind)
			require.ErrorIs(t, out.Err, ErrUploadRejected)
			require.Equal(t, int32(1), atomic.LoadInt32(&calls))
			require.Empty(t, rec.waits)
		})
	}
}

func TestPublish_CancelledDuringBackoff(t *testing.T) {
	p, _, path := newTestPublisher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	p.sleep = func(ctx context.Context, d time.Duration) error { return context.DeadlineExceeded }

	out := p.Publish(context.Background(), path, "corr")

	require.Equal(t, KindFallbackNeeded, out.Kind)
	require.ErrorIs(t, out.Err, ErrPublishTimeout)
}

func TestPublish_MissingFileFallsBack(t *testing.T) {
	p, _, _ := newTestPublisher(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	out := p.Publish(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"), "corr")
	require.Equal(t, KindFallbackNeeded, out.Kind)
}

func TestPublish_Unconfigured(t *testing.T) {
	_, err := NewImgurPublisher(&config.Config{}, logger.NewWriterLogger(io.Discard))
	require.ErrorIs(t, err, ErrNotConfigured)

	out := (&ImgurPublisher{}).Publish(context.Background(), "x", "corr")
	require.Equal(t, KindFatal, out.Kind)
	require.ErrorIs(t, out.Err, ErrNotConfigured)

	out = Disabled{}.Publish(context.Background(), "x", "corr")
	require.Equal(t, KindFallbackNeeded, out.Kind)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
