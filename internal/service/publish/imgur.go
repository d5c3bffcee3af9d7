package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"neurovision/internal/config"
	"neurovision/internal/logger"
)

var (
	// ErrRateLimited is returned by the host when too many uploads were made.
	ErrRateLimited = errors.New("image host rate limit reached")
	// ErrUploadRejected covers every other failed upload.
	ErrUploadRejected = errors.New("image host rejected upload")
	// ErrPublishTimeout means the retry budget ran out while waiting.
	ErrPublishTimeout = errors.New("publish timed out")
	// ErrNotConfigured means the publisher was built without credentials.
	ErrNotConfigured = errors.New("image host is not configured")
)

type imgurResponse struct {
	Data struct {
		ID    string `json:"id"`
		Link  string `json:"link"`
		Error any    `json:"error"`
	} `json:"data"`
	Success bool `json:"success"`
	Status  int  `json:"status"`
}

// ImgurPublisher uploads images to an Imgur-compatible API. Rate-limited
// uploads are retried with a linear backoff; anything else fails over at once.
type ImgurPublisher struct {
	clientID    string
	apiURL      string
	maxAttempts int
	baseDelay   time.Duration
	client      *http.Client
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *logger.Logger
}

// NewImgurPublisher builds a publisher from config. It fails when no client id is set.
func NewImgurPublisher(config *config.Config, logger *logger.Logger) (*ImgurPublisher, error) {
	if config.ImgurClientID == "" {
		return nil, ErrNotConfigured
	}

	maxAttempts := config.UploadMaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &ImgurPublisher{
		clientID:    config.ImgurClientID,
		apiURL:      config.ImgurAPIURL,
		maxAttempts: maxAttempts,
		baseDelay:   config.UploadBaseDelay,
		client:      &http.Client{Timeout: 30 * time.Second},
		sleep:       sleepContext,
		logger:      logger,
	}, nil
}

// Publish uploads the file at localPath. It never returns a Fatal outcome
// for remote failures; those always ask for the local fallback.
func (p *ImgurPublisher) Publish(ctx context.Context, localPath, correlationID string) Outcome {
	if p.clientID == "" || p.apiURL == "" {
		return fatal(ErrNotConfigured, correlationID)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		p.logger.Warning("[%s] cannot read %s for upload: %v", correlationID, localPath, err)
		return fallbackNeeded(fmt.Errorf("%w: %v", ErrUploadRejected, err), correlationID, 0)
	}

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		link, err := p.upload(ctx, data, filepath.Base(localPath), correlationID)
		if err == nil {
			p.logger.Info("[%s] uploaded to %s (attempt %d)", correlationID, link, attempt)
			return published(link, correlationID, attempt)
		}

		if ctx.Err() != nil {
			p.logger.Warning("[%s] upload interrupted, using local storage: %v", correlationID, err)
			return fallbackNeeded(fmt.Errorf("%w: %v", ErrPublishTimeout, err), correlationID, attempt)
		}

		if !errors.Is(err, ErrRateLimited) {
			p.logger.Warning("[%s] upload failed, using local storage: %v", correlationID, err)
			return fallbackNeeded(err, correlationID, attempt)
		}

		if attempt == p.maxAttempts {
			break
		}

		wait := time.Duration(attempt) * p.baseDelay
		p.logger.Warning("[%s] rate limited, retrying in %s (attempt %d/%d)", correlationID, wait, attempt, p.maxAttempts)
		if err := p.sleep(ctx, wait); err != nil {
			p.logger.Warning("[%s] gave up waiting for image host: %v", correlationID, err)
			return fallbackNeeded(fmt.Errorf("%w: %v", ErrPublishTimeout, err), correlationID, attempt)
		}
	}

	p.logger.Warning("[%s] rate limited after %d attempts, using local storage", correlationID, p.maxAttempts)
	return fallbackNeeded(ErrRateLimited, correlationID, p.maxAttempts)
}

func (p *ImgurPublisher) upload(ctx context.Context, data []byte, filename, correlationID string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadRejected, err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadRejected, err)
	}
	_ = writer.WriteField("type", "file")
	_ = writer.WriteField("name", correlationID)
	_ = writer.WriteField("title", correlationID)
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadRejected, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/3/image", body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadRejected, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Client-ID "+p.clientID)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadRejected, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrUploadRejected, resp.StatusCode)
	}

	var parsed imgurResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: invalid response: %v", ErrUploadRejected, err)
	}
	if !parsed.Success || parsed.Data.Link == "" {
		return "", fmt.Errorf("%w: host reported status %d", ErrUploadRejected, parsed.Status)
	}

	return parsed.Data.Link, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disabled is used when no image host is configured. Every image goes to
// local storage.
type Disabled struct{}

func (Disabled) Publish(_ context.Context, _ string, correlationID string) Outcome {
	return fallbackNeeded(ErrNotConfigured, correlationID, 0)
}
