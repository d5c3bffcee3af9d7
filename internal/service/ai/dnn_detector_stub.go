//go:build !gocv

package ai

import (
	"context"

	"neurovision/internal/config"
	"neurovision/internal/logger"
)

// DNNDetector is unavailable in builds without the gocv tag.
type DNNDetector struct {
	logger *logger.Logger
}

func NewDNNDetector(config *config.Config, labels Labels, logger *logger.Logger) *DNNDetector {
	logger.Warning("Built without gocv; the in-process detector is disabled")
	return &DNNDetector{logger: logger}
}

func (d *DNNDetector) Loaded() bool { return false }

func (d *DNNDetector) Detect(ctx context.Context, path string) (*Output, error) {
	return nil, ErrModelNotLoaded
}

func (d *DNNDetector) Close() error { return nil }
