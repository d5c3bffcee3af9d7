package pipeline

import (
	"context"
	"errors"
	"fmt"

	"neurovision/internal/repository"
	"neurovision/internal/service/ai"
	"neurovision/internal/service/publish"
	"neurovision/internal/service/storage"
)

var (
	ErrInvalidInput  = errors.New("invalid analysis request")
	ErrDetectTimeout = errors.New("detection timed out")
	ErrUnexpected    = errors.New("unexpected pipeline failure")
)

// Error is returned by Analyze. Stage is the state the pipeline was in when
// it failed; Err is the cause.
type Error struct {
	Stage         State
	CorrelationID string
	Err           error
}

func (e *Error) Error() string {
	return fmt.Sprintf("analysis %s failed during %s: %v", e.CorrelationID, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// classify wraps causes that are not one of the known kinds with ErrUnexpected.
func classify(err error) error {
	known := []error{
		ErrInvalidInput,
		ErrDetectTimeout,
		ai.ErrModelNotLoaded,
		ai.ErrInputNotFound,
		publish.ErrNotConfigured,
		storage.ErrStorageWrite,
		repository.ErrPersistence,
		context.Canceled,
	}
	for _, k := range known {
		if errors.Is(err, k) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrUnexpected, err)
}

// SafeMessage returns a client-facing description of err that never
// includes internal details.
func SafeMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid image upload"
	case errors.Is(err, ai.ErrModelNotLoaded):
		return "detection model is not available"
	case errors.Is(err, ai.ErrInputNotFound):
		return "uploaded file is not a readable image"
	case errors.Is(err, ErrDetectTimeout):
		return "detection took too long"
	case errors.Is(err, storage.ErrStorageWrite):
		return "could not store the processed image"
	case errors.Is(err, repository.ErrPersistence):
		return "could not save the analysis"
	case errors.Is(err, publish.ErrNotConfigured):
		return "image publishing is misconfigured"
	case errors.Is(err, context.Canceled):
		return "request was cancelled"
	default:
		return "internal error"
	}
}
