package pipeline

import (
	"context"

	"neurovision/internal/dto"
	"neurovision/internal/repository"
	"neurovision/internal/service/ai"
	"neurovision/internal/service/publish"
)

// Detector finds objects in the image stored at path.
type Detector interface {
	Detect(ctx context.Context, path string) (*ai.Output, error)
}

// Publisher pushes an annotated image to a remote host.
type Publisher interface {
	Publish(ctx context.Context, localPath, correlationID string) publish.Outcome
}

// FallbackStore keeps annotated images locally when publishing fails.
type FallbackStore interface {
	Store(name string, data []byte) (string, error)
	Remove(name string) error
}

// Gateway persists the Image and RecognitionResult of an analysis.
type Gateway interface {
	InTx(ctx context.Context, fn func(store repository.AnalysisStore) error) error
}

// Notifier receives completed analyses.
type Notifier interface {
	Notify(userID int64, event dto.AnalysisEvent)
}
