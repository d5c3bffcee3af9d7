package repository

import (
	"context"
	"errors"

	"neurovision/internal/dto"
	"neurovision/internal/model"
)

var (
	// ErrPersistence marks any failure of the relational store.
	ErrPersistence = errors.New("persistence failure")
	ErrEmailTaken  = errors.New("email already registered")
)

// PersistenceError reports the failed operation. It matches ErrPersistence.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "failed to " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// AnalysisStore writes the two records of a completed analysis.
type AnalysisStore interface {
	SaveImage(ctx context.Context, img *model.Image) (int64, error)
	SaveRecognitionResult(ctx context.Context, res *model.RecognitionResult) (int64, error)
}

// Gateway is an AnalysisStore that can also group writes into one transaction.
// Each Save call outside InTx commits on its own.
type Gateway interface {
	AnalysisStore
	InTx(ctx context.Context, fn func(store AnalysisStore) error) error
}

// ImageRepository defines the read and delete operations for images.
type ImageRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Image, error)
	GetAll(ctx context.Context, filter *dto.ImageFilters) ([]model.Image, error)
	GetTotalCount(ctx context.Context, filter *dto.ImageFilters) (int, error)
	GetStats(ctx context.Context, userID int64) (*model.ImageStats, error)

	// Delete removes the image and, by cascade, its recognition results.
	Delete(ctx context.Context, id int64) error
}

// RecognitionRepository defines read operations for recognition results.
type RecognitionRepository interface {
	GetByImageID(ctx context.Context, imageID int64) (*model.RecognitionResult, error)
}

// UserRepository defines the operations for user accounts.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) (int64, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
}
