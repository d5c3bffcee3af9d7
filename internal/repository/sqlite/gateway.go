package sqlite

import (
	"context"
	"database/sql"

	"neurovision/internal/model"
	"neurovision/internal/repository"
)

// Gateway implements repository.Gateway for SQLite.
type Gateway struct {
	db *DB
}

// NewGateway creates the persistence gateway used by the analysis pipeline.
func NewGateway(db *DB) *Gateway {
	return &Gateway{db: db}
}

// SaveImage inserts an image in its own transaction.
func (g *Gateway) SaveImage(ctx context.Context, img *model.Image) (int64, error) {
	var id int64
	err := g.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = insertImage(ctx, tx, img)
		return err
	})
	if err != nil {
		return 0, &repository.PersistenceError{Op: "save image", Err: err}
	}
	return id, nil
}

// SaveRecognitionResult inserts a recognition result in its own transaction.
func (g *Gateway) SaveRecognitionResult(ctx context.Context, res *model.RecognitionResult) (int64, error) {
	var id int64
	err := g.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = insertRecognitionResult(ctx, tx, res)
		return err
	})
	if err != nil {
		return 0, &repository.PersistenceError{Op: "save recognition result", Err: err}
	}
	return id, nil
}

// InTx runs fn against a store bound to a single transaction. Nothing fn
// wrote is kept unless fn returns nil and the commit succeeds.
func (g *Gateway) InTx(ctx context.Context, fn func(store repository.AnalysisStore) error) error {
	var fnErr error
	err := g.db.WithTx(ctx, func(tx *sql.Tx) error {
		fnErr = fn(&txStore{tx: tx})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return &repository.PersistenceError{Op: "commit analysis", Err: err}
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (s *txStore) SaveImage(ctx context.Context, img *model.Image) (int64, error) {
	id, err := insertImage(ctx, s.tx, img)
	if err != nil {
		return 0, &repository.PersistenceError{Op: "save image", Err: err}
	}
	return id, nil
}

func (s *txStore) SaveRecognitionResult(ctx context.Context, res *model.RecognitionResult) (int64, error) {
	id, err := insertRecognitionResult(ctx, s.tx, res)
	if err != nil {
		return 0, &repository.PersistenceError{Op: "save recognition result", Err: err}
	}
	return id, nil
}
