package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"neurovision/internal/model"
)

// RecognitionRepository implements repository.RecognitionRepository for SQLite.
type RecognitionRepository struct {
	db *DB
}

// NewRecognitionRepository creates a new SQLite recognition result repository.
func NewRecognitionRepository(db *DB) *RecognitionRepository {
	return &RecognitionRepository{db: db}
}

func insertRecognitionResult(ctx context.Context, ex execer, res *model.RecognitionResult) (int64, error) {
	result, err := ex.ExecContext(ctx, `
		INSERT INTO recognition_results (
			image_id, recognized_objects, processed_image_path, accuracy, confidence_avg,
			inference_time_ms, total_time_ms, objects_count, detection_details, analyzed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, res.ImageID, res.RecognizedObjects, res.ProcessedImagePath, res.Accuracy, res.ConfidenceAvg,
		nullFloat(res.InferenceTimeMs), nullFloat(res.TotalTimeMs), res.ObjectsCount, res.DetectionDetails,
		res.AnalyzedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert recognition result: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read recognition result id: %w", err)
	}
	res.ID = id
	return id, nil
}

// GetByImageID returns the recognition result of an image, or nil.
func (r *RecognitionRepository) GetByImageID(ctx context.Context, imageID int64) (*model.RecognitionResult, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var (
		res       model.RecognitionResult
		inference sql.NullFloat64
		total     sql.NullFloat64
	)
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT id, image_id, recognized_objects, processed_image_path, accuracy, confidence_avg,
			inference_time_ms, total_time_ms, objects_count, detection_details, analyzed_at
		FROM recognition_results
		WHERE image_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, imageID).Scan(&res.ID, &res.ImageID, &res.RecognizedObjects, &res.ProcessedImagePath, &res.Accuracy,
		&res.ConfidenceAvg, &inference, &total, &res.ObjectsCount, &res.DetectionDetails, &res.AnalyzedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recognition result: %w", err)
	}

	res.InferenceTimeMs = floatPtr(inference)
	res.TotalTimeMs = floatPtr(total)
	return &res, nil
}

// CountByImageID is used by the migrate tool and tests.
func (r *RecognitionRepository) CountByImageID(ctx context.Context, imageID int64) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM recognition_results WHERE image_id = ?`, imageID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recognition results: %w", err)
	}
	return count, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
