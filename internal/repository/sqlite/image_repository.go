package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"neurovision/internal/dto"
	"neurovision/internal/model"
)

// ImageRepository implements repository.ImageRepository for SQLite.
type ImageRepository struct {
	db *DB
}

// NewImageRepository creates a new SQLite image repository.
func NewImageRepository(db *DB) *ImageRepository {
	return &ImageRepository{db: db}
}

func insertImage(ctx context.Context, ex execer, img *model.Image) (int64, error) {
	result, err := ex.ExecContext(ctx, `
		INSERT INTO images (user_id, image_path, correlation_id, uploaded_at)
		VALUES (?, ?, ?, ?)
	`, img.UserID, img.ImagePath, img.CorrelationID, img.UploadedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert image: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read image id: %w", err)
	}
	img.ID = id
	return id, nil
}

// GetByID retrieves an image by its ID. It returns nil when no row matches.
func (r *ImageRepository) GetByID(ctx context.Context, id int64) (*model.Image, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var img model.Image
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT id, user_id, image_path, correlation_id, uploaded_at
		FROM images WHERE id = ?
	`, id).Scan(&img.ID, &img.UserID, &img.ImagePath, &img.CorrelationID, &img.UploadedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return &img, nil
}

// filterClause renders the WHERE conditions shared by GetAll and GetTotalCount.
func filterClause(filter *dto.ImageFilters) (string, []interface{}) {
	clause := " WHERE 1=1"
	args := []interface{}{}

	if filter == nil {
		return clause, args
	}

	if filter.UserID > 0 {
		clause += " AND i.user_id = ?"
		args = append(args, filter.UserID)
	}

	if filter.Object != "" {
		clause += ` AND EXISTS (
			SELECT 1 FROM recognition_results r, json_each(r.recognized_objects) je
			WHERE r.image_id = i.id AND json_extract(je.value, '$.class_name') = ?
		)`
		args = append(args, filter.Object)
	}

	if !filter.DateAfter.IsZero() {
		clause += " AND DATE(i.uploaded_at) >= DATE(?)"
		args = append(args, filter.DateAfter.Format("2006-01-02"))
	}

	if !filter.DateBefore.IsZero() {
		clause += " AND DATE(i.uploaded_at) <= DATE(?)"
		args = append(args, filter.DateBefore.Format("2006-01-02"))
	}

	return clause, args
}

// GetAll retrieves images based on filter criteria, newest first.
func (r *ImageRepository) GetAll(ctx context.Context, filter *dto.ImageFilters) ([]model.Image, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)
	query := `
		SELECT i.id, i.user_id, i.image_path, i.correlation_id, i.uploaded_at
		FROM images i` + where + " ORDER BY i.uploaded_at DESC, i.id DESC"

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	images := []model.Image{}
	for rows.Next() {
		var img model.Image
		if err := rows.Scan(&img.ID, &img.UserID, &img.ImagePath, &img.CorrelationID, &img.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, img)
	}

	return images, rows.Err()
}

// GetTotalCount returns the total count of images matching the filter.
func (r *ImageRepository) GetTotalCount(ctx context.Context, filter *dto.ImageFilters) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)

	var count int
	if err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM images i`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count images: %w", err)
	}

	return count, nil
}

// GetStats returns statistics about stored analyses. A userID of 0 covers all users.
func (r *ImageRepository) GetStats(ctx context.Context, userID int64) (*model.ImageStats, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	stats := &model.ImageStats{
		ObjectCounts: make(map[string]int),
	}

	userFilter := " WHERE (? = 0 OR i.user_id = ?)"

	if err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM images i`+userFilter, userID, userID).Scan(&stats.TotalImages); err != nil {
		return nil, fmt.Errorf("failed to count images: %w", err)
	}

	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT COALESCE(SUM(r.objects_count), 0), COALESCE(AVG(r.accuracy), 0)
		FROM recognition_results r
		JOIN images i ON i.id = r.image_id`+userFilter, userID, userID).Scan(&stats.TotalObjects, &stats.AvgAccuracy)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate results: %w", err)
	}

	// Most detected objects
	rows, err := r.db.Conn().QueryContext(ctx, `
		SELECT json_extract(je.value, '$.class_name') AS name, COUNT(*) AS cnt
		FROM recognition_results r
		JOIN images i ON i.id = r.image_id,
		json_each(r.recognized_objects) je`+userFilter+`
		GROUP BY name
		ORDER BY cnt DESC
		LIMIT 10
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query object counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name sql.NullString
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("failed to scan object count: %w", err)
		}
		if name.Valid {
			stats.ObjectCounts[name.String] = count
		}
	}

	return stats, rows.Err()
}

// Delete removes an image by its ID. Recognition results go with it.
func (r *ImageRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete image: %w", err)
		}
		return nil
	})
}

// ExistsByPath reports whether any image references path.
func (r *ImageRepository) ExistsByPath(ctx context.Context, path string) (bool, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var exists bool
	err := r.db.Conn().QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM images WHERE image_path = ?)`, path).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up image path: %w", err)
	}
	return exists, nil
}
