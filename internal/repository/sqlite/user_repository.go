package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"neurovision/internal/model"
	"neurovision/internal/repository"
)

// UserRepository implements repository.UserRepository for SQLite.
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new SQLite user repository.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a user. Emails are stored lower-cased.
func (r *UserRepository) Create(ctx context.Context, user *model.User) (int64, error) {
	now := time.Now().UTC()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = now
	user.UpdatedAt = now

	var id int64
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO users (email, password_hash, full_name, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, user.Email, user.PasswordHash, user.FullName, user.CreatedAt, user.UpdatedAt)
		if err != nil {
			return err
		}
		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, repository.ErrEmailTaken
		}
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}

	user.ID = id
	return id, nil
}

// GetByEmail returns the user with the given email, or nil.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, `WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
}

// GetByID returns the user with the given id, or nil.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return r.getOne(ctx, `WHERE id = ?`, id)
}

func (r *UserRepository) getOne(ctx context.Context, where string, arg interface{}) (*model.User, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var u model.User
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT id, email, password_hash, full_name, created_at, updated_at
		FROM users `+where, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.CreatedAt, &u.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}
