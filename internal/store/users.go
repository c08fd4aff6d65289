package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User is an account row. Registration and credentials live outside this
// service; the row exists so recordings and jobs have an owner to reference.
type User struct {
	ID          uuid.UUID
	Email       string
	DisplayName string
	CreatedAt   time.Time
}

// CreateUser inserts a user and returns the created row.
func (s *Store) CreateUser(ctx context.Context, email, displayName string) (*User, error) {
	const q = `
		INSERT INTO users (email, display_name)
		VALUES ($1, $2)
		RETURNING id, email, display_name, created_at`
	var u User
	err := s.db.QueryRowContext(ctx, q, email, displayName).
		Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

// GetUserByID returns the user with the given id, or (nil, nil) if not found.
func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	const q = `SELECT id, email, display_name, created_at FROM users WHERE id = $1`
	var u User
	err := s.db.QueryRowContext(ctx, q, id).
		Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
