package store

import (
	"context"
	"database/sql"
	"fmt"
)

// WorkerCursorRepository owns the worker_cursors table: small bits of
// operator-visible progress state that belong in the database rather
// than an external parameter store (spec §4.8 cleanup-warm).
type WorkerCursorRepository struct {
	client *Client
}

func NewWorkerCursorRepository(client *Client) *WorkerCursorRepository {
	return &WorkerCursorRepository{client: client}
}

// Get returns the cursor's current value, or ErrCursorNotFound if unset.
func (r *WorkerCursorRepository) Get(ctx context.Context, name string) (string, error) {
	var value string
	err := r.client.DB().QueryRowContext(ctx, `SELECT value FROM worker_cursors WHERE name = $1`, name).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrCursorNotFound
		}
		return "", fmt.Errorf("store: get cursor %s: %w", name, err)
	}
	return value, nil
}

// Set upserts a cursor's value.
func (r *WorkerCursorRepository) Set(ctx context.Context, name, value string) error {
	_, err := r.client.DB().ExecContext(ctx, `
		INSERT INTO worker_cursors (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, name, value)
	if err != nil {
		return fmt.Errorf("store: set cursor %s: %w", name, err)
	}
	return nil
}
