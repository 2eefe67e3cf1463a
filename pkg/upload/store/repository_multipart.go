package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// MultipartSessionRepository owns the multipart_sessions table.
type MultipartSessionRepository struct {
	client *Client
}

func NewMultipartSessionRepository(client *Client) *MultipartSessionRepository {
	return &MultipartSessionRepository{client: client}
}

// Create opens a new session in status created.
func (r *MultipartSessionRepository) Create(ctx context.Context, tx *sql.Tx, ownerAddress string, declaredSize, chunkSize int64) (*MultipartSession, error) {
	sess := &MultipartSession{
		ID:           uuid.New(),
		OwnerAddress: ownerAddress,
		DeclaredSize: declaredSize,
		ChunkSize:    chunkSize,
		Status:       SessionStatusCreated,
	}
	err := r.queryRow(ctx, tx, `
		INSERT INTO multipart_sessions (id, owner_address, declared_size, chunk_size, uploaded_offsets, status)
		VALUES ($1, $2, $3, $4, '[]', $5) RETURNING created_at, updated_at`,
		sess.ID, sess.OwnerAddress, sess.DeclaredSize, sess.ChunkSize, sess.Status,
	).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create multipart session: %w", err)
	}
	return sess, nil
}

// ByID fetches a single session.
func (r *MultipartSessionRepository) ByID(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*MultipartSession, error) {
	row := r.queryRow(ctx, tx, `
		SELECT id, owner_address, declared_size, chunk_size, uploaded_offsets, status, created_at, updated_at
		FROM multipart_sessions WHERE id = $1`, id)
	return scanSession(row)
}

// RecordChunk appends offset to the session's uploaded set (deduplicated,
// kept sorted) and moves a created session to in-progress.
func (r *MultipartSessionRepository) RecordChunk(ctx context.Context, tx *sql.Tx, id uuid.UUID, offset int64) (*MultipartSession, error) {
	sess, err := r.ByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !containsOffset(sess.UploadedOffsets, offset) {
		sess.UploadedOffsets = append(sess.UploadedOffsets, offset)
		sort.Slice(sess.UploadedOffsets, func(i, j int) bool { return sess.UploadedOffsets[i] < sess.UploadedOffsets[j] })
	}
	status := sess.Status
	if status == SessionStatusCreated {
		status = SessionStatusInProgress
	}

	offsetsJSON, err := json.Marshal(sess.UploadedOffsets)
	if err != nil {
		return nil, fmt.Errorf("store: encode uploaded_offsets: %w", err)
	}
	_, err = r.exec(ctx, tx, `
		UPDATE multipart_sessions SET uploaded_offsets = $1, status = $2, updated_at = now() WHERE id = $3`,
		offsetsJSON, status, id)
	if err != nil {
		return nil, fmt.Errorf("store: record chunk: %w", err)
	}
	sess.Status = status
	return sess, nil
}

// SetStatus transitions a session (in-progress -> finalized | aborted).
func (r *MultipartSessionRepository) SetStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status string) error {
	_, err := r.exec(ctx, tx, `
		UPDATE multipart_sessions SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("store: set session status: %w", err)
	}
	return nil
}

func containsOffset(offsets []int64, target int64) bool {
	for _, o := range offsets {
		if o == target {
			return true
		}
	}
	return false
}

func scanSession(row *sql.Row) (*MultipartSession, error) {
	sess := &MultipartSession{}
	var offsetsJSON []byte
	err := row.Scan(&sess.ID, &sess.OwnerAddress, &sess.DeclaredSize, &sess.ChunkSize, &offsetsJSON, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("store: scan multipart session: %w", err)
	}
	if len(offsetsJSON) > 0 {
		if err := json.Unmarshal(offsetsJSON, &sess.UploadedOffsets); err != nil {
			return nil, fmt.Errorf("store: decode uploaded_offsets: %w", err)
		}
	}
	return sess, nil
}

func (r *MultipartSessionRepository) exec(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return r.client.DB().ExecContext(ctx, query, args...)
}

func (r *MultipartSessionRepository) queryRow(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) *sql.Row {
	if tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return r.client.DB().QueryRowContext(ctx, query, args...)
}
