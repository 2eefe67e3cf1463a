package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BundleTransactionRepository owns the bundle_txs table.
type BundleTransactionRepository struct {
	client *Client
}

func NewBundleTransactionRepository(client *Client) *BundleTransactionRepository {
	return &BundleTransactionRepository{client: client}
}

// Create records a bundle transaction once the chain has assigned its
// id (the poster stage calls this right after SubmitTx succeeds, not
// before, since the chain gateway is the id's source of truth).
func (r *BundleTransactionRepository) Create(ctx context.Context, tx *sql.Tx, txID string, planID uuid.UUID, payloadSize int64, reward decimal.Decimal) (*BundleTx, error) {
	bt := &BundleTx{
		TxID:        txID,
		PlanID:      planID,
		Reward:      reward,
		PayloadSize: payloadSize,
		Status:      BundleTxStatusPrepared,
	}
	err := r.queryRow(ctx, tx, `
		INSERT INTO bundle_txs (tx_id, plan_id, reward, payload_size, status)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at, updated_at`,
		bt.TxID, bt.PlanID, bt.Reward, bt.PayloadSize, bt.Status,
	).Scan(&bt.CreatedAt, &bt.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create bundle tx: %w", err)
	}
	return bt, nil
}

// MarkPosted records the submit-time native/USD rate and posted_at, per
// the poster stage (spec §4.8).
func (r *BundleTransactionRepository) MarkPosted(ctx context.Context, tx *sql.Tx, txID string, nativeRate decimal.Decimal, postedAt time.Time) error {
	_, err := r.exec(ctx, tx, `
		UPDATE bundle_txs SET status = $1, native_rate = $2, posted_at = $3, updated_at = now()
		WHERE tx_id = $4`, BundleTxStatusPosted, nativeRate, postedAt, txID)
	if err != nil {
		return fmt.Errorf("store: mark bundle tx posted: %w", err)
	}
	return nil
}

// SetStatus transitions a bundle tx (posted -> permanent | dropped).
func (r *BundleTransactionRepository) SetStatus(ctx context.Context, tx *sql.Tx, txID, status string) error {
	_, err := r.exec(ctx, tx, `
		UPDATE bundle_txs SET status = $1, updated_at = now() WHERE tx_id = $2`, status, txID)
	if err != nil {
		return fmt.Errorf("store: set bundle tx status: %w", err)
	}
	return nil
}

// ByID fetches a single bundle transaction.
func (r *BundleTransactionRepository) ByID(ctx context.Context, tx *sql.Tx, txID string) (*BundleTx, error) {
	row := r.queryRow(ctx, tx, `
		SELECT tx_id, plan_id, reward, native_rate, payload_size, posted_at, status, created_at, updated_at
		FROM bundle_txs WHERE tx_id = $1`, txID)
	return scanBundleTx(row)
}

// ByStatus lists bundle transactions in a given status, oldest posted
// first, used by the verifier to find confirmations to check.
func (r *BundleTransactionRepository) ByStatus(ctx context.Context, tx *sql.Tx, status string, limit int) ([]*BundleTx, error) {
	rows, err := r.query(ctx, tx, `
		SELECT tx_id, plan_id, reward, native_rate, payload_size, posted_at, status, created_at, updated_at
		FROM bundle_txs WHERE status = $1 ORDER BY posted_at ASC NULLS LAST LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list bundle txs by status: %w", err)
	}
	defer rows.Close()

	var out []*BundleTx
	for rows.Next() {
		bt, err := scanBundleTxRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bt)
	}
	return out, rows.Err()
}

func scanBundleTx(row *sql.Row) (*BundleTx, error) {
	bt := &BundleTx{}
	var nativeRate sql.NullString
	var postedAt sql.NullTime
	err := row.Scan(&bt.TxID, &bt.PlanID, &bt.Reward, &nativeRate, &bt.PayloadSize, &postedAt, &bt.Status, &bt.CreatedAt, &bt.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrBundleTxNotFound
		}
		return nil, fmt.Errorf("store: scan bundle tx: %w", err)
	}
	return finishBundleTxScan(bt, nativeRate, postedAt)
}

func scanBundleTxRows(rows *sql.Rows) (*BundleTx, error) {
	bt := &BundleTx{}
	var nativeRate sql.NullString
	var postedAt sql.NullTime
	err := rows.Scan(&bt.TxID, &bt.PlanID, &bt.Reward, &nativeRate, &bt.PayloadSize, &postedAt, &bt.Status, &bt.CreatedAt, &bt.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: scan bundle tx row: %w", err)
	}
	return finishBundleTxScan(bt, nativeRate, postedAt)
}

func finishBundleTxScan(bt *BundleTx, nativeRate sql.NullString, postedAt sql.NullTime) (*BundleTx, error) {
	if nativeRate.Valid {
		rate, err := decimal.NewFromString(nativeRate.String)
		if err != nil {
			return nil, fmt.Errorf("store: parse native_rate: %w", err)
		}
		bt.NativeRate = &rate
	}
	if postedAt.Valid {
		bt.PostedAt = &postedAt.Time
	}
	return bt, nil
}

func (r *BundleTransactionRepository) exec(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return r.client.DB().ExecContext(ctx, query, args...)
}

func (r *BundleTransactionRepository) queryRow(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) *sql.Row {
	if tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return r.client.DB().QueryRowContext(ctx, query, args...)
}

func (r *BundleTransactionRepository) query(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (*sql.Rows, error) {
	if tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return r.client.DB().QueryContext(ctx, query, args...)
}
