package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReservationRepository owns the reservations table, keyed uniquely by
// data item id so reserve is idempotent on retry (spec §8).
type ReservationRepository struct {
	client *Client
}

func NewReservationRepository(client *Client) *ReservationRepository {
	return &ReservationRepository{client: client}
}

// Create inserts a reservation. If a reservation already exists for
// dataItemID, it is returned unchanged (idempotent reserve).
func (r *ReservationRepository) Create(ctx context.Context, tx *sql.Tx, dataItemID, grantee string, amount decimal.Decimal, overflow []OverflowEntry) (*Reservation, error) {
	if existing, err := r.ByItemID(ctx, tx, dataItemID); err == nil {
		return existing, nil
	} else if err != ErrReservationNotFound {
		return nil, err
	}

	overflowJSON, err := json.Marshal(overflow)
	if err != nil {
		return nil, fmt.Errorf("store: encode overflow: %w", err)
	}

	res := &Reservation{ID: uuid.New(), DataItemID: dataItemID, Grantee: grantee, Amount: amount, Overflow: overflow}
	err = r.queryRow(ctx, tx,
		`INSERT INTO reservations (id, data_item_id, grantee, amount, overflow)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		res.ID, res.DataItemID, res.Grantee, res.Amount, overflowJSON,
	).Scan(&res.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create reservation: %w", err)
	}
	return res, nil
}

// ByItemID looks up the reservation for a data item, if any.
func (r *ReservationRepository) ByItemID(ctx context.Context, tx *sql.Tx, dataItemID string) (*Reservation, error) {
	row := r.queryRow(ctx, tx,
		`SELECT id, data_item_id, grantee, amount, overflow, created_at FROM reservations WHERE data_item_id = $1`,
		dataItemID)
	res := &Reservation{}
	var overflowJSON []byte
	if err := row.Scan(&res.ID, &res.DataItemID, &res.Grantee, &res.Amount, &overflowJSON, &res.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrReservationNotFound
		}
		return nil, fmt.Errorf("store: get reservation: %w", err)
	}
	if err := json.Unmarshal(overflowJSON, &res.Overflow); err != nil {
		return nil, fmt.Errorf("store: decode overflow: %w", err)
	}
	return res, nil
}

// Delete removes the reservation row, used by both refund (after
// reversing draws) and finalize (after absorbing them).
func (r *ReservationRepository) Delete(ctx context.Context, tx *sql.Tx, dataItemID string) error {
	_, err := r.exec(ctx, tx, `DELETE FROM reservations WHERE data_item_id = $1`, dataItemID)
	if err != nil {
		return fmt.Errorf("store: delete reservation: %w", err)
	}
	return nil
}

func (r *ReservationRepository) exec(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return r.client.DB().ExecContext(ctx, query, args...)
}

func (r *ReservationRepository) queryRow(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) *sql.Row {
	if tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return r.client.DB().QueryRowContext(ctx, query, args...)
}
