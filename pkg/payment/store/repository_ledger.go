package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerRepository owns the addresses and ledger_entries tables. The
// balance column on addresses is a cache kept exactly in sync with
// the sum of ledger_entries for that address (spec §3 invariant).
type LedgerRepository struct {
	client *Client
}

func NewLedgerRepository(client *Client) *LedgerRepository {
	return &LedgerRepository{client: client}
}

// GetOrCreateAddress returns the address row, creating it with a zero
// balance on first sight.
func (r *LedgerRepository) GetOrCreateAddress(ctx context.Context, tx *sql.Tx, address, scheme string) (*Address, error) {
	a, err := r.getAddress(ctx, tx, address)
	if err == nil {
		return a, nil
	}
	if err != ErrAddressNotFound {
		return nil, err
	}

	_, err = r.exec(ctx, tx,
		`INSERT INTO addresses (address, scheme, balance) VALUES ($1, $2, 0)
		 ON CONFLICT (address) DO NOTHING`,
		address, scheme)
	if err != nil {
		return nil, fmt.Errorf("store: create address: %w", err)
	}
	return r.getAddress(ctx, tx, address)
}

func (r *LedgerRepository) getAddress(ctx context.Context, tx *sql.Tx, address string) (*Address, error) {
	row := r.queryRow(ctx, tx,
		`SELECT address, scheme, balance, created_at, updated_at FROM addresses WHERE address = $1`,
		address)
	a := &Address{}
	if err := row.Scan(&a.Address, &a.Scheme, &a.Balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAddressNotFound
		}
		return nil, fmt.Errorf("store: get address: %w", err)
	}
	return a, nil
}

// Balance returns the current cached balance for address, 0 if unseen.
func (r *LedgerRepository) Balance(ctx context.Context, tx *sql.Tx, address string) (decimal.Decimal, error) {
	a, err := r.getAddress(ctx, tx, address)
	if err == ErrAddressNotFound {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return a.Balance, nil
}

// AppendEntry writes a ledger entry and adjusts the cached balance.
// changeID scopes idempotency together with (address, reasonCode): a
// repeat of the same triple is a no-op that returns the existing
// entry rather than erroring.
func (r *LedgerRepository) AppendEntry(ctx context.Context, tx *sql.Tx, address, reasonCode, changeID string, amount decimal.Decimal) (*LedgerEntry, error) {
	if existing, err := r.entryByChangeID(ctx, tx, address, reasonCode, changeID); err == nil {
		return existing, nil
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	if _, err := r.GetOrCreateAddress(ctx, tx, address, ""); err != nil {
		return nil, fmt.Errorf("store: ensure address exists: %w", err)
	}

	entry := &LedgerEntry{ID: uuid.New(), Address: address, Amount: amount, ReasonCode: reasonCode, ChangeID: changeID}
	err := r.queryRow(ctx, tx,
		`INSERT INTO ledger_entries (id, address, amount, reason_code, change_id)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		entry.ID, entry.Address, entry.Amount, entry.ReasonCode, entry.ChangeID,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: append ledger entry: %w", err)
	}

	if _, err := r.exec(ctx, tx,
		`UPDATE addresses SET balance = balance + $2, updated_at = now() WHERE address = $1`,
		address, amount); err != nil {
		return nil, fmt.Errorf("store: update cached balance: %w", err)
	}
	return entry, nil
}

func (r *LedgerRepository) entryByChangeID(ctx context.Context, tx *sql.Tx, address, reasonCode, changeID string) (*LedgerEntry, error) {
	row := r.queryRow(ctx, tx,
		`SELECT id, address, amount, reason_code, change_id, created_at
		 FROM ledger_entries WHERE address = $1 AND reason_code = $2 AND change_id = $3`,
		address, reasonCode, changeID)
	e := &LedgerEntry{}
	if err := row.Scan(&e.ID, &e.Address, &e.Amount, &e.ReasonCode, &e.ChangeID, &e.CreatedAt); err != nil {
		return nil, err
	}
	return e, nil
}

// RecomputeBalance sums ledger_entries independently of the cache,
// used by property tests asserting the no-drift invariant.
func (r *LedgerRepository) RecomputeBalance(ctx context.Context, tx *sql.Tx, address string) (decimal.Decimal, error) {
	row := r.queryRow(ctx, tx, `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE address = $1`, address)
	var sum decimal.Decimal
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("store: recompute balance: %w", err)
	}
	return sum, nil
}

func (r *LedgerRepository) exec(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return r.client.DB().ExecContext(ctx, query, args...)
}

func (r *LedgerRepository) queryRow(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) *sql.Row {
	if tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return r.client.DB().QueryRowContext(ctx, query, args...)
}
