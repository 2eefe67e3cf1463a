package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DelegationRepository owns delegations_active / delegations_inactive.
// A delegation moves from active to inactive exactly once, atomically
// with whatever ledger write closes it out (spec §3 invariant).
type DelegationRepository struct {
	client *Client
}

func NewDelegationRepository(client *Client) *DelegationRepository {
	return &DelegationRepository{client: client}
}

// Create records a new active delegation.
func (r *DelegationRepository) Create(ctx context.Context, tx *sql.Tx, grantor, grantee string, approved decimal.Decimal, expiresAt *time.Time) (*Delegation, error) {
	d := &Delegation{ID: uuid.New(), GrantorAddress: grantor, GranteeAddress: grantee, Approved: approved, ExpiresAt: expiresAt}
	if _, err := r.exec(ctx, tx,
		`INSERT INTO addresses (address, scheme, balance) VALUES ($1, '', 0), ($2, '', 0)
		 ON CONFLICT (address) DO NOTHING`, grantor, grantee); err != nil {
		return nil, fmt.Errorf("store: ensure delegation addresses: %w", err)
	}
	err := r.queryRow(ctx, tx,
		`INSERT INTO delegations_active (id, grantor_address, grantee_address, approved, used, expires_at)
		 VALUES ($1, $2, $3, $4, 0, $5) RETURNING created_at, updated_at`,
		d.ID, d.GrantorAddress, d.GranteeAddress, d.Approved, d.ExpiresAt,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create delegation: %w", err)
	}
	return d, nil
}

// ActiveForGrantee returns the grantee's unexpired delegations ordered
// by expiry ascending (soonest-expiring first), matching the reserve
// algorithm's payer-consumption order (spec §5).
func (r *DelegationRepository) ActiveForGrantee(ctx context.Context, tx *sql.Tx, grantee string) ([]*Delegation, error) {
	rows, err := r.query(ctx, tx,
		`SELECT id, grantor_address, grantee_address, approved, used, expires_at, created_at, updated_at
		 FROM delegations_active
		 WHERE grantee_address = $1 AND (expires_at IS NULL OR expires_at > now())
		 ORDER BY (expires_at IS NULL), expires_at ASC
		 FOR UPDATE`,
		grantee)
	if err != nil {
		return nil, fmt.Errorf("store: list active delegations: %w", err)
	}
	defer rows.Close()

	var out []*Delegation
	for rows.Next() {
		d := &Delegation{}
		if err := rows.Scan(&d.ID, &d.GrantorAddress, &d.GranteeAddress, &d.Approved, &d.Used, &d.ExpiresAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan delegation: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ActiveForGrantor returns the delegations address has granted out,
// for the "given[]" side of a balance summary. Unlike
// ActiveForGrantee this is a plain read, not locked FOR UPDATE.
func (r *DelegationRepository) ActiveForGrantor(ctx context.Context, tx *sql.Tx, grantor string) ([]*Delegation, error) {
	rows, err := r.query(ctx, tx,
		`SELECT id, grantor_address, grantee_address, approved, used, expires_at, created_at, updated_at
		 FROM delegations_active
		 WHERE grantor_address = $1 AND (expires_at IS NULL OR expires_at > now())
		 ORDER BY created_at ASC`,
		grantor)
	if err != nil {
		return nil, fmt.Errorf("store: list granted delegations: %w", err)
	}
	defer rows.Close()

	var out []*Delegation
	for rows.Next() {
		d := &Delegation{}
		if err := rows.Scan(&d.ID, &d.GrantorAddress, &d.GranteeAddress, &d.Approved, &d.Used, &d.ExpiresAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan delegation: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DrawUsage increments used by amount. If the delegation is now fully
// used, it is moved to delegations_inactive with reason "used" in the
// same call.
func (r *DelegationRepository) DrawUsage(ctx context.Context, tx *sql.Tx, id uuid.UUID, amount decimal.Decimal) error {
	var approved, used decimal.Decimal
	err := r.queryRow(ctx, tx, `SELECT approved, used FROM delegations_active WHERE id = $1 FOR UPDATE`, id).Scan(&approved, &used)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrDelegationNotFound
		}
		return fmt.Errorf("store: lock delegation: %w", err)
	}

	newUsed := used.Add(amount)
	if newUsed.GreaterThan(approved) {
		return fmt.Errorf("store: draw %s exceeds remaining delegation %s", amount, approved.Sub(used))
	}

	if _, err := r.exec(ctx, tx, `UPDATE delegations_active SET used = $2, updated_at = now() WHERE id = $1`, id, newUsed); err != nil {
		return fmt.Errorf("store: update delegation usage: %w", err)
	}

	if newUsed.Equal(approved) {
		return r.closeOut(ctx, tx, id, "used")
	}
	return nil
}

// ReverseUsage decrements used by amount, used by refund. The
// delegation must still be active (refunds against an already-closed
// delegation are handled by the ledger engine crediting the grantor
// balance directly instead).
func (r *DelegationRepository) ReverseUsage(ctx context.Context, tx *sql.Tx, id uuid.UUID, amount decimal.Decimal) error {
	res, err := r.exec(ctx, tx,
		`UPDATE delegations_active SET used = used - $2, updated_at = now() WHERE id = $1`, id, amount)
	if err != nil {
		return fmt.Errorf("store: reverse delegation usage: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrDelegationNotFound
	}
	return nil
}

// Revoke moves an active delegation to inactive with reason "revoked".
// Callers refund (approved-used) to the grantor via the ledger
// repository in the same transaction.
func (r *DelegationRepository) Revoke(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*Delegation, error) {
	d, err := r.getActive(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := r.closeOut(ctx, tx, id, "revoked"); err != nil {
		return nil, err
	}
	return d, nil
}

// ExpireIfPast moves a delegation to inactive with reason "expired" if
// its expiry has passed; no-op otherwise.
func (r *DelegationRepository) ExpireIfPast(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	d, err := r.getActive(ctx, tx, id)
	if err != nil {
		return err
	}
	if d.ExpiresAt == nil || d.ExpiresAt.After(time.Now()) {
		return nil
	}
	return r.closeOut(ctx, tx, id, "expired")
}

func (r *DelegationRepository) getActive(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*Delegation, error) {
	d := &Delegation{}
	err := r.queryRow(ctx, tx,
		`SELECT id, grantor_address, grantee_address, approved, used, expires_at, created_at, updated_at
		 FROM delegations_active WHERE id = $1 FOR UPDATE`, id,
	).Scan(&d.ID, &d.GrantorAddress, &d.GranteeAddress, &d.Approved, &d.Used, &d.ExpiresAt, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDelegationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get active delegation: %w", err)
	}
	return d, nil
}

func (r *DelegationRepository) closeOut(ctx context.Context, tx *sql.Tx, id uuid.UUID, reason string) error {
	d, err := r.getActive(ctx, tx, id)
	if err != nil {
		return err
	}
	if _, err := r.exec(ctx, tx,
		`INSERT INTO delegations_inactive (id, grantor_address, grantee_address, approved, used, expires_at, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.GrantorAddress, d.GranteeAddress, d.Approved, d.Used, d.ExpiresAt, reason, d.CreatedAt); err != nil {
		return fmt.Errorf("store: insert inactive delegation: %w", err)
	}
	if _, err := r.exec(ctx, tx, `DELETE FROM delegations_active WHERE id = $1`, id); err != nil {
		return fmt.Errorf("store: delete active delegation: %w", err)
	}
	return nil
}

func (r *DelegationRepository) exec(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return r.client.DB().ExecContext(ctx, query, args...)
}

func (r *DelegationRepository) queryRow(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) *sql.Row {
	if tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return r.client.DB().QueryRowContext(ctx, query, args...)
}

func (r *DelegationRepository) query(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (*sql.Rows, error) {
	if tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return r.client.DB().QueryContext(ctx, query, args...)
}
