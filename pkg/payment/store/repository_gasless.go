package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// GaslessPaymentRepository owns gasless_payments: the x402-style
// quote/verify/settle/finalize state machine of spec §4.3.
type GaslessPaymentRepository struct {
	client *Client
}

func NewGaslessPaymentRepository(client *Client) *GaslessPaymentRepository {
	return &GaslessPaymentRepository{client: client}
}

func (r *GaslessPaymentRepository) Create(ctx context.Context, p *GaslessPayment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = GaslessStatusPending
	}
	return r.client.DB().QueryRowContext(ctx,
		`INSERT INTO gasless_payments (
			id, payer_address, payee_address, stablecoin_atomic, credit_equivalent,
			chain_tx_hash, network, mode, declared_bytes, data_item_id, reservation_id, status
		 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 RETURNING created_at, updated_at`,
		p.ID, p.PayerAddress, p.PayeeAddress, p.StablecoinAtomic, p.CreditEquivalent,
		p.ChainTxHash, p.Network, p.Mode, p.DeclaredBytes, p.DataItemID, p.ReservationID, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *GaslessPaymentRepository) Get(ctx context.Context, id uuid.UUID) (*GaslessPayment, error) {
	return r.scan(r.client.DB().QueryRowContext(ctx, selectGaslessPayment+` WHERE id = $1`, id))
}

func (r *GaslessPaymentRepository) ByDataItemID(ctx context.Context, dataItemID string) (*GaslessPayment, error) {
	return r.scan(r.client.DB().QueryRowContext(ctx, selectGaslessPayment+` WHERE data_item_id = $1`, dataItemID))
}

const selectGaslessPayment = `
	SELECT id, payer_address, payee_address, stablecoin_atomic, credit_equivalent,
		chain_tx_hash, network, mode, declared_bytes, actual_bytes, data_item_id,
		reservation_id, status, created_at, updated_at
	FROM gasless_payments`

func (r *GaslessPaymentRepository) scan(row *sql.Row) (*GaslessPayment, error) {
	p := &GaslessPayment{}
	var chainTxHash, dataItemID sql.NullString
	var actualBytes sql.NullInt64
	var reservationID uuid.NullUUID
	err := row.Scan(&p.ID, &p.PayerAddress, &p.PayeeAddress, &p.StablecoinAtomic, &p.CreditEquivalent,
		&chainTxHash, &p.Network, &p.Mode, &p.DeclaredBytes, &actualBytes, &dataItemID,
		&reservationID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrGaslessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan gasless payment: %w", err)
	}
	p.ChainTxHash = chainTxHash.String
	p.DataItemID = dataItemID.String
	if actualBytes.Valid {
		p.ActualBytes = &actualBytes.Int64
	}
	if reservationID.Valid {
		p.ReservationID = &reservationID.UUID
	}
	return p, nil
}

// SetChainTxHash records the settlement transaction hash once the
// facilitator RPC confirms.
func (r *GaslessPaymentRepository) SetChainTxHash(ctx context.Context, id uuid.UUID, hash string) error {
	_, err := r.client.DB().ExecContext(ctx,
		`UPDATE gasless_payments SET chain_tx_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("store: set chain tx hash: %w", err)
	}
	return nil
}

// BindReservation associates the payment with the reservation created
// for its hybrid/exact-only credit allocation. reservationID is nil for
// topup-mode payments, which never reserve anything.
func (r *GaslessPaymentRepository) BindReservation(ctx context.Context, id uuid.UUID, dataItemID string, reservationID *uuid.UUID) error {
	var nullable uuid.NullUUID
	if reservationID != nil {
		nullable = uuid.NullUUID{UUID: *reservationID, Valid: true}
	}
	_, err := r.client.DB().ExecContext(ctx,
		`UPDATE gasless_payments SET data_item_id = $2, reservation_id = $3, updated_at = now() WHERE id = $1`,
		id, dataItemID, nullable)
	if err != nil {
		return fmt.Errorf("store: bind reservation: %w", err)
	}
	return nil
}

// Finalize sets actual_bytes and the terminal status exactly once.
// Called twice with the same id and actualBytes is a no-op (spec §8
// idempotence).
func (r *GaslessPaymentRepository) Finalize(ctx context.Context, id uuid.UUID, actualBytes int64, status string) error {
	res, err := r.client.DB().ExecContext(ctx,
		`UPDATE gasless_payments SET actual_bytes = $2, status = $3, updated_at = now()
		 WHERE id = $1 AND actual_bytes IS NULL`, id, actualBytes, status)
	if err != nil {
		return fmt.Errorf("store: finalize gasless payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if existing.ActualBytes != nil && *existing.ActualBytes == actualBytes {
			return nil
		}
		return fmt.Errorf("store: gasless payment %s already finalized with different actual_bytes", id)
	}
	return nil
}
