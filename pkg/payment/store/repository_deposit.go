package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// CryptoDepositRepository owns on-chain top-up transactions, keyed by
// the chain's own transaction id so a resubmitted tx id is a no-op.
type CryptoDepositRepository struct {
	client *Client
}

func NewCryptoDepositRepository(client *Client) *CryptoDepositRepository {
	return &CryptoDepositRepository{client: client}
}

// Create records a pending deposit. If chainTxID was already seen,
// returns the existing row instead of erroring.
func (r *CryptoDepositRepository) Create(ctx context.Context, chainTxID, scheme, address string, amount decimal.Decimal) (*CryptoDeposit, error) {
	if existing, err := r.Get(ctx, chainTxID); err == nil {
		return existing, nil
	} else if err != ErrDepositNotFound {
		return nil, err
	}

	d := &CryptoDeposit{ChainTxID: chainTxID, Scheme: scheme, Address: address, Amount: amount, Status: "pending"}
	err := r.client.DB().QueryRowContext(ctx,
		`INSERT INTO crypto_deposits (chain_tx_id, scheme, address, amount, status)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at, updated_at`,
		d.ChainTxID, d.Scheme, d.Address, d.Amount, d.Status,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create crypto deposit: %w", err)
	}
	return d, nil
}

func (r *CryptoDepositRepository) Get(ctx context.Context, chainTxID string) (*CryptoDeposit, error) {
	d := &CryptoDeposit{}
	err := r.client.DB().QueryRowContext(ctx,
		`SELECT chain_tx_id, scheme, address, amount, status, created_at, updated_at
		 FROM crypto_deposits WHERE chain_tx_id = $1`, chainTxID,
	).Scan(&d.ChainTxID, &d.Scheme, &d.Address, &d.Amount, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDepositNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get crypto deposit: %w", err)
	}
	return d, nil
}

// SetStatus transitions a deposit's status (pending -> confirmed|rejected|invalid).
func (r *CryptoDepositRepository) SetStatus(ctx context.Context, chainTxID, status string) error {
	_, err := r.client.DB().ExecContext(ctx,
		`UPDATE crypto_deposits SET status = $2, updated_at = now() WHERE chain_tx_id = $1`, chainTxID, status)
	if err != nil {
		return fmt.Errorf("store: update deposit status: %w", err)
	}
	return nil
}
