package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ArnsPurchaseRepository owns name-system purchase requests (spec
// §4.10), keyed by a client-visible nonce.
type ArnsPurchaseRepository struct {
	client *Client
}

func NewArnsPurchaseRepository(client *Client) *ArnsPurchaseRepository {
	return &ArnsPurchaseRepository{client: client}
}

func (r *ArnsPurchaseRepository) Create(ctx context.Context, intent, name, payer string, costNative, costCredits decimal.Decimal) (*ArnsPurchase, error) {
	p := &ArnsPurchase{Nonce: uuid.New(), Intent: intent, Name: name, Payer: payer, CostNative: costNative, CostCredits: costCredits, Status: "pending"}
	err := r.client.DB().QueryRowContext(ctx,
		`INSERT INTO arns_purchases (nonce, intent, name, cost_native, cost_credits, payer, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at, updated_at`,
		p.Nonce, p.Intent, p.Name, p.CostNative, p.CostCredits, p.Payer, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create arns purchase: %w", err)
	}
	return p, nil
}

func (r *ArnsPurchaseRepository) Get(ctx context.Context, nonce uuid.UUID) (*ArnsPurchase, error) {
	p := &ArnsPurchase{}
	var resultID sql.NullString
	err := r.client.DB().QueryRowContext(ctx,
		`SELECT nonce, intent, name, cost_native, cost_credits, payer, result_id, status, created_at, updated_at
		 FROM arns_purchases WHERE nonce = $1`, nonce,
	).Scan(&p.Nonce, &p.Intent, &p.Name, &p.CostNative, &p.CostCredits, &p.Payer, &resultID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrArnsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get arns purchase: %w", err)
	}
	p.ResultID = resultID.String
	return p, nil
}

// Complete marks a purchase successful with the chain's result id.
func (r *ArnsPurchaseRepository) Complete(ctx context.Context, nonce uuid.UUID, resultID string) error {
	_, err := r.client.DB().ExecContext(ctx,
		`UPDATE arns_purchases SET status = 'success', result_id = $2, updated_at = now() WHERE nonce = $1`,
		nonce, resultID)
	if err != nil {
		return fmt.Errorf("store: complete arns purchase: %w", err)
	}
	return nil
}

// Fail marks a purchase failed; the caller is responsible for issuing
// the matching ledger refund.
func (r *ArnsPurchaseRepository) Fail(ctx context.Context, nonce uuid.UUID) error {
	_, err := r.client.DB().ExecContext(ctx,
		`UPDATE arns_purchases SET status = 'failed', updated_at = now() WHERE nonce = $1`, nonce)
	if err != nil {
		return fmt.Errorf("store: fail arns purchase: %w", err)
	}
	return nil
}
