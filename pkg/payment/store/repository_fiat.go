package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// FiatQuoteRepository owns outstanding fiat top-up offers, consumed by
// the Stripe webhook, which also marks a quote expired when its payment
// confirmation arrives after ExpiresAt. No background sweep expires
// unpaid quotes.
type FiatQuoteRepository struct {
	client *Client
}

func NewFiatQuoteRepository(client *Client) *FiatQuoteRepository {
	return &FiatQuoteRepository{client: client}
}

func (r *FiatQuoteRepository) Create(ctx context.Context, q *FiatQuote) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	adjJSON, err := json.Marshal(q.Adjustments)
	if err != nil {
		return fmt.Errorf("store: encode adjustments: %w", err)
	}
	return r.client.DB().QueryRowContext(ctx,
		`INSERT INTO fiat_quotes (id, address, fiat_amount, fiat_currency, credit_amount, adjustments, status, checkout_session, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING created_at`,
		q.ID, q.Address, q.FiatAmount, q.FiatCurrency, q.CreditAmount, adjJSON, q.Status, q.CheckoutSession, q.ExpiresAt,
	).Scan(&q.CreatedAt)
}

func (r *FiatQuoteRepository) Get(ctx context.Context, id uuid.UUID) (*FiatQuote, error) {
	return r.scan(r.client.DB().QueryRowContext(ctx,
		`SELECT id, address, fiat_amount, fiat_currency, credit_amount, adjustments, status, checkout_session, expires_at, created_at
		 FROM fiat_quotes WHERE id = $1`, id))
}

func (r *FiatQuoteRepository) ByCheckoutSession(ctx context.Context, session string) (*FiatQuote, error) {
	return r.scan(r.client.DB().QueryRowContext(ctx,
		`SELECT id, address, fiat_amount, fiat_currency, credit_amount, adjustments, status, checkout_session, expires_at, created_at
		 FROM fiat_quotes WHERE checkout_session = $1`, session))
}

func (r *FiatQuoteRepository) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.client.DB().ExecContext(ctx, `UPDATE fiat_quotes SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("store: update quote status: %w", err)
	}
	return nil
}

func (r *FiatQuoteRepository) scan(row *sql.Row) (*FiatQuote, error) {
	q := &FiatQuote{}
	var adjJSON []byte
	var checkout sql.NullString
	if err := row.Scan(&q.ID, &q.Address, &q.FiatAmount, &q.FiatCurrency, &q.CreditAmount, &adjJSON, &q.Status, &checkout, &q.ExpiresAt, &q.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrQuoteNotFound
		}
		return nil, fmt.Errorf("store: scan fiat quote: %w", err)
	}
	q.CheckoutSession = checkout.String
	if err := json.Unmarshal(adjJSON, &q.Adjustments); err != nil {
		return nil, fmt.Errorf("store: decode adjustments: %w", err)
	}
	return q, nil
}
