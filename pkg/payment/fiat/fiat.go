// Package fiat implements the card/bank top-up path: a Stripe Checkout
// session is quoted in credits at creation time, and the corresponding
// webhook event credits the payer's balance once Stripe confirms
// payment (spec §4.1, §6 /top-up/stripe-webhook).
package fiat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/certen/bundler-gateway/pkg/money"
	"github.com/certen/bundler-gateway/pkg/payment/ledger"
	"github.com/certen/bundler-gateway/pkg/payment/pricing"
	"github.com/certen/bundler-gateway/pkg/payment/store"
)

const (
	QuoteStatusPending   = "pending"
	QuoteStatusCompleted = "completed"
	QuoteStatusExpired   = "expired"

	// DefaultQuoteTTL bounds how long an unpaid checkout session's
	// quoted credit amount is honored.
	DefaultQuoteTTL = 30 * time.Minute
)

// Config configures a Service.
type Config struct {
	APIKey        string
	Quotes        *store.FiatQuoteRepository
	Ledger        *ledger.Engine
	Pricing       *pricing.Service
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Logger        *log.Logger
}

// Service drives Stripe checkout session creation and webhook
// reconciliation.
type Service struct {
	cfg Config
}

func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[fiat] ", log.LstdFlags)
	}
	stripe.Key = cfg.APIKey
	return &Service{cfg: cfg}
}

// CreateCheckoutSession quotes fiatAmount (in currency's major units,
// e.g. dollars) into credits and opens a Stripe Checkout session for it.
func (s *Service) CreateCheckoutSession(ctx context.Context, address string, fiatAmount decimal.Decimal, currency string) (*store.FiatQuote, string, error) {
	quote, err := s.cfg.Pricing.CreditsForFiat(ctx, fiatAmount, currency, nil)
	if err != nil {
		return nil, "", fmt.Errorf("fiat: price quote: %w", err)
	}

	unitAmount := fiatAmount.Shift(2).IntPart() // Stripe wants minor units as an integer
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.cfg.SuccessURL),
		CancelURL:  stripe.String(s.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(unitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Storage credit top-up"),
				},
			},
		}},
		Metadata: map[string]string{"address": address},
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, "", fmt.Errorf("fiat: create checkout session: %w", err)
	}

	record := &store.FiatQuote{
		Address: address, FiatAmount: fiatAmount, FiatCurrency: currency,
		CreditAmount: quote.Net, Adjustments: toStoreAdjustments(quote.Adjustments),
		Status: QuoteStatusPending, CheckoutSession: sess.ID,
		ExpiresAt: time.Now().Add(DefaultQuoteTTL),
	}
	if err := s.cfg.Quotes.Create(ctx, record); err != nil {
		return nil, "", fmt.Errorf("fiat: persist quote: %w", err)
	}
	return record, sess.URL, nil
}

// HandleWebhook verifies and applies a Stripe webhook payload. Only
// checkout.session.completed events are acted on; all others are
// acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := webhook.ConstructEvent(payload, signatureHeader, s.cfg.WebhookSecret)
	if err != nil {
		return fmt.Errorf("fiat: verify webhook signature: %w", err)
	}
	if event.Type != "checkout.session.completed" {
		return nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("fiat: decode checkout session: %w", err)
	}

	quote, err := s.cfg.Quotes.ByCheckoutSession(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("fiat: lookup quote for session %s: %w", sess.ID, err)
	}
	if quote.Status == QuoteStatusCompleted {
		return nil // idempotent: event delivered more than once
	}
	if time.Now().After(quote.ExpiresAt) {
		if err := s.cfg.Quotes.SetStatus(ctx, quote.ID, QuoteStatusExpired); err != nil {
			return err
		}
		return fmt.Errorf("fiat: quote %s expired before payment confirmation", quote.ID)
	}

	if _, err := s.cfg.Ledger.CreditBalance(ctx, quote.Address, quote.CreditAmount, "fiat_topup", quote.ID.String()); err != nil {
		return fmt.Errorf("fiat: credit balance: %w", err)
	}
	return s.cfg.Quotes.SetStatus(ctx, quote.ID, QuoteStatusCompleted)
}

func toStoreAdjustments(in []money.Adjustment) []store.Adjustment {
	out := make([]store.Adjustment, len(in))
	for i, a := range in {
		out[i] = store.Adjustment{Name: a.Code, Kind: string(a.Kind), Amount: a.Amount}
	}
	return out
}
