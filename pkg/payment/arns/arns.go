// Package arns implements the name-system purchase flow of spec §4.10:
// an orthogonal flow sharing the credit ledger. The payment service
// quotes a cost in the governance token via a contract read, debits
// the payer in credits, submits the write via the name system's SDK,
// and records the purchase receipt or a failed-purchase row with
// automatic refund.
package arns

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/certen/bundler-gateway/pkg/money"
	"github.com/certen/bundler-gateway/pkg/payment/ledger"
	"github.com/certen/bundler-gateway/pkg/payment/pricing"
	"github.com/certen/bundler-gateway/pkg/payment/store"
)

// Registry is the external name-system SDK boundary: a contract read
// for pricing, and a submit call that performs the on-chain write.
// This repository never implements name-system consensus, only calls
// out to it (mirroring pkg/chaingateway's role for the storage chain).
type Registry interface {
	// Price reads the governance-token cost of intent (e.g. "register",
	// "renew", "transfer") on name, in native-token atomic units.
	Price(ctx context.Context, intent, name string) (decimal.Decimal, error)

	// Submit performs the registry write, returning the system's
	// result/receipt id once accepted.
	Submit(ctx context.Context, intent, name, payer string) (resultID string, err error)
}

const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

type Config struct {
	Registry  Registry
	Purchases *store.ArnsPurchaseRepository
	Ledger    *ledger.Engine
	Pricing   *pricing.Service
	Logger    *log.Logger
}

// Service drives name-system price quoting and purchase.
type Service struct {
	cfg Config
}

func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[arns] ", log.LstdFlags)
	}
	return &Service{cfg: cfg}
}

// Quote reads the current governance-token cost for intent/name and
// converts it to credits via the "add" fee mode (spec §4.1: name-system
// purchases add the infrastructure fee on top rather than deducting).
func (s *Service) Quote(ctx context.Context, intent, name string) (costNative decimal.Decimal, costCredits decimal.Decimal, err error) {
	costNative, err = s.cfg.Registry.Price(ctx, intent, name)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("arns: price read: %w", err)
	}
	quote := s.cfg.Pricing.CreditsForCrypto(ctx, costNative, money.FeeModeAdd)
	return costNative, quote.Net, nil
}

// Purchase debits payers (via the standard multi-payer ledger check,
// spec §4.2) for the quoted cost, submits the registry write, and
// records the outcome. On registry failure the debited credits are
// refunded automatically.
func (s *Service) Purchase(ctx context.Context, intent, name string, payers []string, directive string) (*store.ArnsPurchase, error) {
	costNative, costCredits, err := s.Quote(ctx, intent, name)
	if err != nil {
		return nil, err
	}

	purchase, err := s.cfg.Purchases.Create(ctx, intent, name, payers[0], costNative, costCredits)
	if err != nil {
		return nil, fmt.Errorf("arns: persist purchase: %w", err)
	}

	reservationItemID := "arns:" + purchase.Nonce.String()
	if _, _, err := s.cfg.Ledger.ReserveAmount(ctx, payers[0], costCredits, payers, directive, reservationItemID); err != nil {
		s.cfg.Logger.Printf("arns: reserve failed for %s: %v", purchase.Nonce, err)
		if failErr := s.cfg.Purchases.Fail(ctx, purchase.Nonce); failErr != nil {
			return nil, failErr
		}
		return nil, fmt.Errorf("arns: reserve funds: %w", err)
	}

	resultID, err := s.cfg.Registry.Submit(ctx, intent, name, payers[0])
	if err != nil {
		if refundErr := s.cfg.Ledger.Refund(ctx, reservationItemID); refundErr != nil {
			return nil, fmt.Errorf("arns: refund after failed submit: %w", refundErr)
		}
		if failErr := s.cfg.Purchases.Fail(ctx, purchase.Nonce); failErr != nil {
			return nil, failErr
		}
		return nil, fmt.Errorf("arns: registry submit failed, refunded: %w", err)
	}

	if err := s.cfg.Ledger.Finalize(ctx, reservationItemID); err != nil {
		return nil, fmt.Errorf("arns: finalize reservation: %w", err)
	}
	if err := s.cfg.Purchases.Complete(ctx, purchase.Nonce, resultID); err != nil {
		return nil, err
	}
	purchase.Status = StatusSuccess
	purchase.ResultID = resultID
	return purchase, nil
}

// Get looks up a purchase by nonce for GET /arns/purchase/:nonce.
func (s *Service) Get(ctx context.Context, nonce string) (*store.ArnsPurchase, error) {
	id, err := parseNonce(nonce)
	if err != nil {
		return nil, err
	}
	return s.cfg.Purchases.Get(ctx, id)
}

func parseNonce(nonce string) (uuid.UUID, error) {
	id, err := uuid.Parse(nonce)
	if err != nil {
		return uuid.Nil, fmt.Errorf("arns: malformed nonce %q: %w", nonce, err)
	}
	return id, nil
}
