// Package cryptotopup implements the on-chain native-token top-up path
// (spec §6 "POST /account/balance/:scheme"): a submitted chain tx id
// is inspected via the chain gateway and, once confirmed, converted to
// credits and applied to the sender's balance.
package cryptotopup

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/certen/bundler-gateway/pkg/chaingateway"
	"github.com/certen/bundler-gateway/pkg/money"
	"github.com/certen/bundler-gateway/pkg/payment/ledger"
	"github.com/certen/bundler-gateway/pkg/payment/pricing"
	"github.com/certen/bundler-gateway/pkg/payment/store"
)

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusRejected  = "rejected"
	StatusInvalid   = "invalid"
)

// Service drives crypto deposit submission and confirmation.
type Service struct {
	chain    chaingateway.Client
	deposits *store.CryptoDepositRepository
	ledger   *ledger.Engine
	pricing  *pricing.Service
	logger   *log.Logger
}

type Config struct {
	Chain    chaingateway.Client
	Deposits *store.CryptoDepositRepository
	Ledger   *ledger.Engine
	Pricing  *pricing.Service
	Logger   *log.Logger
}

func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[cryptotopup] ", log.LstdFlags)
	}
	return &Service{chain: cfg.Chain, deposits: cfg.Deposits, ledger: cfg.Ledger, pricing: cfg.Pricing, logger: logger}
}

// Submit records (or re-checks) a claimed top-up transaction and
// applies its credit, idempotent on chainTxID. Returns one of
// StatusPending, StatusConfirmed, or StatusRejected/StatusInvalid.
func (s *Service) Submit(ctx context.Context, scheme, address, chainTxID string) (string, error) {
	deposit, err := s.deposits.Create(ctx, chainTxID, scheme, address, decimal.Zero)
	if err != nil {
		return "", fmt.Errorf("cryptotopup: record deposit: %w", err)
	}
	if deposit.Status == StatusConfirmed || deposit.Status == StatusRejected {
		return deposit.Status, nil // already resolved, idempotent
	}

	info, err := s.chain.InspectDeposit(ctx, chainTxID)
	if err != nil {
		return "", fmt.Errorf("cryptotopup: inspect deposit: %w", err)
	}

	if info.Rejected {
		if err := s.deposits.SetStatus(ctx, chainTxID, StatusRejected); err != nil {
			return "", err
		}
		return StatusRejected, nil
	}
	if info.SenderAddress != "" && info.SenderAddress != address {
		if err := s.deposits.SetStatus(ctx, chainTxID, StatusInvalid); err != nil {
			return "", err
		}
		return StatusInvalid, fmt.Errorf("cryptotopup: tx %s was not sent from %s", chainTxID, address)
	}
	if !info.Confirmed {
		return StatusPending, nil
	}

	nativeAmount, err := decimal.NewFromString(info.AmountNative)
	if err != nil {
		if err := s.deposits.SetStatus(ctx, chainTxID, StatusInvalid); err != nil {
			return "", err
		}
		return StatusInvalid, fmt.Errorf("cryptotopup: malformed on-chain amount %q: %w", info.AmountNative, err)
	}

	quote := s.pricing.CreditsForCrypto(ctx, nativeAmount, money.FeeModeSubtract)

	if _, err := s.ledger.CreditBalance(ctx, address, quote.Net, "crypto_topup", chainTxID); err != nil {
		return "", fmt.Errorf("cryptotopup: credit balance: %w", err)
	}
	if err := s.deposits.SetStatus(ctx, chainTxID, StatusConfirmed); err != nil {
		return "", err
	}
	return StatusConfirmed, nil
}
