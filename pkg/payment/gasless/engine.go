// Package gasless implements the x402-style gasless-stablecoin HTTP
// payment protocol of spec §4.3: quote, verify+settle, and post-upload
// finalize with fraud tolerance.
package gasless

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/certen/bundler-gateway/pkg/config"
	"github.com/certen/bundler-gateway/pkg/payment/ledger"
	"github.com/certen/bundler-gateway/pkg/payment/pricing"
	"github.com/certen/bundler-gateway/pkg/payment/store"
)

// DefaultFinalizeToleranceBps is the default ±5% fraud tolerance
// window (spec §4.3).
const DefaultFinalizeToleranceBps = 500

// Engine drives the gasless payment state machine.
type Engine struct {
	networks      config.StablecoinNetworksConfig
	payeeAddress  string
	facilitators  map[string]Facilitator
	payments      *store.GaslessPaymentRepository
	ledger        *ledger.Engine
	pricing       *pricing.Service
	toleranceBps  int
	logger        *log.Logger
}

// Config configures an Engine.
type Config struct {
	Networks            config.StablecoinNetworksConfig
	PayeeAddress         string
	Payments             *store.GaslessPaymentRepository
	Ledger               *ledger.Engine
	Pricing              *pricing.Service
	FinalizeToleranceBps int
	Logger               *log.Logger
	// FacilitatorFactory builds a Facilitator for a network's
	// configured facilitator URL. Defaults to NewHTTPFacilitator.
	FacilitatorFactory func(facilitatorURL string) Facilitator
}

func New(cfg Config) *Engine {
	if cfg.FinalizeToleranceBps == 0 {
		cfg.FinalizeToleranceBps = DefaultFinalizeToleranceBps
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[gasless] ", log.LstdFlags)
	}
	if cfg.FacilitatorFactory == nil {
		cfg.FacilitatorFactory = func(url string) Facilitator { return NewHTTPFacilitator(url) }
	}

	facilitators := make(map[string]Facilitator)
	for _, n := range cfg.Networks.Enabled() {
		facilitators[n.Name] = cfg.FacilitatorFactory(n.FacilitatorURL)
	}

	return &Engine{
		networks: cfg.Networks, payeeAddress: cfg.PayeeAddress, facilitators: facilitators,
		payments: cfg.Payments, ledger: cfg.Ledger, pricing: cfg.Pricing,
		toleranceBps: cfg.FinalizeToleranceBps, logger: cfg.Logger,
	}
}

// Quote builds the payment-requirements object for a declared byte
// count, one entry per enabled network.
func (e *Engine) Quote(ctx context.Context, declaredBytes int64) (PaymentRequirements, error) {
	out := PaymentRequirements{X402Version: 2}
	for _, n := range e.networks.Enabled() {
		credits, err := e.pricing.CreditsForBytes(ctx, declaredBytes, nil)
		if err != nil {
			return PaymentRequirements{}, fmt.Errorf("gasless: quote: %w", err)
		}
		atomic, err := e.pricing.StablecoinForCredits(ctx, n.Name, credits.Net)
		if err != nil {
			return PaymentRequirements{}, fmt.Errorf("gasless: stablecoin conversion: %w", err)
		}
		out.Accepts = append(out.Accepts, Requirement{
			Scheme: "exact", Network: n.Name, Asset: n.TokenContract, PayTo: e.payeeAddress,
			Amount: atomic.String(), MaxTimeoutSeconds: 300,
			ExtraName: n.TokenDomainName, ExtraVersion: n.TokenDomainVersion,
		})
	}
	return out, nil
}

// VerifyAndSettle runs VERIFYING -> SETTLING -> ACCEPTED, returning the
// created GaslessPayment record.
func (e *Engine) VerifyAndSettle(ctx context.Context, payload Payload, declaredBytes int64, mode string) (*store.GaslessPayment, error) {
	network := e.findNetwork(payload.Network)
	if network == nil {
		return nil, fmt.Errorf("gasless: network %q not enabled", payload.Network)
	}
	facilitator, ok := e.facilitators[network.Name]
	if !ok {
		return nil, fmt.Errorf("gasless: no facilitator configured for %q", network.Name)
	}

	req := Requirement{
		Scheme: "exact", Network: network.Name, Asset: network.TokenContract, PayTo: e.payeeAddress,
		ExtraName: network.TokenDomainName, ExtraVersion: network.TokenDomainVersion,
	}
	credits, err := e.pricing.CreditsForBytes(ctx, declaredBytes, nil)
	if err != nil {
		return nil, fmt.Errorf("gasless: price declared bytes: %w", err)
	}
	requiredAtomic, err := e.pricing.StablecoinForCredits(ctx, network.Name, credits.Net)
	if err != nil {
		return nil, fmt.Errorf("gasless: stablecoin conversion: %w", err)
	}
	req.Amount = requiredAtomic.String()

	verified, err := Verify(payload.Authorization, req, common.HexToAddress(network.TokenContract), big.NewInt(network.ChainID), time.Now())
	if err != nil {
		return nil, fmt.Errorf("gasless: verify: %w", err)
	}

	settleResp, err := facilitator.Settle(ctx, SettleRequest{
		X402Version: 2, Network: network.Name, Asset: network.TokenContract, PayTo: e.payeeAddress,
		Authorization: payload.Authorization,
	})
	if err != nil {
		return nil, fmt.Errorf("gasless: settle: %w", err)
	}

	paidCredits, err := e.pricing.AtomicToCredits(ctx, network.Name, verified.Value)
	if err != nil {
		return nil, fmt.Errorf("gasless: convert paid amount: %w", err)
	}

	payment := &store.GaslessPayment{
		PayerAddress: verified.From.Hex(), PayeeAddress: e.payeeAddress,
		StablecoinAtomic: decimal.NewFromBigInt(verified.Value, 0), CreditEquivalent: paidCredits,
		ChainTxHash: settleResp.Transaction, Network: network.Name, Mode: mode,
		DeclaredBytes: declaredBytes, Status: store.GaslessStatusPending,
	}
	if err := e.payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("gasless: persist payment: %w", err)
	}
	return payment, nil
}

// Accept applies the mode semantics once a payment is settled,
// binding it to dataItemID.
func (e *Engine) Accept(ctx context.Context, payment *store.GaslessPayment, dataItemID string) error {
	costQuote, err := e.pricing.CreditsForBytes(ctx, payment.DeclaredBytes, nil)
	if err != nil {
		return fmt.Errorf("gasless: accept price: %w", err)
	}
	cost := costQuote.Net

	var reservationID *uuid.UUID
	switch payment.Mode {
	case store.GaslessModeTopup:
		if _, err := e.ledger.CreditBalance(ctx, payment.PayerAddress, payment.CreditEquivalent, "gasless_topup", payment.ID.String()); err != nil {
			return err
		}
	case store.GaslessModeExactOnly:
		id, err := e.ledger.ReserveFixedAmount(ctx, payment.PayerAddress, dataItemID, payment.CreditEquivalent)
		if err != nil {
			return err
		}
		reservationID = &id
	default: // hybrid
		reserveAmount := payment.CreditEquivalent
		if cost.LessThan(reserveAmount) {
			surplus := reserveAmount.Sub(cost)
			if _, err := e.ledger.CreditBalance(ctx, payment.PayerAddress, surplus, "gasless_hybrid_surplus", payment.ID.String()); err != nil {
				return err
			}
			reserveAmount = cost
		}
		id, err := e.ledger.ReserveFixedAmount(ctx, payment.PayerAddress, dataItemID, reserveAmount)
		if err != nil {
			return err
		}
		reservationID = &id
	}
	return e.payments.BindReservation(ctx, payment.ID, dataItemID, reservationID)
}

// Finalize runs FINALIZING -> CONFIRMED|REFUNDED|PENALIZED once actual
// byte count is known.
func (e *Engine) Finalize(ctx context.Context, dataItemID string, actualBytes int64) error {
	payment, err := e.payments.ByDataItemID(ctx, dataItemID)
	if err != nil {
		return fmt.Errorf("gasless: finalize lookup: %w", err)
	}
	if payment.ActualBytes != nil {
		return nil // already finalized, idempotent
	}

	declared := decimal.NewFromInt(payment.DeclaredBytes)
	actual := decimal.NewFromInt(actualBytes)
	toleranceFraction := decimal.NewFromInt(int64(e.toleranceBps)).Div(decimal.NewFromInt(10000))
	lowerBound := declared.Mul(decimal.NewFromInt(1).Sub(toleranceFraction))
	upperBound := declared.Mul(decimal.NewFromInt(1).Add(toleranceFraction))

	var status string
	switch {
	case actual.GreaterThanOrEqual(lowerBound) && actual.LessThanOrEqual(upperBound):
		status = store.GaslessStatusConfirmed
		if err := e.ledger.Finalize(ctx, dataItemID); err != nil {
			return err
		}
	case actual.LessThan(lowerBound):
		status = store.GaslessStatusRefunded
		shortfall := declared.Sub(actual)
		refund := payment.CreditEquivalent.Mul(shortfall).Div(declared)
		if err := e.ledger.RefundPartial(ctx, dataItemID, payment.PayerAddress, refund); err != nil {
			return err
		}
	default: // actual > upperBound
		status = store.GaslessStatusPenalized
		if err := e.ledger.Finalize(ctx, dataItemID); err != nil {
			return err
		}
	}

	return e.payments.Finalize(ctx, payment.ID, actualBytes, status)
}

func (e *Engine) findNetwork(name string) *config.StablecoinNetwork {
	for _, n := range e.networks.Enabled() {
		if n.Name == name {
			return &n
		}
	}
	return nil
}

// EncodeAcceptResponse base64-JSON-encodes the X-Payment-Response
// header value.
func EncodeAcceptResponse(r AcceptResult) string {
	b, _ := json.Marshal(r)
	return base64.StdEncoding.EncodeToString(b)
}
