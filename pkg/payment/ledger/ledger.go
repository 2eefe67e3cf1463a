// Package ledger implements the per-grantee reserve/refund/check/
// finalize engine of spec §4.2. Every balance-changing operation runs
// inside a serializable transaction scoped to the grantee address, matching
// the spec's "serialized per-grantee" ordering guarantee (§5).
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/certen/bundler-gateway/pkg/money"
	"github.com/certen/bundler-gateway/pkg/payment/pricing"
	"github.com/certen/bundler-gateway/pkg/payment/store"
)

// ErrInsufficientBalance is returned when the payer set (plus, if
// directive allows, the grantee's own balance) cannot cover the cost.
var ErrInsufficientBalance = errors.New("ledger: insufficient balance")

const (
	DirectiveListOnly   = store.ReservationDirectiveListOnly
	DirectiveListOrSelf = store.ReservationDirectiveListOrSelf
)

// Engine is the serialized credit ledger.
type Engine struct {
	client   *store.Client
	ledger   *store.LedgerRepository
	deleg    *store.DelegationRepository
	reserve  *store.ReservationRepository
	pricing  *pricing.Service
	logger   *log.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *log.Logger) Option { return func(e *Engine) { e.logger = l } }

// New builds an Engine over an already-migrated store.Client.
func New(client *store.Client, priceSvc *pricing.Service, opts ...Option) *Engine {
	e := &Engine{
		client:  client,
		ledger:  store.NewLedgerRepository(client),
		deleg:   store.NewDelegationRepository(client),
		reserve: store.NewReservationRepository(client),
		pricing: priceSvc,
		logger:  log.New(log.Writer(), "[ledger] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CheckResult mirrors the Check operation's contract.
type CheckResult struct {
	Sufficient bool
	Cost       decimal.Decimal
	Spendable  decimal.Decimal
	Adjustments []money.Adjustment
}

// Check runs the reserve arithmetic without writing anything.
func (e *Engine) Check(ctx context.Context, grantee string, declaredBytes int64, payers []string, directive string) (CheckResult, error) {
	quote, err := e.pricing.CreditsForBytes(ctx, declaredBytes, nil)
	if err != nil {
		return CheckResult{}, fmt.Errorf("ledger: price check: %w", err)
	}

	var result CheckResult
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		plan, spendable, planErr := e.planDraws(ctx, tx, grantee, quote.Net, payers, directive)
		result.Cost = quote.Net
		result.Adjustments = quote.Adjustments
		result.Spendable = spendable
		result.Sufficient = planErr == nil && plan != nil
		if planErr != nil && !errors.Is(planErr, ErrInsufficientBalance) {
			return planErr
		}
		return nil
	})
	return result, err
}

// Reserve runs the full reserve algorithm (spec §4.2), serialized per
// grantee. Idempotent on dataItemID: a repeat reserve for the same
// item returns the existing reservation's id untouched.
func (e *Engine) Reserve(ctx context.Context, grantee string, declaredBytes int64, payers []string, directive, dataItemID string) (uuid.UUID, decimal.Decimal, error) {
	quote, err := e.pricing.CreditsForBytes(ctx, declaredBytes, nil)
	if err != nil {
		return uuid.Nil, decimal.Zero, fmt.Errorf("ledger: price reserve: %w", err)
	}
	return e.ReserveAmount(ctx, grantee, quote.Net, payers, directive, dataItemID)
}

// ReserveAmount runs the same draw-and-reserve algorithm as Reserve but
// against an already-computed credit cost rather than a byte count,
// for flows priced outside the bytes_for_credits pipeline (e.g. the
// name-system purchase flow, spec §4.10). Idempotent on dataItemID.
func (e *Engine) ReserveAmount(ctx context.Context, grantee string, cost decimal.Decimal, payers []string, directive, dataItemID string) (uuid.UUID, decimal.Decimal, error) {
	if existing, err := e.reserve.ByItemID(ctx, nil, dataItemID); err == nil {
		return existing.ID, existing.Amount, nil
	} else if err != store.ErrReservationNotFound {
		return uuid.Nil, decimal.Zero, fmt.Errorf("ledger: lookup existing reservation: %w", err)
	}

	var reservationID uuid.UUID
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		draws, _, planErr := e.planDraws(ctx, tx, grantee, cost, payers, directive)
		if planErr != nil {
			return planErr
		}

		for _, d := range draws {
			if d.FromSelf {
				if _, err := e.ledger.AppendEntry(ctx, tx, d.Payer, "reservation_self_draw", dataItemID, d.Amount.Neg()); err != nil {
					return err
				}
				continue
			}
			if err := e.deleg.DrawUsage(ctx, tx, *d.DelegationID, d.Amount); err != nil {
				return fmt.Errorf("draw delegation %s: %w", d.DelegationID, err)
			}
		}

		res, err := e.reserve.Create(ctx, tx, dataItemID, grantee, cost, draws)
		if err != nil {
			return err
		}
		reservationID = res.ID
		return nil
	})
	if err != nil {
		return uuid.Nil, decimal.Zero, err
	}
	return reservationID, cost, nil
}

// draw is an internal planning record before it's persisted as a
// store.OverflowEntry.
type draw = store.OverflowEntry

// planDraws computes, without side effects beyond row locks, which
// delegations (and optionally self-balance) cover cost for grantee,
// consuming payers' active delegations in ascending expiry order.
func (e *Engine) planDraws(ctx context.Context, tx *sql.Tx, grantee string, cost decimal.Decimal, payers []string, directive string) ([]draw, decimal.Decimal, error) {
	payerSet := make(map[string]bool, len(payers))
	for _, p := range payers {
		payerSet[p] = true
	}

	active, err := e.deleg.ActiveForGrantee(ctx, tx, grantee)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("list delegations: %w", err)
	}
	sort.SliceStable(active, func(i, j int) bool {
		ei, ej := active[i].ExpiresAt, active[j].ExpiresAt
		if ei == nil {
			return false
		}
		if ej == nil {
			return true
		}
		return ei.Before(*ej)
	})

	remaining := cost
	var draws []draw
	var spendable decimal.Decimal

	for _, d := range active {
		remainingCapacity := d.Approved.Sub(d.Used)
		spendable = spendable.Add(remainingCapacity)
		if !payerSet[d.GrantorAddress] || remaining.LessThanOrEqual(decimal.Zero) {
			continue
		}
		take := remainingCapacity
		if take.GreaterThan(remaining) {
			take = remaining
		}
		if take.LessThanOrEqual(decimal.Zero) {
			continue
		}
		id := d.ID
		draws = append(draws, draw{Payer: d.GrantorAddress, DelegationID: &id, Amount: take})
		remaining = remaining.Sub(take)
	}

	if remaining.GreaterThan(decimal.Zero) && directive == DirectiveListOrSelf {
		selfBalance, err := e.ledger.Balance(ctx, tx, grantee)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("self balance: %w", err)
		}
		spendable = spendable.Add(selfBalance)
		take := selfBalance
		if take.GreaterThan(remaining) {
			take = remaining
		}
		if take.GreaterThan(decimal.Zero) {
			draws = append(draws, draw{Payer: grantee, Amount: take, FromSelf: true})
			remaining = remaining.Sub(take)
		}
	}

	if remaining.GreaterThan(decimal.Zero) {
		return nil, spendable, ErrInsufficientBalance
	}
	return draws, spendable, nil
}

// Refund reverses a reservation's draws and deletes it. Idempotent:
// refunding a non-existent or already-refunded item is a no-op.
func (e *Engine) Refund(ctx context.Context, dataItemID string) error {
	return e.withTx(ctx, func(tx *sql.Tx) error {
		res, err := e.reserve.ByItemID(ctx, tx, dataItemID)
		if err == store.ErrReservationNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		for _, d := range res.Overflow {
			if d.FromSelf {
				if _, err := e.ledger.AppendEntry(ctx, tx, d.Payer, "reservation_refund_self", dataItemID, d.Amount); err != nil {
					return err
				}
				continue
			}
			if err := e.deleg.ReverseUsage(ctx, tx, *d.DelegationID, d.Amount); err != nil {
				if err == store.ErrDelegationNotFound {
					// Delegation already closed out (fully used and
					// moved to inactive) — refund goes to the grantor
					// balance directly instead.
					if _, err := e.ledger.AppendEntry(ctx, tx, d.Payer, "reservation_refund_closed_delegation", dataItemID, d.Amount); err != nil {
						return err
					}
					continue
				}
				return err
			}
		}
		return e.reserve.Delete(ctx, tx, dataItemID)
	})
}

// Finalize absorbs a reservation permanently: no credit returned, an
// audit entry recorded.
func (e *Engine) Finalize(ctx context.Context, dataItemID string) error {
	return e.withTx(ctx, func(tx *sql.Tx) error {
		res, err := e.reserve.ByItemID(ctx, tx, dataItemID)
		if err == store.ErrReservationNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := e.ledger.AppendEntry(ctx, tx, res.Grantee, "reservation_finalized", dataItemID, decimal.Zero); err != nil {
			return err
		}
		return e.reserve.Delete(ctx, tx, dataItemID)
	})
}

// Balance reports address's spendable balance and its outstanding
// delegations, for GET /balance (spec §6). "Owned" is the raw cached
// ledger balance; "spendable" nets out what has been given away via
// active delegations granted to others; "effective" is what the
// address can draw on including what it has been granted.
type BalanceSummary struct {
	Owned     decimal.Decimal
	Given     []*store.Delegation
	Received  []*store.Delegation
	Spendable decimal.Decimal
	Effective decimal.Decimal
}

func (e *Engine) Balance(ctx context.Context, address string) (BalanceSummary, error) {
	var out BalanceSummary
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		owned, err := e.ledger.Balance(ctx, tx, address)
		if err != nil {
			return err
		}
		given, err := e.deleg.ActiveForGrantor(ctx, tx, address)
		if err != nil {
			return err
		}
		received, err := e.deleg.ActiveForGrantee(ctx, tx, address)
		if err != nil {
			return err
		}

		given2 := decimal.Zero
		for _, d := range given {
			given2 = given2.Add(d.Approved.Sub(d.Used))
		}
		received2 := decimal.Zero
		for _, d := range received {
			received2 = received2.Add(d.Approved.Sub(d.Used))
		}

		out = BalanceSummary{
			Owned:     owned,
			Given:     given,
			Received:  received,
			Spendable: owned.Sub(given2),
			Effective: owned.Sub(given2).Add(received2),
		}
		return nil
	})
	return out, err
}

// CreateApproval grants a delegation from grantor to grantee, the
// spec §6 "POST /account/approvals" operation.
func (e *Engine) CreateApproval(ctx context.Context, grantor, grantee string, approved decimal.Decimal, expiresAt *time.Time) (*store.Delegation, error) {
	var d *store.Delegation
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		created, err := e.deleg.Create(ctx, tx, grantor, grantee, approved, expiresAt)
		if err != nil {
			return err
		}
		d = created
		return nil
	})
	return d, err
}

// ListApprovalsGranted lists delegations address has given out.
func (e *Engine) ListApprovalsGranted(ctx context.Context, address string) ([]*store.Delegation, error) {
	return e.deleg.ActiveForGrantor(ctx, nil, address)
}

// ListApprovalsReceived lists delegations address has been granted.
func (e *Engine) ListApprovalsReceived(ctx context.Context, address string) ([]*store.Delegation, error) {
	return e.deleg.ActiveForGrantee(ctx, nil, address)
}

// RevokeApproval closes out a delegation and refunds its unused
// portion to the grantor's balance in the same transaction.
func (e *Engine) RevokeApproval(ctx context.Context, id uuid.UUID) error {
	return e.withTx(ctx, func(tx *sql.Tx) error {
		d, err := e.deleg.Revoke(ctx, tx, id)
		if err != nil {
			return err
		}
		unused := d.Approved.Sub(d.Used)
		if unused.GreaterThan(decimal.Zero) {
			if _, err := e.ledger.AppendEntry(ctx, tx, d.GrantorAddress, "delegation_revoked_refund", id.String(), unused); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreditBalance directly credits address's balance by amount, used by
// gasless top-ups and hybrid-mode surplus crediting. Idempotent on
// (reasonCode, changeID).
func (e *Engine) CreditBalance(ctx context.Context, address string, amount decimal.Decimal, reasonCode, changeID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.ledger.AppendEntry(ctx, tx, address, reasonCode, changeID, amount); err != nil {
			return err
		}
		b, err := e.ledger.Balance(ctx, tx, address)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	return balance, err
}

// ReserveFixedAmount records a reservation funded directly by an
// external settlement (a gasless stablecoin payment) rather than drawn
// from delegations or the payer's own balance. Idempotent on
// dataItemID.
func (e *Engine) ReserveFixedAmount(ctx context.Context, payer, dataItemID string, amount decimal.Decimal) (uuid.UUID, error) {
	if existing, err := e.reserve.ByItemID(ctx, nil, dataItemID); err == nil {
		return existing.ID, nil
	} else if err != store.ErrReservationNotFound {
		return uuid.Nil, fmt.Errorf("ledger: lookup existing reservation: %w", err)
	}

	var reservationID uuid.UUID
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		draws := []draw{{Payer: payer, Amount: amount, FromSelf: true}}
		res, err := e.reserve.Create(ctx, tx, dataItemID, payer, amount, draws)
		if err != nil {
			return err
		}
		reservationID = res.ID
		return nil
	})
	return reservationID, err
}

// RefundPartial credits refund to payer and deletes the reservation
// backing a gasless payment whose declared byte count overshot actual
// usage. Idempotent: refunding a missing reservation is a no-op.
func (e *Engine) RefundPartial(ctx context.Context, dataItemID, payer string, refund decimal.Decimal) error {
	return e.withTx(ctx, func(tx *sql.Tx) error {
		_, err := e.reserve.ByItemID(ctx, tx, dataItemID)
		if err == store.ErrReservationNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if refund.GreaterThan(decimal.Zero) {
			if _, err := e.ledger.AppendEntry(ctx, tx, payer, "gasless_overpayment_refund", dataItemID, refund); err != nil {
				return err
			}
		}
		return e.reserve.Delete(ctx, tx, dataItemID)
	})
}

func (e *Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.client.BeginSerializable(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}
