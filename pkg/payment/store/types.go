package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Address is a payer/payee account row. Balance is the cached sum of
// its ledger entries; LedgerRepository keeps the two in lockstep.
type Address struct {
	Address   string
	Scheme    string
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LedgerEntry is one append-only movement of an address's balance.
type LedgerEntry struct {
	ID         uuid.UUID
	Address    string
	Amount     decimal.Decimal
	ReasonCode string
	ChangeID   string
	CreatedAt  time.Time
}

// Delegation is an approved spend allowance from grantor to grantee.
type Delegation struct {
	ID             uuid.UUID
	GrantorAddress string
	GranteeAddress string
	Approved       decimal.Decimal
	Used           decimal.Decimal
	ExpiresAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// InactiveDelegation is a closed-out delegation, retained for audit.
type InactiveDelegation struct {
	Delegation
	Reason   string
	ClosedAt time.Time
}

// OverflowEntry records how much of a reservation's amount was drawn
// from a particular payer (and, if drawn via delegation, which one).
type OverflowEntry struct {
	Payer        string          `json:"payer"`
	DelegationID *uuid.UUID      `json:"delegationId,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	FromSelf     bool            `json:"fromSelf"`
}

// Reservation encumbers spendable balance for a data item until
// refunded or finalized.
type Reservation struct {
	ID          uuid.UUID
	DataItemID  string
	Grantee     string
	Amount      decimal.Decimal
	Overflow    []OverflowEntry
	CreatedAt   time.Time
}

// FiatQuote is an outstanding fiat top-up offer.
type FiatQuote struct {
	ID              uuid.UUID
	Address         string
	FiatAmount      decimal.Decimal
	FiatCurrency    string
	CreditAmount    decimal.Decimal
	Adjustments     []Adjustment
	Status          string
	CheckoutSession string
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// Adjustment is one exclusive or inclusive pricing adjustment applied
// while converting between units, per spec §4.1.
type Adjustment struct {
	Name   string          `json:"name"`
	Kind   string          `json:"kind"` // "exclusive" | "inclusive"
	Amount decimal.Decimal `json:"amount"`
}

// CryptoDeposit tracks a submitted on-chain top-up transaction.
type CryptoDeposit struct {
	ChainTxID string
	Scheme    string
	Address   string
	Amount    decimal.Decimal
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GaslessPayment is one x402-style stablecoin payment record.
type GaslessPayment struct {
	ID               uuid.UUID
	PayerAddress     string
	PayeeAddress     string
	StablecoinAtomic decimal.Decimal
	CreditEquivalent decimal.Decimal
	ChainTxHash      string
	Network          string
	Mode             string
	DeclaredBytes    int64
	ActualBytes      *int64
	DataItemID       string
	ReservationID    *uuid.UUID
	Status           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ArnsPurchase is a name-system purchase request/receipt.
type ArnsPurchase struct {
	Nonce       uuid.UUID
	Intent      string
	Name        string
	CostNative  decimal.Decimal
	CostCredits decimal.Decimal
	Payer       string
	ResultID    string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	ReservationDirectiveListOnly   = "list-only"
	ReservationDirectiveListOrSelf = "list-or-self"

	GaslessModeExactOnly = "exact-only"
	GaslessModeTopup     = "topup"
	GaslessModeHybrid    = "hybrid"

	GaslessStatusPending   = "pending"
	GaslessStatusConfirmed = "confirmed"
	GaslessStatusRefunded  = "refunded"
	GaslessStatusPenalized = "penalized"
)
