// Copyright 2025 Certen Protocol
//
// Package money implements the fixed-point conversions between bytes,
// fiat, native-token, stablecoin, and credit amounts. It is a pure value
// package: no IO, no oracle calls. Callers (pkg/payment/pricing) supply
// already-fetched rates; this package only does the arithmetic and
// records the adjustments applied along the way.
package money

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// CreditsScale is the number of decimal places in the internal unit of
// account. One native token unit equals 10^CreditsScale credits.
const CreditsScale = 12

// StablecoinScale is the number of decimal places of the accepted
// stablecoins (USDC-style, 6 decimals).
const StablecoinScale = 6

// BytesPerPricingUnit is the byte count the sampled "price per unit"
// quote from the blockchain gateway is denominated against.
const BytesPerPricingUnit int64 = 10 * 1024 * 1024 * 1024 // 10 GiB

// DefaultInfrastructureFeeBps is used when config does not override it.
// See DESIGN.md Open Questions: the source documents 5-15%, we settled
// on a single named value.
const DefaultInfrastructureFeeBps = 1500

// DefaultVolatilityBufferBps is added on top of the credits→stablecoin
// conversion to absorb price movement between quote and settlement.
const DefaultVolatilityBufferBps = 1000

// DefaultStablecoinFloorAtomic is the minimum atomic-unit amount ever
// quoted, regardless of how small the underlying byte count is.
const DefaultStablecoinFloorAtomic = 1000

var nativeUnit = decimal.New(1, CreditsScale)       // 10^12
var stablecoinUnit = decimal.New(1, StablecoinScale) // 10^6

// AdjustmentKind distinguishes adjustments reported to the caller
// (exclusive: promos, subsidies) from ones applied silently
// (inclusive: the infrastructure fee).
type AdjustmentKind string

const (
	AdjustmentExclusive AdjustmentKind = "exclusive"
	AdjustmentInclusive AdjustmentKind = "inclusive"
)

// Adjustment records one delta applied while computing a quote.
type Adjustment struct {
	Code   string
	Kind   AdjustmentKind
	Amount decimal.Decimal // signed; negative reduces the charge
}

// Quote is the result of any credits_for_* conversion.
type Quote struct {
	Net         decimal.Decimal
	Gross       decimal.Decimal
	Adjustments []Adjustment
}

// NativeToCredits converts a native-token amount to credits.
func NativeToCredits(native decimal.Decimal) decimal.Decimal {
	return native.Mul(nativeUnit)
}

// CreditsToNative converts credits back to a native-token amount.
func CreditsToNative(credits decimal.Decimal) decimal.Decimal {
	return credits.Div(nativeUnit)
}

// applyInfraFee deducts the inclusive infrastructure fee from gross and
// returns (net, adjustment).
func applyInfraFee(gross decimal.Decimal, feeBps int) (decimal.Decimal, Adjustment) {
	fee := gross.Mul(decimal.NewFromInt(int64(feeBps))).Div(decimal.NewFromInt(10000))
	net := gross.Sub(fee)
	return net, Adjustment{Code: "infrastructure_fee", Kind: AdjustmentInclusive, Amount: fee.Neg()}
}

// applyExclusive applies a list of exclusive adjustments (promos,
// subsidies) to gross before the infrastructure fee, never driving the
// result below zero.
func applyExclusive(gross decimal.Decimal, exclusive []Adjustment) (decimal.Decimal, []Adjustment) {
	out := gross
	applied := make([]Adjustment, 0, len(exclusive))
	for _, adj := range exclusive {
		out = out.Add(adj.Amount)
		applied = append(applied, adj)
	}
	if out.IsNegative() {
		out = decimal.Zero
	}
	return out, applied
}

// CreditsForBytes prices a byte count against a sampled price-per-unit
// (credits_for_bytes in the pricing contract). pricePerUnit is already
// expressed in credits per BytesPerPricingUnit.
func CreditsForBytes(numBytes int64, pricePerUnit decimal.Decimal, infraFeeBps int, exclusive []Adjustment) Quote {
	proportion := decimal.NewFromInt(numBytes).Div(decimal.NewFromInt(BytesPerPricingUnit))
	gross := pricePerUnit.Mul(proportion)
	gross, applied := applyExclusive(gross, exclusive)
	net, feeAdj := applyInfraFee(gross, infraFeeBps)
	return Quote{Net: net, Gross: gross, Adjustments: append(applied, feeAdj)}
}

// FeeMode controls how the infrastructure fee interacts with a crypto
// deposit's credited amount.
type FeeMode string

const (
	FeeModeSubtract FeeMode = "subtract" // deduct the fee from credits granted (default)
	FeeModeAdd      FeeMode = "add"      // add the fee on top (used for name-system purchases)
	FeeModeNone     FeeMode = "none"     // pass through at cost, no fee
)

// CreditsForCrypto converts an already-oracle-converted native-token
// equivalent amount into credits, applying the requested fee mode.
func CreditsForCrypto(nativeEquivalent decimal.Decimal, feeMode FeeMode, infraFeeBps int) Quote {
	gross := NativeToCredits(nativeEquivalent)
	switch feeMode {
	case FeeModeNone:
		return Quote{Net: gross, Gross: gross}
	case FeeModeAdd:
		fee := gross.Mul(decimal.NewFromInt(int64(infraFeeBps))).Div(decimal.NewFromInt(10000))
		net := gross.Add(fee)
		return Quote{Net: net, Gross: gross, Adjustments: []Adjustment{
			{Code: "infrastructure_fee", Kind: AdjustmentInclusive, Amount: fee},
		}}
	default: // FeeModeSubtract
		net, feeAdj := applyInfraFee(gross, infraFeeBps)
		return Quote{Net: net, Gross: gross, Adjustments: []Adjustment{feeAdj}}
	}
}

// CreditsForFiat prices a fiat amount: fiat -> USD -> native token ->
// credits, applying exclusive promos before the inclusive infra fee.
// fiatPerUSD is the fiat currency's units per one USD; usdPerNative is
// USD per one native token unit.
func CreditsForFiat(fiatAmount, fiatPerUSD, usdPerNative decimal.Decimal, infraFeeBps int, exclusive []Adjustment) Quote {
	usd := fiatAmount.Div(fiatPerUSD)
	nativeAmount := usd.Div(usdPerNative)
	gross := NativeToCredits(nativeAmount)
	gross, applied := applyExclusive(gross, exclusive)
	net, feeAdj := applyInfraFee(gross, infraFeeBps)
	return Quote{Net: net, Gross: gross, Adjustments: append(applied, feeAdj)}
}

// StablecoinForCredits converts credits into stablecoin atomic units:
// credits -> native -> USD -> stablecoin, with a volatility buffer on
// top and a floor on the result. usdPerNative is USD per native token
// unit; usdPerStablecoin is USD per one stablecoin unit (~1, tracked
// separately from a hardcoded peg so depegs are still reflected).
func StablecoinForCredits(credits, usdPerNative, usdPerStablecoin decimal.Decimal, volatilityBufferBps int, floorAtomic int64) *big.Int {
	native := CreditsToNative(credits)
	usd := native.Mul(usdPerNative)
	stablecoinAmount := usd.Div(usdPerStablecoin)
	buffered := stablecoinAmount.Mul(decimal.NewFromInt(10000 + int64(volatilityBufferBps))).Div(decimal.NewFromInt(10000))
	atomic := buffered.Mul(stablecoinUnit).Truncate(0).BigInt()
	floor := big.NewInt(floorAtomic)
	if atomic.Cmp(floor) < 0 {
		return floor
	}
	return atomic
}

// AtomicToCredits is the inverse direction used at gasless-payment
// accept time: a paid atomic-unit amount becomes a credit equivalent,
// without the volatility buffer (that only applies to outbound quotes).
func AtomicToCredits(atomic *big.Int, usdPerNative, usdPerStablecoin decimal.Decimal) decimal.Decimal {
	stablecoinAmount := decimal.NewFromBigInt(atomic, 0).Div(stablecoinUnit)
	usd := stablecoinAmount.Mul(usdPerStablecoin)
	native := usd.Div(usdPerNative)
	return NativeToCredits(native)
}
