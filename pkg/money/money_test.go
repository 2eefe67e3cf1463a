package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreditsForBytes_ProratesLinearly(t *testing.T) {
	pricePerUnit := decimal.NewFromInt(1_000_000) // credits per 10 GiB
	q := CreditsForBytes(BytesPerPricingUnit, pricePerUnit, 0, nil)
	assert.True(t, q.Gross.Equal(pricePerUnit))
	assert.True(t, q.Net.Equal(pricePerUnit))

	half := CreditsForBytes(BytesPerPricingUnit/2, pricePerUnit, 0, nil)
	assert.True(t, half.Gross.Equal(pricePerUnit.Div(decimal.NewFromInt(2))))
}

func TestCreditsForBytes_InfraFeeIsInclusiveAndNegative(t *testing.T) {
	pricePerUnit := decimal.NewFromInt(1000)
	q := CreditsForBytes(BytesPerPricingUnit, pricePerUnit, 1500, nil)
	require.Len(t, q.Adjustments, 1)
	assert.Equal(t, AdjustmentInclusive, q.Adjustments[0].Kind)
	assert.True(t, q.Adjustments[0].Amount.IsNegative())
	assert.True(t, q.Net.Equal(decimal.NewFromInt(850)))
}

func TestCreditsForBytes_ExclusiveAdjustmentAppliedBeforeFee(t *testing.T) {
	pricePerUnit := decimal.NewFromInt(1000)
	promo := Adjustment{Code: "promo", Kind: AdjustmentExclusive, Amount: decimal.NewFromInt(-200)}
	q := CreditsForBytes(BytesPerPricingUnit, pricePerUnit, 1000, []Adjustment{promo})
	// gross after promo = 800, fee = 80, net = 720
	assert.True(t, q.Gross.Equal(decimal.NewFromInt(800)))
	assert.True(t, q.Net.Equal(decimal.NewFromInt(720)))
	require.Len(t, q.Adjustments, 2)
}

func TestCreditsForBytes_ExclusiveNeverGoesNegative(t *testing.T) {
	pricePerUnit := decimal.NewFromInt(100)
	promo := Adjustment{Code: "subsidy", Kind: AdjustmentExclusive, Amount: decimal.NewFromInt(-10000)}
	q := CreditsForBytes(BytesPerPricingUnit, pricePerUnit, 0, []Adjustment{promo})
	assert.True(t, q.Gross.Equal(decimal.Zero))
}

func TestCreditsForCrypto_FeeModes(t *testing.T) {
	one := decimal.NewFromInt(1)

	none := CreditsForCrypto(one, FeeModeNone, 1500)
	assert.True(t, none.Net.Equal(NativeToCredits(one)))

	subtract := CreditsForCrypto(one, FeeModeSubtract, 1500)
	assert.True(t, subtract.Net.LessThan(NativeToCredits(one)))

	add := CreditsForCrypto(one, FeeModeAdd, 1500)
	assert.True(t, add.Net.GreaterThan(NativeToCredits(one)))
}

func TestStablecoinForCredits_FloorApplies(t *testing.T) {
	tiny := decimal.NewFromFloat(0.0000000001) // effectively 0 credits
	usdPerNative := decimal.NewFromInt(10)
	usdPerStablecoin := decimal.NewFromInt(1)
	atomic := StablecoinForCredits(tiny, usdPerNative, usdPerStablecoin, DefaultVolatilityBufferBps, DefaultStablecoinFloorAtomic)
	assert.Equal(t, int64(DefaultStablecoinFloorAtomic), atomic.Int64())
}

func TestStablecoinForCredits_VolatilityBufferIncreasesAmount(t *testing.T) {
	credits := NativeToCredits(decimal.NewFromInt(100))
	usdPerNative := decimal.NewFromInt(1)
	usdPerStablecoin := decimal.NewFromInt(1)

	noBuffer := StablecoinForCredits(credits, usdPerNative, usdPerStablecoin, 0, 0)
	withBuffer := StablecoinForCredits(credits, usdPerNative, usdPerStablecoin, 1000, 0)
	assert.True(t, withBuffer.Cmp(noBuffer) > 0)
}

func TestAtomicToCredits_RoundTripsApproximately(t *testing.T) {
	usdPerNative := decimal.NewFromInt(5)
	usdPerStablecoin := decimal.NewFromInt(1)
	credits := NativeToCredits(decimal.NewFromInt(10))

	atomic := StablecoinForCredits(credits, usdPerNative, usdPerStablecoin, 0, 0)
	back := AtomicToCredits(atomic, usdPerNative, usdPerStablecoin)
	assert.True(t, back.Sub(credits).Abs().LessThan(decimal.NewFromInt(1)))
}
