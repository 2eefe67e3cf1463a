package fiat

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/certen/bundler-gateway/pkg/money"
)

func TestToStoreAdjustments_PreservesOrderAndFields(t *testing.T) {
	in := []money.Adjustment{
		{Code: "promo", Kind: money.AdjustmentExclusive, Amount: decimal.NewFromInt(-100)},
		{Code: "infra_fee", Kind: money.AdjustmentInclusive, Amount: decimal.NewFromInt(-5)},
	}
	out := toStoreAdjustments(in)

	assert.Len(t, out, 2)
	assert.Equal(t, "promo", out[0].Name)
	assert.Equal(t, "exclusive", out[0].Kind)
	assert.True(t, out[0].Amount.Equal(decimal.NewFromInt(-100)))
	assert.Equal(t, "infra_fee", out[1].Name)
	assert.Equal(t, "inclusive", out[1].Kind)
}

func TestToStoreAdjustments_EmptyInput(t *testing.T) {
	out := toStoreAdjustments(nil)
	assert.Len(t, out, 0)
}
