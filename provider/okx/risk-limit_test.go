package okx

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/go-okx-bridge/domain"
)

type fakeTierAPI struct {
	calls int
	tiers []domain.RiskTier
	err   error
}

func (f *fakeTierAPI) PositionTiers(instID string) ([]domain.RiskTier, error) {
	f.calls++
	return f.tiers, f.err
}

type fakeAccount struct {
	position decimal.Decimal
	orders   []OpenOrder
	mark     decimal.Decimal
	hasMark  bool
}

func (f *fakeAccount) PositionQuantity(instID string) decimal.Decimal {
	return f.position
}

func (f *fakeAccount) OpenOrders(instID string) []OpenOrder {
	return f.orders
}

func (f *fakeAccount) MarkPrice(instID string) (decimal.Decimal, bool) {
	return f.mark, f.hasMark
}

func standardTiers() []domain.RiskTier {
	return []domain.RiskTier{
		{Tier: 1, MaxExposure: decimal.NewFromInt(20000)},
		{Tier: 2, MaxExposure: decimal.NewFromInt(50000)},
		{Tier: 3, MaxExposure: decimal.NewFromInt(100000)},
	}
}

func TestRiskLimitCalculator_SpotIsUnbounded(t *testing.T) {
	calc := NewRiskLimitCalculator(&fakeTierAPI{}, &fakeAccount{})

	_, unbounded, err := calc.GetAvailableLimit(Instrument{InstID: "BTC-USDT", Type: "SPOT"})
	require.NoError(t, err)
	assert.True(t, unbounded)
}

func TestRiskLimitCalculator_TierSelection(t *testing.T) {
	tests := []struct {
		name      string
		position  int64
		available int64
	}{
		// Exposure 45000 falls into tier 2 (ceiling 50000).
		{"MidTier", 45000, 5000},
		// Exposure above every ceiling pins to the last tier with nothing left.
		{"AboveAllTiers", 150000, 0},
		// Exposure exactly at a ceiling selects that tier.
		{"ExactCeiling", 20000, 0},
		{"FirstTier", 5000, 15000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := &fakeAccount{
				position: decimal.NewFromInt(tt.position),
				mark:     decimal.NewFromInt(1),
				hasMark:  true,
			}
			calc := NewRiskLimitCalculator(&fakeTierAPI{tiers: standardTiers()}, account)

			available, unbounded, err := calc.GetAvailableLimit(Instrument{InstID: "BTC-USDT-SWAP", Type: "SWAP"})
			require.NoError(t, err)
			assert.False(t, unbounded)
			assert.True(t, available.Equal(decimal.NewFromInt(tt.available)),
				"available = %s, want %d", available, tt.available)
		})
	}
}

func TestRiskLimitCalculator_OpenOrdersAddExposure(t *testing.T) {
	account := &fakeAccount{
		position: decimal.NewFromInt(10),
		mark:     decimal.NewFromInt(1000),
		hasMark:  true,
		orders: []OpenOrder{
			{RemainingQty: decimal.NewFromInt(3)},
			{RemainingQty: decimal.NewFromInt(-2)}, // short side still counts
		},
	}
	calc := NewRiskLimitCalculator(&fakeTierAPI{tiers: standardTiers()}, account)

	// Exposure = (10 + 3 + 2) * 1000 = 15000, tier 1 => 5000 available.
	available, unbounded, err := calc.GetAvailableLimit(Instrument{InstID: "BTC-USDT-SWAP", Type: "SWAP"})
	require.NoError(t, err)
	assert.False(t, unbounded)
	assert.True(t, available.Equal(decimal.NewFromInt(5000)), "available = %s", available)
}

func TestRiskLimitCalculator_OrderPriceFallback(t *testing.T) {
	account := &fakeAccount{
		position: decimal.NewFromInt(100), // no mark price, position unpriceable
		hasMark:  false,
		orders: []OpenOrder{
			{RemainingQty: decimal.NewFromInt(2), LimitPrice: decimal.NewFromInt(5000)},
			{RemainingQty: decimal.NewFromInt(1), AvgFillPrice: decimal.NewFromInt(4000)},
			{RemainingQty: decimal.NewFromInt(7)}, // market order, no price at all
		},
	}
	calc := NewRiskLimitCalculator(&fakeTierAPI{tiers: standardTiers()}, account)

	// Exposure = 2*5000 + 1*4000 + 0 = 14000, tier 1 => 6000 available.
	available, _, err := calc.GetAvailableLimit(Instrument{InstID: "BTC-USDT-SWAP", Type: "SWAP"})
	require.NoError(t, err)
	assert.True(t, available.Equal(decimal.NewFromInt(6000)), "available = %s", available)
}

func TestRiskLimitCalculator_TiersAreCached(t *testing.T) {
	api := &fakeTierAPI{tiers: standardTiers()}
	account := &fakeAccount{mark: decimal.NewFromInt(1), hasMark: true}
	calc := NewRiskLimitCalculator(api, account)

	inst := Instrument{InstID: "BTC-USDT-SWAP", Type: "SWAP"}
	for i := 0; i < 5; i++ {
		_, _, err := calc.GetAvailableLimit(inst)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, api.calls, "tiers should be fetched once and cached")

	calc.ClearCache()
	_, _, err := calc.GetAvailableLimit(inst)
	require.NoError(t, err)
	assert.Equal(t, 2, api.calls, "clearing the cache forces a refetch")
}

func TestRiskLimitCalculator_NoTiers(t *testing.T) {
	calc := NewRiskLimitCalculator(&fakeTierAPI{}, &fakeAccount{})

	_, _, err := calc.GetAvailableLimit(Instrument{InstID: "BTC-USDT-SWAP", Type: "SWAP"})
	assert.Error(t, err)
}
