package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestReducePriceLimit(t *testing.T) {
	older := &PriceLimit{
		BuyLimit:  decimal.NewFromInt(105),
		SellLimit: decimal.NewFromInt(95),
		Enabled:   true,
		Timestamp: 1000,
	}
	newer := &PriceLimit{
		BuyLimit:  decimal.NewFromInt(110),
		SellLimit: decimal.NewFromInt(90),
		Enabled:   true,
		Timestamp: 2000,
	}

	t.Run("NewerReplacesOlder", func(t *testing.T) {
		next, err := ReducePriceLimit(older, newer)
		assert.NoError(t, err)
		assert.Equal(t, newer, next)
	})

	t.Run("StaleIsSkipped", func(t *testing.T) {
		next, err := ReducePriceLimit(newer, older)
		assert.ErrorIs(t, err, ErrSkipMessage)
		assert.Equal(t, newer, next, "state must stay untouched")
	})

	t.Run("NilIncomingIsSkipped", func(t *testing.T) {
		next, err := ReducePriceLimit(newer, nil)
		assert.ErrorIs(t, err, ErrSkipMessage)
		assert.Equal(t, newer, next)
	})

	t.Run("FirstMessageInstallsState", func(t *testing.T) {
		next, err := ReducePriceLimit(nil, older)
		assert.NoError(t, err)
		assert.Equal(t, older, next)
	})
}
