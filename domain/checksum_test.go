package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lvl(t *testing.T, price, size string) BookLevel {
	t.Helper()
	p, err := decimal.NewFromString(price)
	require.NoError(t, err)
	s, err := decimal.NewFromString(size)
	require.NoError(t, err)
	return BookLevel{Price: p, Size: s}
}

func TestChecksumPayload_Interleaving(t *testing.T) {
	bids := []BookLevel{lvl(t, "100", "1"), lvl(t, "99", "2")}
	asks := []BookLevel{lvl(t, "101", "1"), lvl(t, "102", "2")}

	payload := ChecksumPayload(bids, asks)
	assert.Equal(t, "100:1:101:1:99:2:102:2", payload, "pairs should interleave bid:ask per depth level")
}

func TestChecksumPayload_AsymmetricSides(t *testing.T) {
	bids := []BookLevel{lvl(t, "100", "2"), lvl(t, "99", "1")}
	asks := []BookLevel{lvl(t, "101", "1")}

	payload := ChecksumPayload(bids, asks)
	assert.Equal(t, "100:2:101:1:99:1", payload, "the exhausted side should simply be skipped")
}

func TestChecksumPayload_DepthCap(t *testing.T) {
	bids := make([]BookLevel, 0, 30)
	for i := 0; i < 30; i++ {
		bids = append(bids, BookLevel{
			Price: decimal.NewFromInt(int64(1000 - i)),
			Size:  decimal.NewFromInt(1),
		})
	}

	payload := ChecksumPayload(bids, nil)
	assert.Contains(t, payload, "976:1", "level 25 must be included")
	assert.NotContains(t, payload, "975:1", "level 26 must be excluded")
}

func TestChecksumPayload_TruncatesDeepDecimals(t *testing.T) {
	bids := []BookLevel{lvl(t, "25000.123456789", "1")}

	payload := ChecksumPayload(bids, nil)
	assert.Equal(t, "25000.12345678:1", payload, "more than 8 decimal places must be truncated, not rounded")
}

func TestCalculateChecksum(t *testing.T) {
	tests := []struct {
		name     string
		bids     []BookLevel
		asks     []BookLevel
		expected int32
	}{
		{
			name:     "SingleLevel",
			bids:     []BookLevel{lvl(t, "100", "1")},
			asks:     []BookLevel{lvl(t, "101", "1")},
			expected: 1189976625,
		},
		{
			name:     "TwoLevels",
			bids:     []BookLevel{lvl(t, "100", "1"), lvl(t, "99", "2")},
			asks:     []BookLevel{lvl(t, "101", "1"), lvl(t, "102", "2")},
			expected: -2076486480,
		},
		{
			name:     "FractionalPrices",
			bids:     []BookLevel{lvl(t, "0.1", "5")},
			asks:     []BookLevel{lvl(t, "0.2", "3")},
			expected: 1021186707,
		},
		{
			name:     "RealisticLevels",
			bids:     []BookLevel{lvl(t, "25000.5", "0.75")},
			asks:     []BookLevel{lvl(t, "25001", "1.25")},
			expected: 1596966356,
		},
	}

	symbol, err := NewMarketSymbol("BTC", "USDT")
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := NewOrderBook(symbol)
			book.ApplyFullSnapshot(tt.bids, tt.asks, 1)

			assert.Equal(t, tt.expected, CalculateChecksum(book), "checksum should match the exchange's signed value")
			assert.True(t, ValidateChecksum(book, tt.expected))
			assert.False(t, ValidateChecksum(book, tt.expected+1))
		})
	}
}

func TestChecksum_UnaffectedByDeepLevels(t *testing.T) {
	symbol, err := NewMarketSymbol("BTC", "USDT")
	require.NoError(t, err)

	bids := make([]BookLevel, 0, 25)
	for i := 0; i < 25; i++ {
		bids = append(bids, BookLevel{
			Price: decimal.NewFromInt(int64(100 - i)),
			Size:  decimal.NewFromInt(1),
		})
	}
	asks := []BookLevel{lvl(t, "101", "1")}

	book := NewOrderBook(symbol)
	book.ApplyFullSnapshot(bids, asks, 1)
	before := CalculateChecksum(book)

	// Level 26 on the bid side is beyond the checksum window.
	book.UpdateBid(decimal.NewFromInt(50), decimal.NewFromInt(9))
	assert.Equal(t, before, CalculateChecksum(book))
}
