package domain

import "github.com/shopspring/decimal"

// OrderBookSnapshot is an authoritative REST baseline of one book.
type OrderBookSnapshot struct {
	Bids         []BookLevel
	Asks         []BookLevel
	LastUpdateID int64
	Checksum     int32
	Timestamp    int64
}

// RiskTier maps an exposure bracket to its position-value ceiling. Tier
// lists are ordered ascending by ceiling.
type RiskTier struct {
	Tier        int
	MaxExposure decimal.Decimal
}

// ProviderSyncAPI is the REST side of an exchange: the authoritative
// baselines the synchronizers reconcile against.
type ProviderSyncAPI interface {
	OrderBookSnapshot(symbol *MarketSymbol, depth int) (*OrderBookSnapshot, error)
	PriceLimit(symbol *MarketSymbol) (*PriceLimit, error)
	PositionTiers(instID string) ([]RiskTier, error)
}

// MarketStreamAPI is the surface the host system consumes: locally
// reconciled market state fed by the websocket session.
type MarketStreamAPI interface {
	// EnsureOrderBook lazily subscribes the symbol's book channel and kicks
	// off baseline synchronization. Never blocks on the REST round trip.
	EnsureOrderBook(symbol *MarketSymbol) error

	// OrderBook returns the reconciled book, false while synchronizing.
	OrderBook(symbol *MarketSymbol) (*OrderBook, bool)

	// PriceLimit returns the latest enforced price band, false when unknown.
	PriceLimit(symbol *MarketSymbol) (*PriceLimit, bool)

	// Unsubscribe releases the symbol's book, synchronizer context and
	// consumer. Idempotent.
	Unsubscribe(symbol *MarketSymbol) error
}
