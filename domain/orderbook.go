package domain

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// BookLevel is one price level: aggregate resting size at a price.
// A zero size in an incremental update means "delete this level".
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BestPrice is a point-in-time view of the top of the book.
type BestPrice struct {
	Bid     decimal.Decimal
	Ask     decimal.Decimal
	BidSize decimal.Decimal
	AskSize decimal.Decimal
}

const bestPriceChanCapacity = 16

// OrderBook keeps both sides of one market price-ordered (bids descending,
// asks ascending) and tracks the best bid/ask. All mutation happens under one
// mutex; batch operations emit at most one best-price notification.
type OrderBook struct {
	Symbol *MarketSymbol

	mu   sync.Mutex
	bids []BookLevel // descending by price
	asks []BookLevel // ascending by price

	bestBid BookLevel
	bestAsk BookLevel

	LastUpdateID   int64
	LastUpdateTime int64

	updates chan BestPrice
}

func NewOrderBook(symbol *MarketSymbol) *OrderBook {
	return &OrderBook{
		Symbol:  symbol,
		bids:    []BookLevel{},
		asks:    []BookLevel{},
		updates: make(chan BestPrice, bestPriceChanCapacity),
	}
}

// BestPriceUpdates streams best bid/ask changes. The channel is bounded;
// when a consumer lags, the oldest pending notification is dropped.
func (ob *OrderBook) BestPriceUpdates() <-chan BestPrice {
	return ob.updates
}

func (ob *OrderBook) UpdateBid(price, size decimal.Decimal) {
	ob.mu.Lock()
	ob.upsertBid(BookLevel{Price: price, Size: size})
	changed := ob.refreshBest()
	ob.mu.Unlock()

	if changed {
		ob.notifyBestChanged()
	}
}

func (ob *OrderBook) UpdateAsk(price, size decimal.Decimal) {
	ob.mu.Lock()
	ob.upsertAsk(BookLevel{Price: price, Size: size})
	changed := ob.refreshBest()
	ob.mu.Unlock()

	if changed {
		ob.notifyBestChanged()
	}
}

func (ob *OrderBook) RemoveBid(price decimal.Decimal) {
	ob.UpdateBid(price, decimal.Zero)
}

func (ob *OrderBook) RemoveAsk(price decimal.Decimal) {
	ob.UpdateAsk(price, decimal.Zero)
}

// ApplyFullSnapshot replaces both sides atomically. Readers never observe a
// half-installed snapshot and at most one best-price notification is emitted.
func (ob *OrderBook) ApplyFullSnapshot(bids, asks []BookLevel, lastUpdateID int64) {
	ob.mu.Lock()
	ob.bids = sortSide(bids, false)
	ob.asks = sortSide(asks, true)
	ob.LastUpdateID = lastUpdateID
	ob.LastUpdateTime = time.Now().UnixMilli()
	changed := ob.refreshBest()
	ob.mu.Unlock()

	if changed {
		ob.notifyBestChanged()
	}
}

// ApplyIncrementalUpdate applies a delta under one critical section. Levels
// with zero size are deleted; deleting an absent level is a no-op. updateTime
// is the exchange timestamp of the delta; zero falls back to local time.
func (ob *OrderBook) ApplyIncrementalUpdate(bids, asks []BookLevel, lastUpdateID, updateTime int64) {
	if updateTime <= 0 {
		updateTime = time.Now().UnixMilli()
	}

	ob.mu.Lock()
	for _, level := range bids {
		ob.upsertBid(level)
	}
	for _, level := range asks {
		ob.upsertAsk(level)
	}
	ob.LastUpdateID = lastUpdateID
	ob.LastUpdateTime = updateTime
	changed := ob.refreshBest()
	ob.mu.Unlock()

	if changed {
		ob.notifyBestChanged()
	}
}

// GetBids returns a point-in-time copy, descending by price.
func (ob *OrderBook) GetBids() []BookLevel {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	out := make([]BookLevel, len(ob.bids))
	copy(out, ob.bids)
	return out
}

// GetAsks returns a point-in-time copy, ascending by price.
func (ob *OrderBook) GetAsks() []BookLevel {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	out := make([]BookLevel, len(ob.asks))
	copy(out, ob.asks)
	return out
}

// BestBidAsk returns the cached top of book. ok is false until both sides
// hold at least one level with a positive price.
func (ob *OrderBook) BestBidAsk() (best BestPrice, ok bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if !ob.bestBid.Price.IsPositive() || !ob.bestAsk.Price.IsPositive() {
		return BestPrice{}, false
	}

	return BestPrice{
		Bid:     ob.bestBid.Price,
		Ask:     ob.bestAsk.Price,
		BidSize: ob.bestBid.Size,
		AskSize: ob.bestAsk.Size,
	}, true
}

func (ob *OrderBook) Depth() (bids int, asks int) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return len(ob.bids), len(ob.asks)
}

// upsertBid inserts, replaces or deletes one level keeping bids descending.
// Caller holds ob.mu.
func (ob *OrderBook) upsertBid(level BookLevel) {
	i := sort.Search(len(ob.bids), func(i int) bool {
		return ob.bids[i].Price.Cmp(level.Price) <= 0
	})

	exists := i < len(ob.bids) && ob.bids[i].Price.Equal(level.Price)
	ob.bids = spliceLevel(ob.bids, i, exists, level)
}

// upsertAsk inserts, replaces or deletes one level keeping asks ascending.
// Caller holds ob.mu.
func (ob *OrderBook) upsertAsk(level BookLevel) {
	i := sort.Search(len(ob.asks), func(i int) bool {
		return ob.asks[i].Price.Cmp(level.Price) >= 0
	})

	exists := i < len(ob.asks) && ob.asks[i].Price.Equal(level.Price)
	ob.asks = spliceLevel(ob.asks, i, exists, level)
}

func spliceLevel(side []BookLevel, i int, exists bool, level BookLevel) []BookLevel {
	if level.Size.IsZero() {
		if !exists {
			return side
		}
		return append(side[:i], side[i+1:]...)
	}

	if exists {
		side[i].Size = level.Size
		return side
	}

	side = append(side, BookLevel{})
	copy(side[i+1:], side[i:])
	side[i] = level
	return side
}

// refreshBest recomputes the cached best bid/ask and reports whether either
// changed. Caller holds ob.mu.
func (ob *OrderBook) refreshBest() bool {
	var bid, ask BookLevel
	if len(ob.bids) > 0 {
		bid = ob.bids[0]
	}
	if len(ob.asks) > 0 {
		ask = ob.asks[0]
	}

	changed := !bid.Price.Equal(ob.bestBid.Price) || !bid.Size.Equal(ob.bestBid.Size) ||
		!ask.Price.Equal(ob.bestAsk.Price) || !ask.Size.Equal(ob.bestAsk.Size)

	ob.bestBid = bid
	ob.bestAsk = ask
	return changed
}

// notifyBestChanged emits one notification if both bests are valid, dropping
// the oldest pending one when the consumer lags.
func (ob *OrderBook) notifyBestChanged() {
	best, ok := ob.BestBidAsk()
	if !ok {
		return
	}

	select {
	case ob.updates <- best:
	default:
		select {
		case <-ob.updates:
		default:
		}
		select {
		case ob.updates <- best:
		default:
		}
	}
}

func sortSide(levels []BookLevel, ascending bool) []BookLevel {
	side := make([]BookLevel, 0, len(levels))
	for _, level := range levels {
		if level.Size.IsZero() {
			continue
		}
		side = append(side, level)
	}

	sort.Slice(side, func(i, j int) bool {
		if ascending {
			return side[i].Price.Cmp(side[j].Price) < 0
		}
		return side[i].Price.Cmp(side[j].Price) > 0
	})

	return side
}
