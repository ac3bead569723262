package usecase

import (
	"log"
	"os"

	"github.com/shopspring/decimal"

	"github.com/spooky-finn/go-okx-bridge/domain"
)

var logger = log.New(os.Stdout, "[market-data-usecase] ", log.LstdFlags)

// MarketDataUseCase is the host-facing surface: lazily subscribed,
// locally reconciled market state per symbol.
type MarketDataUseCase struct {
	streamAPI domain.MarketStreamAPI
}

func NewMarketDataUseCase(streamAPI domain.MarketStreamAPI) *MarketDataUseCase {
	return &MarketDataUseCase{streamAPI: streamAPI}
}

// GetOrderBook returns the reconciled book for the symbol. On first call the
// subscription is kicked off and ErrOrderBookNotFound is returned until the
// initial backlog is drained; callers poll or fall back to REST meanwhile.
func (u *MarketDataUseCase) GetOrderBook(symbol *domain.MarketSymbol) (*domain.OrderBook, error) {
	if book, ok := u.streamAPI.OrderBook(symbol); ok {
		return book, nil
	}

	if err := u.streamAPI.EnsureOrderBook(symbol); err != nil {
		return nil, err
	}
	logger.Printf("orderbook for %s is synchronizing", symbol.InstID())
	return nil, domain.ErrOrderBookNotFound
}

// TryGetBestBidAsk returns the current top of book. ok is false while the
// symbol is unsubscribed, synchronizing, or one side of the book is empty.
func (u *MarketDataUseCase) TryGetBestBidAsk(symbol *domain.MarketSymbol) (bid, ask, bidSize, askSize decimal.Decimal, ok bool) {
	book, found := u.streamAPI.OrderBook(symbol)
	if !found {
		if err := u.streamAPI.EnsureOrderBook(symbol); err != nil {
			logger.Printf("failed to subscribe %s: %s", symbol.InstID(), err)
		}
		return decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, false
	}

	best, valid := book.BestBidAsk()
	if !valid {
		return decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, false
	}
	return best.Bid, best.Ask, best.BidSize, best.AskSize, true
}

// TruncateByPriceLimit filters the book's levels down to the exchange's
// enforced price band: asks above the buy limit and bids below the sell
// limit cannot trade, so they are dropped. Without a known enabled band the
// book passes through untouched.
func (u *MarketDataUseCase) TruncateByPriceLimit(symbol *domain.MarketSymbol, book *domain.OrderBook) (bids, asks []domain.BookLevel) {
	bids = book.GetBids()
	asks = book.GetAsks()

	limit, ok := u.streamAPI.PriceLimit(symbol)
	if !ok || !limit.Enabled {
		return bids, asks
	}

	keptBids := bids[:0]
	for _, level := range bids {
		if level.Price.GreaterThanOrEqual(limit.SellLimit) {
			keptBids = append(keptBids, level)
		}
	}

	keptAsks := asks[:0]
	for _, level := range asks {
		if level.Price.LessThanOrEqual(limit.BuyLimit) {
			keptAsks = append(keptAsks, level)
		}
	}
	return keptBids, keptAsks
}

// Unsubscribe releases everything held for the symbol. Idempotent.
func (u *MarketDataUseCase) Unsubscribe(symbol *domain.MarketSymbol) error {
	return u.streamAPI.Unsubscribe(symbol)
}
