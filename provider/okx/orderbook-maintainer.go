package okx

import (
	"log"
	"os"

	"github.com/spooky-finn/go-okx-bridge/domain"
	promclient "github.com/spooky-finn/go-okx-bridge/infrastructure/prometheus"
)

var maintainerLogger = log.New(os.Stdout, "[okx-orderbook] ", log.LstdFlags)

// OrderbookMaintainer keeps one synchronized order book per instrument.
// Each book is seeded from a REST snapshot and advanced by stream deltas;
// buffered deltas that arrived during the snapshot fetch are replayed by
// the synchronizer, so no update between snapshot and stream is lost.
type OrderbookMaintainer struct {
	syncAPI   domain.ProviderSyncAPI
	validator *DepthUpdateValidator
	depth     int

	sync *domain.StateSynchronizer[string, *BookUpdate, domain.OrderBook]
}

func NewOrderbookMaintainer(syncAPI domain.ProviderSyncAPI, depth int) *OrderbookMaintainer {
	m := &OrderbookMaintainer{
		syncAPI:   syncAPI,
		validator: &DepthUpdateValidator{},
		depth:     depth,
	}

	m.sync = domain.NewStateSynchronizer(m.seedFromSnapshot, m.applyUpdate, domain.DefaultSyncBufferSize)
	m.sync.OnBufferDrop = func(instID string) {
		promclient.DroppedUpdateCounter.Inc()
	}
	return m
}

// Ensure starts maintaining a book for the instrument if not already doing so.
func (m *OrderbookMaintainer) Ensure(instID string) {
	m.sync.Ensure(instID)
}

// Handle feeds one stream frame into the instrument's synchronizer.
func (m *OrderbookMaintainer) Handle(instID string, upd *BookUpdate) {
	m.sync.Push(instID, upd)
}

// OrderBook returns the book once the initial backlog has been drained.
func (m *OrderbookMaintainer) OrderBook(instID string) (*domain.OrderBook, bool) {
	return m.sync.GetState(instID)
}

func (m *OrderbookMaintainer) Status(instID string) (domain.SyncStatus, bool) {
	return m.sync.Status(instID)
}

// Remove stops maintaining the instrument's book. Safe to call twice.
func (m *OrderbookMaintainer) Remove(instID string) {
	_, tracked := m.sync.Status(instID)
	m.sync.RemoveState(instID)
	if tracked {
		promclient.OpenOrderBookGauge.Dec()
	}
}

func (m *OrderbookMaintainer) RemoveAll() {
	m.sync.RemoveAll()
}

// seedFromSnapshot fetches a REST snapshot and loads it into the book.
// On re-synchronization the existing book is reused, so pointers handed
// out to consumers keep observing the refreshed state.
func (m *OrderbookMaintainer) seedFromSnapshot(instID string, current *domain.OrderBook) (*domain.OrderBook, error) {
	symbol, err := domain.NewMarketSymbolFromString(instID)
	if err != nil {
		return nil, err
	}

	snapshot, err := m.syncAPI.OrderBookSnapshot(symbol, m.depth)
	if err != nil {
		return nil, err
	}

	book := current
	if book == nil {
		book = domain.NewOrderBook(symbol)
		promclient.OpenOrderBookGauge.Inc()
	}
	book.ApplyFullSnapshot(snapshot.Bids, snapshot.Asks, snapshot.LastUpdateID)

	maintainerLogger.Printf("seeded order book %s at seq %d", instID, snapshot.LastUpdateID)
	return book, nil
}

func (m *OrderbookMaintainer) applyUpdate(book *domain.OrderBook, upd *BookUpdate) (*domain.OrderBook, error) {
	if upd.Action == wsActionSnapshot {
		book.ApplyFullSnapshot(upd.Bids, upd.Asks, upd.SeqID)
		m.verifyChecksum(book, upd)
		return book, nil
	}

	err := m.validator.IsValidUpd(upd, book.LastUpdateID)
	switch {
	case m.validator.IsErrOutdated(err):
		return book, domain.ErrSkipMessage
	case err != nil:
		maintainerLogger.Printf("sequence gap on %s: have %d, got (%d, %d]",
			book.Symbol.InstID(), book.LastUpdateID, upd.PrevSeqID, upd.SeqID)
		return book, err
	}

	book.ApplyIncrementalUpdate(upd.Bids, upd.Asks, upd.SeqID, upd.Ts)
	m.verifyChecksum(book, upd)
	return book, nil
}

// verifyChecksum is a diagnostic: a mismatch is counted and logged but does
// not tear the book down, since sequence validation already guards against
// lost updates.
func (m *OrderbookMaintainer) verifyChecksum(book *domain.OrderBook, upd *BookUpdate) {
	if upd.Checksum == 0 {
		return
	}
	if !domain.ValidateChecksum(book, upd.Checksum) {
		promclient.ChecksumMismatchCounter.Inc()
		maintainerLogger.Printf("checksum mismatch on %s at seq %d: want %d, have %d",
			book.Symbol.InstID(), upd.SeqID, upd.Checksum, domain.CalculateChecksum(book))
	}
}
