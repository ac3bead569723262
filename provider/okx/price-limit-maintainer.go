package okx

import (
	"github.com/spooky-finn/go-okx-bridge/domain"
)

// PriceLimitMaintainer keeps the latest price band per instrument, seeded
// from REST and advanced by stream pushes. Stale pushes (older timestamp)
// are dropped by the reducer.
type PriceLimitMaintainer struct {
	syncAPI domain.ProviderSyncAPI
	sync    *domain.StateSynchronizer[string, *domain.PriceLimit, domain.PriceLimit]
}

func NewPriceLimitMaintainer(syncAPI domain.ProviderSyncAPI) *PriceLimitMaintainer {
	m := &PriceLimitMaintainer{syncAPI: syncAPI}
	m.sync = domain.NewStateSynchronizer(m.seed, domain.ReducePriceLimit, domain.DefaultSyncBufferSize)
	return m
}

func (m *PriceLimitMaintainer) Ensure(instID string) {
	m.sync.Ensure(instID)
}

func (m *PriceLimitMaintainer) Handle(instID string, limit *domain.PriceLimit) {
	m.sync.Push(instID, limit)
}

func (m *PriceLimitMaintainer) PriceLimit(instID string) (*domain.PriceLimit, bool) {
	return m.sync.GetState(instID)
}

func (m *PriceLimitMaintainer) Remove(instID string) {
	m.sync.RemoveState(instID)
}

func (m *PriceLimitMaintainer) RemoveAll() {
	m.sync.RemoveAll()
}

func (m *PriceLimitMaintainer) seed(instID string, current *domain.PriceLimit) (*domain.PriceLimit, error) {
	symbol, err := domain.NewMarketSymbolFromString(instID)
	if err != nil {
		return nil, err
	}
	return m.syncAPI.PriceLimit(symbol)
}
