package okx

import (
	"fmt"
	"log"
	"os"
	"time"

	json "github.com/goccy/go-json"

	"github.com/spooky-finn/go-okx-bridge/domain"
	"github.com/spooky-finn/go-okx-bridge/helpers"
)

var streamLogger = log.New(os.Stdout, "[okx-stream] ", log.LstdFlags)

const (
	channelBooks      = "books"
	channelPriceLimit = "price-limit"
	channelOrders     = "orders"

	wsActionSnapshot = "snapshot"
	wsActionUpdate   = "update"

	defaultBookDepth = 400

	// Order pushes for the same fill may arrive twice across a reconnect,
	// since the exchange replays recent private events after re-login.
	fillDedupTTL      = 10 * time.Minute
	orderEventBufSize = 256
)

type wsBookModel struct {
	Asks      [][]string `json:"asks"`
	Bids      [][]string `json:"bids"`
	SeqID     int64      `json:"seqId"`
	PrevSeqID int64      `json:"prevSeqId"`
	Checksum  int32      `json:"checksum"`
	Ts        string     `json:"ts"`
}

type wsPriceLimitModel struct {
	InstID  string `json:"instId"`
	BuyLmt  string `json:"buyLmt"`
	SellLmt string `json:"sellLmt"`
	Enabled bool   `json:"enabled"`
	Ts      string `json:"ts"`
}

type wsOrderModel struct {
	InstID  string `json:"instId"`
	OrdID   string `json:"ordId"`
	TradeID string `json:"tradeId"`
	State   string `json:"state"`
	FillSz  string `json:"fillSz"`
	FillPx  string `json:"fillPx"`
	Side    string `json:"side"`
	UTime   string `json:"uTime"`
}

// OrderUpdate is one deduplicated private order event.
type OrderUpdate struct {
	InstID    string
	OrderID   string
	TradeID   string
	State     string
	Side      string
	FillSize  string
	FillPrice string
	Timestamp int64
}

// OKXStreamAPI routes stream frames into per-instrument synchronizers and
// exposes the synchronized state. Public market data rides one socket,
// private order events another, both throttled by the same dial limiter.
type OKXStreamAPI struct {
	public  *OKXStreamClient
	private *OKXStreamClient

	books  *OrderbookMaintainer
	limits *PriceLimitMaintainer

	fillDedup   *helpers.TTLMap[string, struct{}]
	orderEvents chan OrderUpdate
}

func NewOKXStreamAPI(public, private *OKXStreamClient, syncAPI domain.ProviderSyncAPI) *OKXStreamAPI {
	return &OKXStreamAPI{
		public:      public,
		private:     private,
		books:       NewOrderbookMaintainer(syncAPI, defaultBookDepth),
		limits:      NewPriceLimitMaintainer(syncAPI),
		fillDedup:   helpers.NewTTLMap[string, struct{}](fillDedupTTL, time.Minute),
		orderEvents: make(chan OrderUpdate, orderEventBufSize),
	}
}

// EnsureOrderBook subscribes the instrument's depth and price band channels
// and starts their synchronizers. Calling it again for a tracked instrument
// is a no-op.
func (api *OKXStreamAPI) EnsureOrderBook(symbol *domain.MarketSymbol) error {
	instID := symbol.InstID()

	if err := api.public.Subscribe(channelBooks, instID, api.handleBookFrame); err != nil {
		return fmt.Errorf("subscribe %s %s: %w", channelBooks, instID, err)
	}
	if err := api.public.Subscribe(channelPriceLimit, instID, api.handlePriceLimitFrame); err != nil {
		return fmt.Errorf("subscribe %s %s: %w", channelPriceLimit, instID, err)
	}

	api.books.Ensure(instID)
	api.limits.Ensure(instID)
	return nil
}

// OrderBook returns the synchronized book, or false while the instrument is
// untracked or still replaying its backlog.
func (api *OKXStreamAPI) OrderBook(symbol *domain.MarketSymbol) (*domain.OrderBook, bool) {
	return api.books.OrderBook(symbol.InstID())
}

func (api *OKXStreamAPI) PriceLimit(symbol *domain.MarketSymbol) (*domain.PriceLimit, bool) {
	return api.limits.PriceLimit(symbol.InstID())
}

// Unsubscribe drops the instrument's channels and releases its synchronizers.
// Idempotent: unsubscribing an untracked instrument does nothing.
func (api *OKXStreamAPI) Unsubscribe(symbol *domain.MarketSymbol) error {
	instID := symbol.InstID()

	if err := api.public.Unsubscribe(channelBooks, instID); err != nil {
		return fmt.Errorf("unsubscribe %s %s: %w", channelBooks, instID, err)
	}
	if err := api.public.Unsubscribe(channelPriceLimit, instID); err != nil {
		return fmt.Errorf("unsubscribe %s %s: %w", channelPriceLimit, instID, err)
	}

	api.books.Remove(instID)
	api.limits.Remove(instID)
	return nil
}

// SubscribeOrders registers the private order channel. Requires a private
// client with credentials.
func (api *OKXStreamAPI) SubscribeOrders() error {
	if api.private == nil {
		return fmt.Errorf("private stream is not configured")
	}
	return api.private.Subscribe(channelOrders, "", api.handleOrderFrame)
}

// OrderUpdates delivers private order events with replayed fills removed.
func (api *OKXStreamAPI) OrderUpdates() <-chan OrderUpdate {
	return api.orderEvents
}

func (api *OKXStreamAPI) Close() {
	api.books.RemoveAll()
	api.limits.RemoveAll()
	api.fillDedup.Close()
}

func (api *OKXStreamAPI) handleBookFrame(arg wsArg, action string, data json.RawMessage) {
	var models []wsBookModel
	if err := json.Unmarshal(data, &models); err != nil {
		streamLogger.Printf("decode %s frame for %s: %s", channelBooks, arg.InstID, err)
		return
	}

	for _, model := range models {
		bids, err := parseBookLevels(model.Bids)
		if err != nil {
			streamLogger.Printf("malformed bids for %s: %s", arg.InstID, err)
			continue
		}
		asks, err := parseBookLevels(model.Asks)
		if err != nil {
			streamLogger.Printf("malformed asks for %s: %s", arg.InstID, err)
			continue
		}

		api.books.Handle(arg.InstID, &BookUpdate{
			Action:    action,
			Bids:      bids,
			Asks:      asks,
			SeqID:     model.SeqID,
			PrevSeqID: model.PrevSeqID,
			Checksum:  model.Checksum,
			Ts:        parseMillis(model.Ts),
		})
	}
}

func (api *OKXStreamAPI) handlePriceLimitFrame(arg wsArg, action string, data json.RawMessage) {
	var models []wsPriceLimitModel
	if err := json.Unmarshal(data, &models); err != nil {
		streamLogger.Printf("decode %s frame for %s: %s", channelPriceLimit, arg.InstID, err)
		return
	}

	for _, model := range models {
		limit, err := parsePriceLimit(priceLimitModel(model))
		if err != nil {
			streamLogger.Printf("malformed price limit for %s: %s", arg.InstID, err)
			continue
		}
		api.limits.Handle(arg.InstID, limit)
	}
}

func (api *OKXStreamAPI) handleOrderFrame(arg wsArg, action string, data json.RawMessage) {
	var models []wsOrderModel
	if err := json.Unmarshal(data, &models); err != nil {
		streamLogger.Printf("decode %s frame: %s", channelOrders, err)
		return
	}

	for _, model := range models {
		if model.TradeID != "" {
			key := model.OrdID + "|" + model.TradeID
			if !api.fillDedup.SetIfAbsent(key, struct{}{}) {
				continue
			}
		}

		event := OrderUpdate{
			InstID:    model.InstID,
			OrderID:   model.OrdID,
			TradeID:   model.TradeID,
			State:     model.State,
			Side:      model.Side,
			FillSize:  model.FillSz,
			FillPrice: model.FillPx,
			Timestamp: parseMillis(model.UTime),
		}

		select {
		case api.orderEvents <- event:
		default:
			streamLogger.Printf("order event buffer full, dropping update for %s", model.OrdID)
		}
	}
}
