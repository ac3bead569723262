package okx

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/spooky-finn/go-okx-bridge/domain"
)

const defaultRestEndpoint = "https://www.okx.com"

type restResponse[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

type bookSnapshotModel struct {
	Asks     [][]string `json:"asks"`
	Bids     [][]string `json:"bids"`
	SeqID    string     `json:"seqId"`
	Checksum int32      `json:"checksum"`
	Ts       string     `json:"ts"`
}

type priceLimitModel struct {
	InstID  string `json:"instId"`
	BuyLmt  string `json:"buyLmt"`
	SellLmt string `json:"sellLmt"`
	Enabled bool   `json:"enabled"`
	Ts      string `json:"ts"`
}

type positionTierModel struct {
	Tier  string `json:"tier"`
	MaxSz string `json:"maxSz"`
}

// OKXSyncAPI is the REST side of the exchange: authoritative snapshots the
// synchronizers reconcile the stream against.
type OKXSyncAPI struct {
	endpoint string
	client   *http.Client
}

func NewOKXSyncAPI() *OKXSyncAPI {
	endpoint := os.Getenv("OKX_REST_URL")
	if endpoint == "" {
		endpoint = defaultRestEndpoint
	}
	return &OKXSyncAPI{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (api *OKXSyncAPI) OrderBookSnapshot(symbol *domain.MarketSymbol, depth int) (*domain.OrderBookSnapshot, error) {
	params := url.Values{}
	params.Set("instId", symbol.InstID())
	if depth > 0 {
		params.Set("sz", strconv.Itoa(depth))
	}

	data, err := getList[bookSnapshotModel](api, "/api/v5/market/books", params)
	if err != nil {
		return nil, fmt.Errorf("failed to get order book snapshot: %w", err)
	}
	model := data[0]

	seq, err := strconv.ParseInt(model.SeqID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot sequence %q: %w", model.SeqID, err)
	}

	bids, err := parseBookLevels(model.Bids)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot bids: %w", err)
	}
	asks, err := parseBookLevels(model.Asks)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot asks: %w", err)
	}

	return &domain.OrderBookSnapshot{
		Bids:         bids,
		Asks:         asks,
		LastUpdateID: seq,
		Checksum:     model.Checksum,
		Timestamp:    parseMillis(model.Ts),
	}, nil
}

func (api *OKXSyncAPI) PriceLimit(symbol *domain.MarketSymbol) (*domain.PriceLimit, error) {
	params := url.Values{}
	params.Set("instId", symbol.InstID())

	data, err := getList[priceLimitModel](api, "/api/v5/public/price-limit", params)
	if err != nil {
		return nil, fmt.Errorf("failed to get price limit: %w", err)
	}
	return parsePriceLimit(data[0])
}

func (api *OKXSyncAPI) PositionTiers(instID string) ([]domain.RiskTier, error) {
	params := url.Values{}
	params.Set("instId", instID)

	data, err := getList[positionTierModel](api, "/api/v5/public/position-tiers", params)
	if err != nil {
		return nil, fmt.Errorf("failed to get position tiers: %w", err)
	}

	tiers := make([]domain.RiskTier, 0, len(data))
	for _, model := range data {
		tier, err := strconv.Atoi(model.Tier)
		if err != nil {
			return nil, fmt.Errorf("failed to parse tier number %q: %w", model.Tier, err)
		}
		ceiling, err := decimal.NewFromString(model.MaxSz)
		if err != nil {
			return nil, fmt.Errorf("failed to parse tier ceiling %q: %w", model.MaxSz, err)
		}
		tiers = append(tiers, domain.RiskTier{Tier: tier, MaxExposure: ceiling})
	}
	return tiers, nil
}

func getList[T any](api *OKXSyncAPI, path string, params url.Values) ([]T, error) {
	res, err := api.client.Get(api.endpoint + path + "?" + params.Encode())
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", res.StatusCode, body)
	}

	var response restResponse[T]
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response body: %w, data: %s", err, body)
	}
	if response.Code != "0" {
		return nil, fmt.Errorf("exchange error code=%s: %s", response.Code, response.Msg)
	}
	if len(response.Data) == 0 {
		return nil, fmt.Errorf("empty data in response: %s", body)
	}
	return response.Data, nil
}

func parseBookLevels(levels [][]string) ([]domain.BookLevel, error) {
	out := make([]domain.BookLevel, 0, len(levels))
	for _, level := range levels {
		if len(level) < 2 {
			return nil, fmt.Errorf("malformed level %v", level)
		}
		price, err := decimal.NewFromString(level[0])
		if err != nil {
			return nil, fmt.Errorf("malformed level price %q: %w", level[0], err)
		}
		size, err := decimal.NewFromString(level[1])
		if err != nil {
			return nil, fmt.Errorf("malformed level size %q: %w", level[1], err)
		}
		out = append(out, domain.BookLevel{Price: price, Size: size})
	}
	return out, nil
}

func parsePriceLimit(model priceLimitModel) (*domain.PriceLimit, error) {
	buy, err := decimal.NewFromString(model.BuyLmt)
	if err != nil {
		return nil, fmt.Errorf("malformed buy limit %q: %w", model.BuyLmt, err)
	}
	sell, err := decimal.NewFromString(model.SellLmt)
	if err != nil {
		return nil, fmt.Errorf("malformed sell limit %q: %w", model.SellLmt, err)
	}
	return &domain.PriceLimit{
		BuyLimit:  buy,
		SellLimit: sell,
		Enabled:   model.Enabled,
		Timestamp: parseMillis(model.Ts),
	}, nil
}

func parseMillis(ts string) int64 {
	millis, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0
	}
	return millis
}
