package okx

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spooky-finn/go-okx-bridge/domain"
	"github.com/spooky-finn/go-okx-bridge/helpers"
)

// Position tiers change rarely; refetching them on every limit query would
// hammer the exchange for data that is stable for weeks.
const tierCacheTTL = 24 * time.Hour

// Instrument identifies a tradable contract and whether it carries margin.
type Instrument struct {
	InstID string
	Type   string // SPOT, MARGIN, SWAP, FUTURES, OPTION
}

func (i Instrument) Margined() bool {
	return i.Type != "" && i.Type != "SPOT"
}

// OpenOrder is a resting order contributing to exposure. Prices may be
// zero: market orders have no limit price until they fill.
type OpenOrder struct {
	InstID       string
	RemainingQty decimal.Decimal
	LimitPrice   decimal.Decimal
	AvgFillPrice decimal.Decimal
}

// AccountState supplies the live account view the exposure is computed from.
type AccountState interface {
	PositionQuantity(instID string) decimal.Decimal
	OpenOrders(instID string) []OpenOrder
	MarkPrice(instID string) (decimal.Decimal, bool)
}

type TierAPI interface {
	PositionTiers(instID string) ([]domain.RiskTier, error)
}

// RiskLimitCalculator answers how much additional notional an instrument can
// absorb before hitting its tier ceiling.
type RiskLimitCalculator struct {
	api     TierAPI
	account AccountState
	tiers   *helpers.TTLMap[string, []domain.RiskTier]
}

func NewRiskLimitCalculator(api TierAPI, account AccountState) *RiskLimitCalculator {
	return &RiskLimitCalculator{
		api:     api,
		account: account,
		tiers:   helpers.NewTTLMap[string, []domain.RiskTier](tierCacheTTL, time.Hour),
	}
}

// GetAvailableLimit returns the remaining notional capacity under the tier
// whose ceiling covers the current exposure. Non-margined instruments carry
// no tier ceiling, reported as unbounded.
func (c *RiskLimitCalculator) GetAvailableLimit(inst Instrument) (available decimal.Decimal, unbounded bool, err error) {
	if !inst.Margined() {
		return decimal.Zero, true, nil
	}

	exposure := c.currentExposure(inst.InstID)

	tiers, err := c.positionTiers(inst.InstID)
	if err != nil {
		return decimal.Zero, false, err
	}
	if len(tiers) == 0 {
		return decimal.Zero, false, fmt.Errorf("no position tiers for %s", inst.InstID)
	}

	// Tiers come ordered by ascending ceiling; pick the first one that
	// covers the exposure, or the last when exposure exceeds them all.
	selected := tiers[len(tiers)-1]
	for _, tier := range tiers {
		if tier.MaxExposure.GreaterThanOrEqual(exposure) {
			selected = tier
			break
		}
	}

	available = selected.MaxExposure.Sub(exposure)
	if available.IsNegative() {
		available = decimal.Zero
	}
	return available, false, nil
}

// ClearCache drops cached tiers, forcing a refetch on the next query.
func (c *RiskLimitCalculator) ClearCache() {
	c.tiers.Clear()
}

// currentExposure sums the position notional with the notional of every
// resting order, both sides included. Orders are priced by the mark price
// when available, then the limit price, then the average fill price.
func (c *RiskLimitCalculator) currentExposure(instID string) decimal.Decimal {
	mark, hasMark := c.account.MarkPrice(instID)

	exposure := decimal.Zero
	if hasMark {
		exposure = c.account.PositionQuantity(instID).Abs().Mul(mark)
	}

	for _, order := range c.account.OpenOrders(instID) {
		price := decimal.Zero
		switch {
		case hasMark:
			price = mark
		case order.LimitPrice.IsPositive():
			price = order.LimitPrice
		case order.AvgFillPrice.IsPositive():
			price = order.AvgFillPrice
		}
		exposure = exposure.Add(order.RemainingQty.Abs().Mul(price))
	}
	return exposure
}

func (c *RiskLimitCalculator) positionTiers(instID string) ([]domain.RiskTier, error) {
	if tiers, ok := c.tiers.Get(instID); ok {
		return tiers, nil
	}

	tiers, err := c.api.PositionTiers(instID)
	if err != nil {
		return nil, err
	}
	c.tiers.Set(instID, tiers)
	return tiers, nil
}
