package domain

import "github.com/shopspring/decimal"

// PriceLimit is the exchange-enforced price band for one instrument. Pushes
// always carry the full state, so reconciliation is "highest timestamp wins"
// with no partial merge.
type PriceLimit struct {
	BuyLimit  decimal.Decimal
	SellLimit decimal.Decimal
	Enabled   bool
	Timestamp int64
}

// ReducePriceLimit keeps whichever of the two limits is newest.
func ReducePriceLimit(current *PriceLimit, incoming *PriceLimit) (*PriceLimit, error) {
	if incoming == nil {
		return current, ErrSkipMessage
	}
	if current != nil && incoming.Timestamp < current.Timestamp {
		return current, ErrSkipMessage
	}
	return incoming, nil
}
