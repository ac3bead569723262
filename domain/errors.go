package domain

import "errors"

var (
	ErrOrderBookUpdateIsOutdated      = errors.New("orderbook update is outdated")
	ErrOrderBookUpdateIsOutOfSequence = errors.New("orderbook update is out of sequence")

	// ErrSkipMessage is returned by a reducer to drop the current message
	// without touching the reconciled state or the sync status.
	ErrSkipMessage = errors.New("skip message")

	ErrOrderBookNotFound = errors.New("order book not found")
)
