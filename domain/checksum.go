package domain

import (
	"hash/crc32"
	"strings"

	"github.com/shopspring/decimal"
)

// The exchange computes its book checksum over the first 25 levels of each
// side, interleaved bid:ask starting from the best, every number printed
// with at most 8 decimal places.
const checksumDepth = 25

const checksumMaxDecimals = 8

// ChecksumPayload builds the canonical "price:size:price:size:..." string
// the CRC is computed over. Exposed for tests.
func ChecksumPayload(bids, asks []BookLevel) string {
	parts := make([]string, 0, 4*checksumDepth)

	for i := 0; i < checksumDepth; i++ {
		if i < len(bids) {
			parts = append(parts,
				formatChecksumNumber(bids[i].Price),
				formatChecksumNumber(bids[i].Size),
			)
		}
		if i < len(asks) {
			parts = append(parts,
				formatChecksumNumber(asks[i].Price),
				formatChecksumNumber(asks[i].Size),
			)
		}
	}

	return strings.Join(parts, ":")
}

// CalculateChecksum returns the CRC32 of the canonical payload, reinterpreted
// as a signed 32-bit integer the way the exchange transmits it.
func CalculateChecksum(book *OrderBook) int32 {
	payload := ChecksumPayload(book.GetBids(), book.GetAsks())
	return int32(crc32.ChecksumIEEE([]byte(payload)))
}

// ValidateChecksum reports whether the book matches the expected checksum.
// A mismatch is a diagnostic signal, not a failure: the caller decides what
// to do with it.
func ValidateChecksum(book *OrderBook, expected int32) bool {
	return CalculateChecksum(book) == expected
}

func formatChecksumNumber(d decimal.Decimal) string {
	if -d.Exponent() > checksumMaxDecimals {
		d = d.Truncate(checksumMaxDecimals)
	}
	return d.String()
}
