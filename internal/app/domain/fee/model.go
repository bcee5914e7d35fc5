// Package fee defines the platform fee ledger entities.
package fee

import "time"

// BpsDivisor is the denominator for fee rates expressed in basis points.
const BpsDivisor = 10_000

// Balance is the accumulated fee owed to the fee receiver for one asset.
// Native fees are tracked under the native asset key, separately from every
// token asset.
type Balance struct {
	Asset     string
	Amount    int64
	UpdatedAt time.Time
}

// Amount returns the fee withheld from a payout at rateBps basis points,
// rounded down. Sub-threshold payouts yield zero.
func Amount(payout, rateBps int64) int64 {
	if payout <= 0 || rateBps <= 0 {
		return 0
	}
	return payout * rateBps / BpsDivisor
}
