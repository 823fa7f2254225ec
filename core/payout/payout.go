// Package payout splits an order amount between the platform and the expert.
package payout

import (
	"github.com/shopspring/decimal"
)

// DefaultCommissionRate is used when the configured rate cannot be read.
const DefaultCommissionRate = 15.0

type Split struct {
	PlatformProfit int64 `json:"platformProfit"`
	EarningAmount  int64 `json:"earningAmount"`
}

// Compute rounds the commission half up and gives the expert the exact
// remainder, so both parts always add up to amount.
func Compute(amount int64, ratePercent float64) Split {
	profit := decimal.NewFromInt(amount).
		Mul(decimal.NewFromFloat(ratePercent)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()

	return Split{
		PlatformProfit: profit,
		EarningAmount:  amount - profit,
	}
}

// Resolve returns rate when it was read successfully and is within
// [0, 100]. Otherwise it returns the default and false so the caller can
// log the fallback.
func Resolve(rate float64, err error) (float64, bool) {
	if err != nil || rate < 0 || rate > 100 {
		return DefaultCommissionRate, false
	}
	return rate, true
}
