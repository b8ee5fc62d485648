package vwap

import (
	"github.com/shopspring/decimal"

	"vwap-engine/internal/model"
)

// synthesize builds the tier bands: central ± stdDev * multiplier * tick.
func synthesize(central, stdDev, tick decimal.Decimal, mult [model.Tiers]decimal.Decimal) (upper, lower [model.Tiers]decimal.Decimal) {
	unit := stdDev.Mul(tick)
	for i, m := range mult {
		off := unit.Mul(m)
		upper[i] = central.Add(off)
		lower[i] = central.Sub(off)
	}
	return upper, lower
}
