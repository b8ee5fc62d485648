package vwap

import (
	"math"

	"github.com/shopspring/decimal"
)

// windowEstimate is the trailing window of one bar. It is rebuilt from the
// deviation cache on every bar and never carried over to the next one.
type windowEstimate struct {
	samples      int
	sumOfSquares decimal.Decimal
}

// walkWindow sums the cached deviations of up to period bars preceding
// index, walking backward from index-1 and stopping at anchorStart.
//
// The sum is rebuilt on every call. Do not turn it into a running
// add/subtract window: its results differ once the period changes mid-stream.
func walkWindow(c *deviationCache, index, anchorStart, period int) windowEstimate {
	est := windowEstimate{sumOfSquares: decimal.Zero}
	for k := index - 1; k >= anchorStart && est.samples < period; k-- {
		est.sumOfSquares = est.sumOfSquares.Add(c.at(k))
		est.samples++
	}
	return est
}

// stdDev returns sqrt((sumOfSquares + current) / (samples + 1)), in ticks.
func (w windowEstimate) stdDev(current decimal.Decimal) decimal.Decimal {
	variance := w.sumOfSquares.Add(current).Div(decimal.NewFromInt(int64(w.samples + 1)))
	return decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))
}
