package vwap

import (
	"github.com/shopspring/decimal"

	"vwap-engine/internal/model"
)

var one = decimal.NewFromInt(1)

// anchorState is the accumulator after a bar: where the active anchor period
// began and the running weight and weighted price sum since then.
type anchorState struct {
	start  int
	weight decimal.Decimal // always >= 1
	sum    decimal.Decimal
}

// accumulation is the per-mode weighting strategy. One is selected from the
// settings and used for every bar.
type accumulation interface {
	// contribution returns the bar's weight and weight*price.
	contribution(bar *model.Bar) (weight, value decimal.Decimal)

	// seed returns the central value of bar 0.
	seed(bar *model.Bar) decimal.Decimal

	// central derives the central value from the running totals; bars is the
	// number of bars in the active period including the current one.
	central(sum, weight decimal.Decimal, bars int) decimal.Decimal
}

func accumulationFor(s Settings) accumulation {
	if s.mode == EqualWeight {
		return equalWeighted{}
	}
	return volumeWeighted{source: s.source}
}

// volumeWeighted weights each bar by its volume, floored at 1.
type volumeWeighted struct {
	source PriceSource
}

func (v volumeWeighted) price(bar *model.Bar) decimal.Decimal {
	if v.source == SourceClose {
		return bar.Close
	}
	return bar.Typical()
}

func (v volumeWeighted) contribution(bar *model.Bar) (decimal.Decimal, decimal.Decimal) {
	w := effectiveWeight(bar.Volume)
	return w, w.Mul(v.price(bar))
}

func (v volumeWeighted) seed(bar *model.Bar) decimal.Decimal { return v.price(bar) }

func (volumeWeighted) central(sum, weight decimal.Decimal, _ int) decimal.Decimal {
	return sum.Div(weight)
}

// equalWeighted gives every bar's typical price weight 1.
type equalWeighted struct{}

func (equalWeighted) contribution(bar *model.Bar) (decimal.Decimal, decimal.Decimal) {
	return one, bar.Typical()
}

func (equalWeighted) seed(bar *model.Bar) decimal.Decimal { return bar.Typical() }

func (equalWeighted) central(sum, _ decimal.Decimal, bars int) decimal.Decimal {
	return sum.Div(decimal.NewFromInt(int64(bars)))
}

// effectiveWeight floors volume at 1 so the running weight is never zero.
func effectiveWeight(volume decimal.Decimal) decimal.Decimal {
	if volume.LessThan(one) {
		return one
	}
	return volume
}

// accumulate folds bar into the previous bar's state and returns the new
// state with the bar's central value. prev is ignored on bar 0 and on a
// reset, where the state is reseeded from this bar alone.
func accumulate(acc accumulation, bar *model.Bar, index int, reset bool, prev anchorState) (anchorState, decimal.Decimal) {
	w, v := acc.contribution(bar)
	if index == 0 {
		return anchorState{start: 0, weight: w, sum: v}, acc.seed(bar)
	}
	if reset {
		st := anchorState{start: index, weight: w, sum: v}
		return st, acc.central(st.sum, st.weight, 1)
	}
	st := anchorState{
		start:  prev.start,
		weight: prev.weight.Add(w),
		sum:    prev.sum.Add(v),
	}
	return st, acc.central(st.sum, st.weight, index-st.start+1)
}
