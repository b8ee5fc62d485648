package vwap

import "vwap-engine/internal/model"

// BarSource supplies the bar series. Bar must return the bar at an absolute
// index in [0, Len()).
type BarSource interface {
	Bar(index int) (model.Bar, error)
	Len() int
}

// AnchorOracle tells the engine where anchor periods begin. The engine never
// derives calendar boundaries itself.
type AnchorOracle interface {
	// IsNewAnchorPeriod reports whether the bar at index opens a new period
	// of the given anchor granularity.
	IsNewAnchorPeriod(index int, a Anchor) bool

	// GranularityMatches reports whether the native bar granularity equals
	// the anchor granularity (e.g. daily bars with a daily anchor), in which
	// case every bar is its own period and no line break is requested.
	GranularityMatches(a Anchor) bool
}

// Sink receives the engine's output.
type Sink interface {
	// OnBarProcessed is called once for every processed bar.
	OnBarProcessed(set model.BandSet)

	// RequestLineBreak asks the renderer to end the line at index.
	RequestLineBreak(index int)
}

// NopSink discards all output.
type NopSink struct{}

func (NopSink) OnBarProcessed(model.BandSet) {}
func (NopSink) RequestLineBreak(int)         {}

// SinkFuncs adapts plain functions to Sink. Nil fields are skipped.
type SinkFuncs struct {
	Bar   func(model.BandSet)
	Break func(index int)
}

func (f SinkFuncs) OnBarProcessed(set model.BandSet) {
	if f.Bar != nil {
		f.Bar(set)
	}
}

func (f SinkFuncs) RequestLineBreak(index int) {
	if f.Break != nil {
		f.Break(index)
	}
}
