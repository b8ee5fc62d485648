// Package vwap implements an anchored VWAP/TWAP tracker with three tiers of
// standard-deviation bands.
//
// For each bar the engine updates (or, on an anchor boundary, reseeds) the
// running weighted average, caches the bar's squared deviation from it,
// resums the cached deviations over a trailing window that never crosses the
// anchor start, and derives the bands. Bars must arrive in increasing index
// order; every per-bar series is an append-only slice owned by the Engine.
package vwap

import (
	"fmt"

	"github.com/shopspring/decimal"

	"vwap-engine/internal/model"
)

// State is the accumulator state of the current anchor period.
type State int

const (
	StateEmpty        State = iota // nothing processed yet
	StateSeeded                    // last bar was bar 0 or opened a new period
	StateAccumulating              // last bar extended the current period
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateSeeded:
		return "seeded"
	case StateAccumulating:
		return "accumulating"
	default:
		return "unknown"
	}
}

// Engine computes the central line and bands for one bar series.
// An Engine is not safe for concurrent use; callers serialize bar delivery.
type Engine struct {
	settings Settings
	acc      accumulation
	tick     decimal.Decimal

	source BarSource
	oracle AnchorOracle
	sink   Sink

	// per-bar series, all of length Len()
	anchors []anchorState
	devs    deviationCache
	out     []model.BandSet

	// index of the last bar a line break was requested for
	lastBreak int
}

// New creates an engine over source. tick must be positive and settings
// valid; a nil sink discards output.
func New(tick decimal.Decimal, settings Settings, source BarSource, oracle AnchorOracle, sink Sink) (*Engine, error) {
	if !tick.IsPositive() {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidTickSize, tick)
	}
	if !settings.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSettings, settings)
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Engine{
		settings:  settings,
		acc:       accumulationFor(settings),
		tick:      tick,
		source:    source,
		oracle:    oracle,
		sink:      sink,
		lastBreak: -1,
	}, nil
}

// Len returns the number of processed bars.
func (e *Engine) Len() int { return len(e.out) }

// Settings returns the active settings.
func (e *Engine) Settings() Settings { return e.settings }

// TickSize returns the instrument tick size.
func (e *Engine) TickSize() decimal.Decimal { return e.tick }

// State reports whether the last processed bar seeded or extended its period.
func (e *Engine) State() State {
	n := len(e.out)
	if n == 0 {
		return StateEmpty
	}
	if e.anchors[n-1].start == n-1 {
		return StateSeeded
	}
	return StateAccumulating
}

// AnchorStart returns the first bar of the active anchor period, or -1
// before the first bar.
func (e *Engine) AnchorStart() int {
	if len(e.anchors) == 0 {
		return -1
	}
	return e.anchors[len(e.anchors)-1].start
}

// Output returns the band set written for index.
func (e *Engine) Output(index int) (model.BandSet, bool) {
	if index < 0 || index >= len(e.out) {
		return model.BandSet{}, false
	}
	return e.out[index], true
}

// Outputs returns a copy of the band sets from index from onward.
func (e *Engine) Outputs(from int) []model.BandSet {
	if from < 0 {
		from = 0
	}
	if from >= len(e.out) {
		return nil
	}
	cp := make([]model.BandSet, len(e.out)-from)
	copy(cp, e.out[from:])
	return cp
}

// Process computes bar index. index must be Len() (the next bar) or Len()-1
// (the most recent bar again, e.g. after the forming bar changed). Any other
// index fails with ErrOutOfSequence.
func (e *Engine) Process(index int) (model.BandSet, error) {
	n := len(e.out)
	if index != n && (n == 0 || index != n-1) {
		return model.BandSet{}, fmt.Errorf("%w: got bar %d, expected %d", ErrOutOfSequence, index, n)
	}

	bar, err := e.source.Bar(index)
	if err != nil {
		return model.BandSet{}, fmt.Errorf("vwap: read bar %d: %w", index, err)
	}
	if err := ValidateBar(&bar); err != nil {
		return model.BandSet{}, fmt.Errorf("bar %d: %w", index, err)
	}
	// drop a recomputed bar only once its replacement is known to be valid
	e.truncate(index)

	reset := index == 0 || e.isBoundary(index)

	var prev anchorState
	if index > 0 {
		prev = e.anchors[index-1]
	}
	st, central := accumulate(e.acc, &bar, index, reset, prev)

	if reset && index > 0 && index-1 > e.lastBreak && !e.oracle.GranularityMatches(e.settings.anchor) {
		e.lastBreak = index - 1
		e.sink.RequestLineBreak(index - 1)
	}

	// bar 0 only seeds: no deviation, bands on the seed
	var dev decimal.Decimal
	if index == 0 {
		dev = e.devs.seed()
	} else {
		dev = e.devs.record(index, bar.Close, central, e.tick)
	}
	est := walkWindow(&e.devs, index, st.start, e.settings.period)
	sd := est.stdDev(dev)
	upper, lower := synthesize(central, sd, e.tick, e.settings.multipliers)

	set := model.BandSet{
		Token:       bar.Token,
		Exchange:    bar.Exchange,
		TF:          bar.TF,
		Index:       index,
		TS:          bar.TS,
		Central:     central,
		Upper:       upper,
		Lower:       lower,
		StdDev:      sd,
		AnchorStart: st.start,
		Samples:     est.samples,
		Reset:       reset,
	}
	e.anchors = append(e.anchors, st)
	e.out = append(e.out, set)

	e.sink.OnBarProcessed(set)
	return set, nil
}

// CatchUp processes every bar the source holds beyond Len().
// Returns the number of bars processed.
func (e *Engine) CatchUp() (int, error) {
	count := 0
	for i := len(e.out); i < e.source.Len(); i++ {
		if _, err := e.Process(i); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Invalidate marks every output from index from onward as stale and drops
// it. Processing must resume at from.
func (e *Engine) Invalidate(from int) error {
	if from < 0 || from > len(e.out) {
		return fmt.Errorf("%w: cannot invalidate from %d with %d bars processed", ErrOutOfSequence, from, len(e.out))
	}
	e.truncate(from)
	if e.lastBreak >= from-1 {
		e.lastBreak = from - 2
	}
	return nil
}

// Recalculate drops all state and replays the whole source from bar 0.
func (e *Engine) Recalculate() (int, error) {
	if err := e.Invalidate(0); err != nil {
		return 0, err
	}
	return e.CatchUp()
}

// ApplySettings switches to s and recomputes every bar. Settings identical
// to the active ones still trigger a replay, which reproduces the same output.
// Invalid settings fail with ErrInvalidSettings and change nothing.
func (e *Engine) ApplySettings(s Settings) (int, error) {
	if !s.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidSettings, s)
	}
	e.settings = s
	e.acc = accumulationFor(s)
	return e.Recalculate()
}

func (e *Engine) isBoundary(index int) bool {
	if e.settings.anchor == AnchorUnbounded || e.oracle == nil {
		return false
	}
	return e.oracle.IsNewAnchorPeriod(index, e.settings.anchor)
}

func (e *Engine) truncate(n int) {
	if n < len(e.out) {
		e.out = e.out[:n]
		e.anchors = e.anchors[:n]
	}
	e.devs.truncate(n)
}

// ValidateBar returns an ErrInvalidBar error for a bar the engine would
// refuse to process.
func ValidateBar(b *model.Bar) error {
	if b.Volume.IsNegative() {
		return fmt.Errorf("%w: negative volume %s", ErrInvalidBar, b.Volume)
	}
	for _, p := range [...]decimal.Decimal{b.Open, b.High, b.Low, b.Close} {
		if !p.IsPositive() {
			return fmt.Errorf("%w: non-positive price %s", ErrInvalidBar, p)
		}
	}
	if b.High.LessThan(b.Low) {
		return fmt.Errorf("%w: high %s below low %s", ErrInvalidBar, b.High, b.Low)
	}
	return nil
}
