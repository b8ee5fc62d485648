package vwap

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"vwap-engine/internal/model"
)

// SnapshotVersion is the schema version written by Snapshot. Restore rejects
// any other version.
const SnapshotVersion = 1

// SettingsSpec is the serialized form of Settings, used by snapshots, the
// settings file and the admin API.
type SettingsSpec struct {
	Anchor      string            `json:"anchor" yaml:"anchor"`
	Mode        string            `json:"mode" yaml:"mode"`
	PriceSource string            `json:"price_source,omitempty" yaml:"price_source"`
	Period      int               `json:"period" yaml:"period"`
	Multipliers []decimal.Decimal `json:"multipliers" yaml:"-"`
}

// SpecOf returns the serialized form of s.
func SpecOf(s Settings) SettingsSpec {
	m := s.Multipliers()
	return SettingsSpec{
		Anchor:      s.anchor.String(),
		Mode:        s.mode.String(),
		PriceSource: s.source.String(),
		Period:      s.period,
		Multipliers: m[:],
	}
}

// Apply writes every recognized, valid field of spec into s through the
// validated setters and returns the number of fields rejected. Empty fields
// are left untouched.
func (spec SettingsSpec) Apply(s *Settings) int {
	rejected := 0
	if spec.Anchor != "" {
		if a, err := ParseAnchor(spec.Anchor); err != nil || !s.SetAnchor(a) {
			rejected++
		}
	}
	if spec.Mode != "" {
		if m, err := ParseMode(spec.Mode); err != nil || !s.SetMode(m) {
			rejected++
		}
	}
	if spec.PriceSource != "" {
		if p, err := ParsePriceSource(spec.PriceSource); err != nil || !s.SetPriceSource(p) {
			rejected++
		}
	}
	if spec.Period != 0 && !s.SetPeriod(spec.Period) {
		rejected++
	}
	for i, m := range spec.Multipliers {
		if !s.SetMultiplier(i, m) {
			rejected++
		}
	}
	return rejected
}

// Snapshot holds the full state of one Engine. Every per-bar series has one
// entry per processed bar.
type Snapshot struct {
	Version  int             `json:"version"`
	Key      string          `json:"key"` // "exchange:token", informational
	TickSize decimal.Decimal `json:"tick_size"`
	Settings SettingsSpec    `json:"settings"`

	AnchorStart []int             `json:"anchor_start"`
	CumWeight   []decimal.Decimal `json:"cum_weight"`
	CumSum      []decimal.Decimal `json:"cum_sum"`
	Deviations  []decimal.Decimal `json:"deviations"`
	Bands       []model.BandSet   `json:"bands"`
	LastBreak   int               `json:"last_break"`
}

// JSON encodes the snapshot.
func (s *Snapshot) JSON() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSnapshot parses a JSON-encoded snapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

// Snapshot captures the engine state. key is stored for diagnostics only.
func (e *Engine) Snapshot(key string) *Snapshot {
	n := len(e.out)
	snap := &Snapshot{
		Version:     SnapshotVersion,
		Key:         key,
		TickSize:    e.tick,
		Settings:    SpecOf(e.settings),
		AnchorStart: make([]int, n),
		CumWeight:   make([]decimal.Decimal, n),
		CumSum:      make([]decimal.Decimal, n),
		Deviations:  make([]decimal.Decimal, n),
		Bands:       make([]model.BandSet, n),
		LastBreak:   e.lastBreak,
	}
	for i, st := range e.anchors {
		snap.AnchorStart[i] = st.start
		snap.CumWeight[i] = st.weight
		snap.CumSum[i] = st.sum
	}
	copy(snap.Deviations, e.devs.values)
	copy(snap.Bands, e.out)
	return snap
}

// Restore rebuilds an engine from snap. The restored engine continues at
// snap's bar count; source must hold at least that many bars. Any
// inconsistency returns ErrSnapshotMismatch and the caller should replay
// from scratch instead.
func Restore(snap *Snapshot, source BarSource, oracle AnchorOracle, sink Sink) (*Engine, error) {
	if snap == nil {
		return nil, fmt.Errorf("%w: nil snapshot", ErrSnapshotMismatch)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrSnapshotMismatch, snap.Version, SnapshotVersion)
	}
	n := len(snap.Bands)
	if len(snap.AnchorStart) != n || len(snap.CumWeight) != n || len(snap.CumSum) != n || len(snap.Deviations) != n {
		return nil, fmt.Errorf("%w: series lengths differ", ErrSnapshotMismatch)
	}
	if source != nil && source.Len() < n {
		return nil, fmt.Errorf("%w: snapshot covers %d bars, source has %d", ErrSnapshotMismatch, n, source.Len())
	}

	settings := DefaultSettings()
	if bad := snap.Settings.Apply(&settings); bad > 0 {
		return nil, fmt.Errorf("%w: %d invalid settings fields", ErrSnapshotMismatch, bad)
	}

	e, err := New(snap.TickSize, settings, source, oracle, sink)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotMismatch, err)
	}

	e.anchors = make([]anchorState, n)
	for i := 0; i < n; i++ {
		start := snap.AnchorStart[i]
		if start < 0 || start > i || !snap.CumWeight[i].GreaterThanOrEqual(one) {
			return nil, fmt.Errorf("%w: bad anchor state at bar %d", ErrSnapshotMismatch, i)
		}
		e.anchors[i] = anchorState{start: start, weight: snap.CumWeight[i], sum: snap.CumSum[i]}
	}
	e.devs.values = append([]decimal.Decimal(nil), snap.Deviations...)
	e.out = append([]model.BandSet(nil), snap.Bands...)
	e.lastBreak = snap.LastBreak
	return e, nil
}
