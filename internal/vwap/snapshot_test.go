package vwap

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_RestoreContinues(t *testing.T) {
	bars := wavyBars(25)
	s := settingsWith(t, 6, 1, 2, 3)

	full, _ := newEngine(t, s, bars, boundariesAt(9, 18))
	_, err := full.CatchUp()
	require.NoError(t, err)

	partial, _ := newEngine(t, s, bars[:15], boundariesAt(9, 18))
	_, err = partial.CatchUp()
	require.NoError(t, err)

	data, err := partial.Snapshot("NSE:SBIN").JSON()
	require.NoError(t, err)
	snap, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, SnapshotVersion, snap.Version)
	assert.Equal(t, 8, snap.LastBreak)

	sink := &recordingSink{}
	restored, err := Restore(snap, &sliceSource{bars: bars}, boundariesAt(9, 18), sink)
	require.NoError(t, err)
	assert.Equal(t, 15, restored.Len())
	assert.True(t, restored.Settings().Equal(s))

	n, err := restored.CatchUp()
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, []int{17}, sink.breaks)
	requireSameBands(t, full.Outputs(0), restored.Outputs(0))
}

func TestSnapshot_RestoreRejects(t *testing.T) {
	e, _ := newEngine(t, DefaultSettings(), wavyBars(5), boundariesAt())
	_, err := e.CatchUp()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Snapshot)
		bars   int
	}{
		{"version", func(s *Snapshot) { s.Version = 99 }, 5},
		{"short source", func(s *Snapshot) {}, 3},
		{"ragged series", func(s *Snapshot) { s.Deviations = s.Deviations[:2] }, 5},
		{"tick size", func(s *Snapshot) { s.TickSize = decimal.Zero }, 5},
		{"bad settings", func(s *Snapshot) { s.Settings.Period = -1 }, 5},
		{"anchor after bar", func(s *Snapshot) { s.AnchorStart[1] = 3 }, 5},
		{"weight below one", func(s *Snapshot) { s.CumWeight[2] = decimal.Zero }, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := e.Snapshot("NSE:SBIN")
			tt.mutate(snap)
			_, err := Restore(snap, &sliceSource{bars: wavyBars(tt.bars)}, boundariesAt(), nil)
			require.ErrorIs(t, err, ErrSnapshotMismatch)
		})
	}

	_, err = Restore(nil, nil, nil, nil)
	require.ErrorIs(t, err, ErrSnapshotMismatch)
	_, err = DecodeSnapshot([]byte("{"))
	require.Error(t, err)
}
