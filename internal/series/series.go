// Package series holds the in-memory bar history of one instrument and
// serves it to the band engine by absolute index.
package series

import (
	"errors"
	"fmt"
	"sync"

	"vwap-engine/internal/model"
)

var (
	// ErrOutOfOrder is returned when a bar is not newer than the last one.
	ErrOutOfOrder = errors.New("series: bar not newer than last bar")

	// ErrIndex is returned for an index outside the series.
	ErrIndex = errors.New("series: index out of range")
)

// Series is an append-only bar history. The most recent bar may be replaced
// while it is still forming. Safe for concurrent use.
type Series struct {
	mu   sync.RWMutex
	inst model.Instrument
	bars []model.Bar
}

// New creates an empty series for inst.
func New(inst model.Instrument) *Series {
	return &Series{inst: inst}
}

// Instrument returns the instrument the series belongs to.
func (s *Series) Instrument() model.Instrument { return s.inst }

// Len returns the number of bars.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars)
}

// Bar returns the bar at index.
func (s *Series) Bar(index int) (model.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.bars) {
		return model.Bar{}, fmt.Errorf("%w: %d of %d", ErrIndex, index, len(s.bars))
	}
	return s.bars[index], nil
}

// Last returns the most recent bar.
func (s *Series) Last() (model.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.bars) == 0 {
		return model.Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Append adds b after the last bar, stamping the instrument identity and
// the bar's index, and returns that index.
func (s *Series) Append(b model.Bar) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(b)
}

// Upsert replaces the last bar when b has the same timestamp and appends it
// otherwise. It returns the bar's index and whether it replaced one.
func (s *Series) Upsert(b model.Bar) (index int, replaced bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.bars); n > 0 && b.TS.Equal(s.bars[n-1].TS) {
		s.stamp(&b, n-1)
		s.bars[n-1] = b
		return n - 1, true, nil
	}
	index, err = s.appendLocked(b)
	return index, false, err
}

// Replace overwrites the bar at index, which must be the last one.
func (s *Series) Replace(index int, b model.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index != len(s.bars)-1 || index < 0 {
		return fmt.Errorf("%w: can only replace the last bar, got %d of %d", ErrIndex, index, len(s.bars))
	}
	s.stamp(&b, index)
	s.bars[index] = b
	return nil
}

func (s *Series) appendLocked(b model.Bar) (int, error) {
	n := len(s.bars)
	if n > 0 && !b.TS.After(s.bars[n-1].TS) {
		return -1, fmt.Errorf("%w: %s <= %s", ErrOutOfOrder, b.TS, s.bars[n-1].TS)
	}
	s.stamp(&b, n)
	s.bars = append(s.bars, b)
	return n, nil
}

func (s *Series) stamp(b *model.Bar, index int) {
	b.Index = index
	b.Token = s.inst.Token
	b.Exchange = s.inst.Exchange
	b.TF = s.inst.TF
}
