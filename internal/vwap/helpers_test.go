package vwap

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"vwap-engine/internal/model"
)

var t0 = time.Date(2024, 3, 4, 3, 45, 0, 0, time.UTC)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// flatBar returns a bar with open = high = low = close, so typical == close.
func flatBar(i int, price, volume float64) model.Bar {
	p := dec(price)
	return model.Bar{
		Token:    "SBIN",
		Exchange: "NSE",
		TF:       60,
		Index:    i,
		TS:       t0.Add(time.Duration(i) * time.Minute),
		Open:     p,
		High:     p,
		Low:      p,
		Close:    p,
		Volume:   dec(volume),
	}
}

func ohlcBar(i int, o, h, l, c, v float64) model.Bar {
	b := flatBar(i, c, v)
	b.Open, b.High, b.Low = dec(o), dec(h), dec(l)
	return b
}

// sliceSource is an in-memory BarSource.
type sliceSource struct {
	bars []model.Bar
}

func (s *sliceSource) Bar(i int) (model.Bar, error) {
	if i < 0 || i >= len(s.bars) {
		return model.Bar{}, fmt.Errorf("no bar %d", i)
	}
	return s.bars[i], nil
}

func (s *sliceSource) Len() int { return len(s.bars) }

// fakeOracle fires at fixed indices.
type fakeOracle struct {
	boundaries map[int]bool
	matches    bool
	calls      int
}

func (o *fakeOracle) IsNewAnchorPeriod(i int, _ Anchor) bool {
	o.calls++
	return o.boundaries[i]
}

func (o *fakeOracle) GranularityMatches(Anchor) bool { return o.matches }

func boundariesAt(idx ...int) *fakeOracle {
	o := &fakeOracle{boundaries: map[int]bool{}}
	for _, i := range idx {
		o.boundaries[i] = true
	}
	return o
}

// recordingSink keeps everything the engine emits.
type recordingSink struct {
	sets   []model.BandSet
	breaks []int
}

func (r *recordingSink) OnBarProcessed(s model.BandSet) { r.sets = append(r.sets, s) }
func (r *recordingSink) RequestLineBreak(i int)         { r.breaks = append(r.breaks, i) }

func settingsWith(t *testing.T, period int, mult ...float64) Settings {
	t.Helper()
	s := DefaultSettings()
	require.True(t, s.SetPeriod(period))
	for i, m := range mult {
		require.True(t, s.SetMultiplier(i, dec(m)))
	}
	return s
}

func newEngine(t *testing.T, s Settings, bars []model.Bar, oracle AnchorOracle) (*Engine, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	e, err := New(decimal.NewFromInt(1), s, &sliceSource{bars: bars}, oracle, sink)
	require.NoError(t, err)
	return e, sink
}

func assertClose(t *testing.T, name string, got decimal.Decimal, want float64) {
	t.Helper()
	require.InDeltaf(t, want, got.InexactFloat64(), 1e-6, "%s: got %s, want %.6f", name, got, want)
}

// requireSameBands compares band sets by value.
func requireSameBands(t *testing.T, want, got []model.BandSet) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		w, g := want[i], got[i]
		require.Equalf(t, w.Index, g.Index, "bar %d index", i)
		require.Truef(t, w.Central.Equal(g.Central), "bar %d central: got %s, want %s", i, g.Central, w.Central)
		require.Truef(t, w.StdDev.Equal(g.StdDev), "bar %d stddev: got %s, want %s", i, g.StdDev, w.StdDev)
		for k := 0; k < model.Tiers; k++ {
			require.Truef(t, w.Upper[k].Equal(g.Upper[k]), "bar %d upper[%d]", i, k)
			require.Truef(t, w.Lower[k].Equal(g.Lower[k]), "bar %d lower[%d]", i, k)
		}
		require.Equalf(t, w.AnchorStart, g.AnchorStart, "bar %d anchor start", i)
		require.Equalf(t, w.Samples, g.Samples, "bar %d samples", i)
		require.Equalf(t, w.Reset, g.Reset, "bar %d reset", i)
	}
}

// wavyBars builds n bars with varying prices and volumes, some below 1.
func wavyBars(n int) []model.Bar {
	bars := make([]model.Bar, n)
	for i := 0; i < n; i++ {
		c := 100 + float64((i*7)%11) - 5 + float64(i)*0.25
		bars[i] = ohlcBar(i, c-0.5, c+1.5, c-2, c, float64((i*13)%5)*0.5)
	}
	return bars
}
