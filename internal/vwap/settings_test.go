package vwap

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, AnchorDaily, s.Anchor())
	assert.Equal(t, Weighted, s.Mode())
	assert.Equal(t, SourceTypical, s.PriceSource())
	assert.Equal(t, 300, s.Period())
	assert.Equal(t, "1", s.Multiplier(0).String())
	assert.Equal(t, "2", s.Multiplier(1).String())
	assert.Equal(t, "2.5", s.Multiplier(2).String())
	assert.True(t, s.Valid())
	assert.False(t, Settings{}.Valid())
}

func TestSettings_InvalidWritesAreIgnored(t *testing.T) {
	s := DefaultSettings()
	before := s

	assert.False(t, s.SetPeriod(0))
	assert.False(t, s.SetPeriod(-5))
	assert.False(t, s.SetMultiplier(0, decimal.NewFromInt(-1)))
	assert.False(t, s.SetMultiplier(3, decimal.NewFromInt(1)))
	assert.False(t, s.SetMultiplier(-1, decimal.NewFromInt(1)))
	assert.False(t, s.SetAnchor(Anchor(42)))
	assert.False(t, s.SetMode(Mode(-1)))
	assert.False(t, s.SetPriceSource(PriceSource(7)))
	assert.True(t, s.Equal(before), "settings changed: %s", s)

	assert.True(t, s.SetPeriod(1))
	assert.True(t, s.SetMultiplier(2, decimal.Zero))
	assert.False(t, s.Equal(before))
	assert.Equal(t, 1, s.Period())
	assert.True(t, s.Multiplier(2).IsZero())
	assert.True(t, s.Multiplier(5).IsZero())
}

func TestParseEnums(t *testing.T) {
	a, err := ParseAnchor(" Weekly ")
	require.NoError(t, err)
	assert.Equal(t, AnchorWeekly, a)
	a, err = ParseAnchor("all")
	require.NoError(t, err)
	assert.Equal(t, AnchorUnbounded, a)
	_, err = ParseAnchor("yearly")
	assert.Error(t, err)

	m, err := ParseMode("TWAP")
	require.NoError(t, err)
	assert.Equal(t, EqualWeight, m)
	_, err = ParseMode("ema")
	assert.Error(t, err)

	p, err := ParsePriceSource("close")
	require.NoError(t, err)
	assert.Equal(t, SourceClose, p)

	for _, a := range []Anchor{AnchorDaily, AnchorWeekly, AnchorMonthly, AnchorUnbounded} {
		got, err := ParseAnchor(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
}

func TestSettingsSpec_Apply(t *testing.T) {
	s := DefaultSettings()
	spec := SettingsSpec{
		Anchor:      "monthly",
		Mode:        "twap",
		Period:      20,
		Multipliers: []decimal.Decimal{decimal.NewFromInt(1), decimal.NewFromInt(-2), decimal.NewFromInt(3), decimal.NewFromInt(4)},
	}
	rejected := spec.Apply(&s)

	// -2 is rejected and there is no fourth tier
	assert.Equal(t, 2, rejected)
	assert.Equal(t, AnchorMonthly, s.Anchor())
	assert.Equal(t, EqualWeight, s.Mode())
	assert.Equal(t, SourceTypical, s.PriceSource())
	assert.Equal(t, 20, s.Period())
	assert.Equal(t, "2", s.Multiplier(1).String())
	assert.Equal(t, "3", s.Multiplier(2).String())

	assert.Equal(t, 1, SettingsSpec{Anchor: "hourly"}.Apply(&s))
	assert.Equal(t, AnchorMonthly, s.Anchor())
}

func TestSpecOf_RoundTrip(t *testing.T) {
	s := settingsWith(t, 42, 0.5, 1, 4)
	require.True(t, s.SetAnchor(AnchorWeekly))
	require.True(t, s.SetPriceSource(SourceClose))

	got := DefaultSettings()
	require.Zero(t, SpecOf(s).Apply(&got))
	assert.True(t, got.Equal(s), "got %s, want %s", got, s)
}
