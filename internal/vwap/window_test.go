package vwap

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestWalkWindow(t *testing.T) {
	c := &deviationCache{}
	tick := decimal.NewFromInt(1)
	central := decimal.NewFromInt(100)
	for i, price := range []int64{100, 102, 97, 101, 104, 100} {
		c.record(i, decimal.NewFromInt(price), central, tick)
	}
	// deviations: 0 4 9 1 16 0

	tests := []struct {
		name        string
		index       int
		anchorStart int
		period      int
		samples     int
		sum         int64
	}{
		{"bar zero", 0, 0, 10, 0, 0},
		{"full history", 5, 0, 10, 5, 30},
		{"period bound", 5, 0, 2, 2, 17},
		{"anchor bound", 5, 3, 10, 2, 17},
		{"anchor at index", 5, 5, 10, 0, 0},
		{"period one", 3, 0, 1, 1, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := walkWindow(c, tt.index, tt.anchorStart, tt.period)
			assert.Equal(t, tt.samples, est.samples)
			assert.True(t, est.sumOfSquares.Equal(decimal.NewFromInt(tt.sum)), "sum: got %s, want %d", est.sumOfSquares, tt.sum)
		})
	}
}

func TestWindowStdDev(t *testing.T) {
	est := windowEstimate{samples: 3, sumOfSquares: decimal.NewFromInt(14)}
	got := est.stdDev(decimal.NewFromInt(2)).InexactFloat64()
	assert.InDelta(t, 2.0, got, 1e-12)

	empty := windowEstimate{sumOfSquares: decimal.Zero}
	assert.InDelta(t, math.Sqrt(6.25), empty.stdDev(decimal.RequireFromString("6.25")).InexactFloat64(), 1e-12)
}

func TestDeviationCache_TickScaling(t *testing.T) {
	c := &deviationCache{}
	got := c.record(0, decimal.RequireFromString("100.25"), decimal.NewFromInt(100), decimal.RequireFromString("0.05"))
	assert.True(t, got.Equal(decimal.NewFromInt(25)), "got %s", got) // (0.25/0.05)^2

	// recording at an earlier index replaces the tail
	c.record(1, decimal.NewFromInt(101), decimal.NewFromInt(100), decimal.NewFromInt(1))
	c.record(1, decimal.NewFromInt(103), decimal.NewFromInt(100), decimal.NewFromInt(1))
	assert.Len(t, c.values, 2)
	assert.True(t, c.at(1).Equal(decimal.NewFromInt(9)))
}

func TestSynthesize(t *testing.T) {
	mult := [3]decimal.Decimal{decimal.NewFromInt(1), decimal.NewFromInt(2), decimal.RequireFromString("2.5")}
	upper, lower := synthesize(decimal.NewFromInt(200), decimal.NewFromInt(4), decimal.RequireFromString("0.5"), mult)
	wantU := []int64{202, 204, 205}
	wantL := []int64{198, 196, 195}
	for i := range mult {
		assert.True(t, upper[i].Equal(decimal.NewFromInt(wantU[i])), "upper[%d] = %s", i, upper[i])
		assert.True(t, lower[i].Equal(decimal.NewFromInt(wantL[i])), "lower[%d] = %s", i, lower[i])
	}
}
