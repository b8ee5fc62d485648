package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vwap-engine/internal/model"
)

type fakeReader struct {
	bars map[string][]model.Bar
	err  error
}

func (f *fakeReader) ReadBars(exchange, token string, tf int, afterTS int64) ([]model.Bar, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Bar
	for _, b := range f.bars[exchange+":"+token] {
		if b.TS.Unix() > afterTS {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeReader) Close() error { return nil }

var t0 = time.Date(2024, 3, 4, 9, 15, 0, 0, time.UTC)

func bar(token string, minute int) model.Bar {
	return model.Bar{
		Exchange: "NSE",
		Token:    token,
		TF:       60,
		TS:       t0.Add(time.Duration(minute) * time.Minute),
		Close:    decimal.NewFromInt(int64(minute)),
	}
}

func instruments(tokens ...string) []model.Instrument {
	var out []model.Instrument
	for _, tok := range tokens {
		out = append(out, model.Instrument{Exchange: "NSE", Token: tok, TF: 60})
	}
	return out
}

func collect(t *testing.T, r *Replayer, insts []model.Instrument, fromTS int64, speed float64) []model.Bar {
	t.Helper()
	out := make(chan model.Bar, 64)
	n, err := r.Run(context.Background(), insts, fromTS, speed, out)
	require.NoError(t, err)
	close(out)
	var got []model.Bar
	for b := range out {
		got = append(got, b)
	}
	require.Len(t, got, n)
	return got
}

func TestRun_MergesByTimestamp(t *testing.T) {
	r := New(&fakeReader{bars: map[string][]model.Bar{
		"NSE:A": {bar("A", 0), bar("A", 2), bar("A", 3)},
		"NSE:B": {bar("B", 1), bar("B", 2)},
	}})

	got := collect(t, r, instruments("A", "B"), 0, 0)
	var order []string
	for _, b := range got {
		order = append(order, b.Token+b.Close.String())
	}
	assert.Equal(t, []string{"A0", "B1", "A2", "B2", "A3"}, order)
}

func TestRun_FromTS(t *testing.T) {
	r := New(&fakeReader{bars: map[string][]model.Bar{
		"NSE:A": {bar("A", 0), bar("A", 1), bar("A", 2)},
	}})
	got := collect(t, r, instruments("A"), t0.Add(time.Minute).Unix(), 0)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].Close.String())
}

func TestRun_SpeedScalesGaps(t *testing.T) {
	r := New(&fakeReader{bars: map[string][]model.Bar{
		"NSE:A": {bar("A", 0), bar("A", 1), bar("A", 61)},
	}})
	var waits []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	collect(t, r, instruments("A"), 0, 60)
	assert.Equal(t, []time.Duration{time.Second, maxGap}, waits)
}

func TestRun_Errors(t *testing.T) {
	r := New(&fakeReader{err: errors.New("locked")})
	_, err := r.Run(context.Background(), instruments("A"), 0, 0, make(chan model.Bar, 1))
	assert.Error(t, err)

	r = New(&fakeReader{bars: map[string][]model.Bar{"NSE:A": {bar("A", 0), bar("A", 1)}}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := r.Run(ctx, instruments("A"), 0, 0, make(chan model.Bar))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)

	n, err = New(&fakeReader{}).Run(context.Background(), instruments("A"), 0, 0, nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}
