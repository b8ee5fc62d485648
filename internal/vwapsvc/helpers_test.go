package vwapsvc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"vwap-engine/internal/anchor"
	"vwap-engine/internal/model"
	"vwap-engine/internal/vwap"
)

var testInst = model.Instrument{
	Exchange: "NSE",
	Token:    "3045",
	TF:       60,
	TickSize: decimal.RequireFromString("0.05"),
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// sessionBar returns a one-minute bar minutes after the open of day.
func sessionBar(day, minutes int, price string) model.Bar {
	open := time.Date(2024, 3, 4+day, anchor.OpenHour, anchor.OpenMinute, 0, 0, anchor.IST)
	p := d(price)
	return model.Bar{
		Token:    testInst.Token,
		Exchange: testInst.Exchange,
		TF:       testInst.TF,
		TS:       open.Add(time.Duration(minutes) * time.Minute),
		Open:     p,
		High:     p.Add(d("0.5")),
		Low:      p.Sub(d("0.5")),
		Close:    p.Add(d("0.1")),
		Volume:   decimal.NewFromInt(int64(100 + minutes)),
	}
}

// twoSessions holds three bars on each of two days; bar 3 opens day two.
func twoSessions() []model.Bar {
	return []model.Bar{
		sessionBar(0, 0, "100"),
		sessionBar(0, 1, "101"),
		sessionBar(0, 2, "100.5"),
		sessionBar(1, 0, "103"),
		sessionBar(1, 1, "102"),
		sessionBar(1, 2, "104"),
	}
}

type fakeHistory struct {
	bars []model.Bar
	err  error
}

func (f *fakeHistory) ReadBars(exchange, token string, tf int, afterTS int64) ([]model.Bar, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]model.Bar(nil), f.bars...), nil
}

func (f *fakeHistory) Close() error { return nil }

type memSnapshots struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{data: make(map[string][]byte)}
}

func (m *memSnapshots) SaveSnapshotJSON(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *memSnapshots) ReadSnapshotJSON(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	sets   []model.BandSet
	breaks []model.LineBreak
}

func (p *recordingPublisher) WriteBandBatch(_ context.Context, sets []model.BandSet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets = append(p.sets, sets...)
	return nil
}

func (p *recordingPublisher) PublishLineBreak(_ context.Context, lb model.LineBreak) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breaks = append(p.breaks, lb)
	return nil
}

type fixture struct {
	svc    *Service
	live   *recordingPublisher
	bands  *recordingPublisher
	barLog chan model.Bar
}

func newFixture(t *testing.T, history []model.Bar, settings vwap.Settings, loaders ...model.SnapshotLoader) *fixture {
	t.Helper()
	f := &fixture{
		live:   &recordingPublisher{},
		bands:  &recordingPublisher{},
		barLog: make(chan model.Bar, 16),
	}
	svc, err := New(Options{
		Instruments: []model.Instrument{testInst},
		Settings:    settings,
	}, Deps{
		History: &fakeHistory{bars: history},
		BarLog:  f.barLog,
		Bands:   f.bands,
		Live:    f.live,
		Loaders: loaders,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	f.svc = svc
	return f
}

func (f *fixture) outputs() []model.BandSet {
	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	return f.svc.trackers[testInst.Key()].engine.Outputs(0)
}
