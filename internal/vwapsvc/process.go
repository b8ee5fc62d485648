package vwapsvc

import (
	"context"
	"log/slog"
	"time"

	"vwap-engine/internal/model"
	"vwap-engine/internal/vwap"
)

// startConsumers recovers pending stream messages and starts the bar
// stream consumer and the forming bar subscriber.
func (svc *Service) startConsumers(ctx context.Context) {
	streams := make([]string, 0, len(svc.order))
	for _, key := range svc.order {
		streams = append(streams, svc.trackers[key].inst.StreamKey())
	}

	if err := svc.redisReader.EnsureConsumerGroup(ctx, streams); err != nil {
		slog.Warn("consumer group setup failed", "component", "vwapsvc", "error", err)
	}
	go func() {
		if err := svc.redisReader.RecoverPending(ctx, streams, svc.closedCh); err != nil {
			slog.Warn("pending recovery failed", "component", "vwapsvc", "error", err)
		}
		if err := svc.redisReader.ConsumeBars(ctx, streams, svc.closedCh); err != nil {
			slog.Error("bar consumer stopped", "component", "vwapsvc", "error", err)
		}
	}()
	go func() {
		if err := svc.redisReader.SubscribeFormingBars(ctx, svc.formingCh); err != nil {
			slog.Error("forming bar subscriber stopped", "component", "vwapsvc", "error", err)
		}
	}()
	slog.Info("consuming bars", "component", "vwapsvc", "streams", streams)
}

// processLoop feeds closed and forming bars to their engines one at a time.
func (svc *Service) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-svc.closedCh:
			if !ok {
				return
			}
			svc.HandleBar(ctx, b, false)
		case b, ok := <-svc.formingCh:
			if !ok {
				return
			}
			svc.HandleBar(ctx, b, true)
		}
	}
}

// HandleBar routes b to its instrument's engine. A bar with the timestamp
// of the most recent bar replaces it and the engine recomputes that bar;
// a newer bar is appended. Older bars are dropped. Closed bars are also
// written to the bar log.
func (svc *Service) HandleBar(ctx context.Context, b model.Bar, forming bool) {
	m := svc.deps.Metrics

	svc.mu.Lock()
	defer svc.mu.Unlock()

	key := b.Key()
	tr, ok := svc.trackers[key]
	if !ok || tr.engine == nil {
		m.BarsRejected.WithLabelValues(key, "unknown").Inc()
		return
	}
	if b.TF != tr.inst.TF {
		m.BarsRejected.WithLabelValues(key, "tf").Inc()
		return
	}
	if err := vwap.ValidateBar(&b); err != nil {
		m.BarsRejected.WithLabelValues(key, "invalid").Inc()
		slog.Warn("bar rejected", "component", "vwapsvc", "instrument", key, "ts", b.TS, "error", err)
		return
	}

	idx, replaced, err := tr.series.Upsert(b)
	if err != nil {
		m.BarsRejected.WithLabelValues(key, "out_of_order").Inc()
		slog.Debug("bar dropped", "component", "vwapsvc", "instrument", key, "ts", b.TS, "error", err)
		return
	}

	start := time.Now()
	var n int
	if replaced && idx == tr.engine.Len()-1 {
		if _, err = tr.engine.Process(idx); err == nil {
			n = 1
		}
	} else {
		n, err = tr.engine.CatchUp()
	}
	m.ProcessDur.Observe(time.Since(start).Seconds())
	if err != nil {
		m.BarsRejected.WithLabelValues(key, "engine").Inc()
		slog.Error("engine failed", "component", "vwapsvc", "instrument", key, "index", idx, "error", err)
	}
	if n > 0 {
		m.BarsTotal.WithLabelValues(key).Add(float64(n))
	}
	svc.deps.Health.SetLastBarTime(b.TS)
	svc.publish(ctx, tr, true)

	if !forming && svc.deps.BarLog != nil {
		select {
		case svc.deps.BarLog <- b:
		case <-ctx.Done():
		}
	}
}

// publish fans the tracker's collected output out to every sink. A replay
// (live false) sends only its last band set to renderers; they reload
// history through /bands.
func (svc *Service) publish(ctx context.Context, tr *tracker, live bool) {
	sets, breaks := tr.drain()
	if len(sets) == 0 && len(breaks) == 0 {
		return
	}
	key := tr.inst.Key()
	m := svc.deps.Metrics

	for _, s := range sets {
		m.WindowSamples.Observe(float64(s.Samples))
		if s.Reset && s.Index > 0 {
			m.AnchorResets.WithLabelValues(key).Inc()
		}
	}
	m.LineBreaks.WithLabelValues(key).Add(float64(len(breaks)))

	if svc.deps.Bands != nil && len(sets) > 0 {
		if err := svc.deps.Bands.WriteBandBatch(ctx, sets); err != nil {
			m.StoreErrors.WithLabelValues("sqlite", "write_bands").Inc()
			slog.Error("band history write failed", "component", "vwapsvc", "instrument", key, "error", err)
		}
	}

	if pub := svc.deps.Live; pub != nil {
		if len(sets) > 0 {
			if err := pub.WriteBandBatch(ctx, sets); err != nil {
				m.StoreErrors.WithLabelValues("redis", "write_bands").Inc()
			}
		}
		for _, lb := range breaks {
			if err := pub.PublishLineBreak(ctx, lb); err != nil {
				m.StoreErrors.WithLabelValues("redis", "line_break").Inc()
			}
		}
	}

	hubSets := sets
	if !live && len(sets) > 1 {
		hubSets = sets[len(sets)-1:]
	}
	for _, lb := range breaks {
		svc.deps.Hub.PublishLineBreak(lb)
	}
	for _, s := range hubSets {
		svc.deps.Hub.PublishBands(s)
	}
}
