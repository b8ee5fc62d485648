package vwapsvc

import (
	"context"
	"log/slog"
	"time"

	"vwap-engine/internal/logger"
	"vwap-engine/internal/vwap"
)

// restore loads bar history into the tracker's series, then builds its
// engine from the first usable snapshot, falling back to a full replay.
func (svc *Service) restore(ctx context.Context, tr *tracker) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	key := snapshotKey(tr.inst)
	ctx = logger.WithRunID(ctx, logger.NewRunID(key, time.Now()))
	log := slog.With(append([]any{"component", "vwapsvc", "instrument", key}, logger.LogWithRun(ctx)...)...)

	svc.loadHistory(tr, log)

	reason := "cold"
	if eng := svc.restoreSnapshot(ctx, tr, key, log); eng != nil {
		tr.engine = eng
		reason = "snapshot"
	} else {
		eng, err := vwap.New(tr.inst.TickSize, svc.opts.Settings, tr.series, tr.oracle, tr)
		if err != nil {
			return err
		}
		tr.engine = eng
	}

	start := time.Now()
	var (
		n   int
		err error
	)
	if reason == "snapshot" && !tr.engine.Settings().Equal(svc.opts.Settings) {
		reason = "settings"
		n, err = tr.engine.ApplySettings(svc.opts.Settings)
	} else {
		n, err = tr.engine.CatchUp()
	}
	m := svc.deps.Metrics
	m.ReplaysTotal.WithLabelValues(reason).Inc()
	m.ReplayDur.Observe(time.Since(start).Seconds())
	m.BarsTotal.WithLabelValues(tr.inst.Key()).Add(float64(n))
	if err != nil {
		// bars past the failure stay unprocessed until a later bar
		// retries the catch-up
		log.Error("replay stopped early", "processed", n, "error", err)
	}

	svc.publish(ctx, tr, false)
	if set, ok := tr.engine.Output(tr.engine.Len() - 1); ok && n == 0 {
		svc.deps.Hub.PublishBands(set)
	}

	log.Info("engine ready", "source", reason, "bars", tr.engine.Len(),
		"replayed", n, "anchor_start", tr.engine.AnchorStart(), "took", time.Since(start))
	return nil
}

// loadHistory appends stored bars to the series. Bars the engine would
// reject are skipped.
func (svc *Service) loadHistory(tr *tracker, log *slog.Logger) {
	if svc.deps.History == nil {
		return
	}
	bars, err := svc.deps.History.ReadBars(tr.inst.Exchange, tr.inst.Token, tr.inst.TF, 0)
	if err != nil {
		svc.deps.Metrics.StoreErrors.WithLabelValues("sqlite", "read_bars").Inc()
		log.Warn("bar history unavailable", "error", err)
		return
	}
	skipped := 0
	for i := range bars {
		if vwap.ValidateBar(&bars[i]) != nil {
			skipped++
			continue
		}
		if _, err := tr.series.Append(bars[i]); err != nil {
			skipped++
		}
	}
	if skipped > 0 {
		svc.deps.Metrics.BarsRejected.WithLabelValues(tr.inst.Key(), "history").Add(float64(skipped))
	}
	log.Info("bar history loaded", "bars", tr.series.Len(), "skipped", skipped)
}

// restoreSnapshot returns an engine rebuilt from the first loader holding a
// snapshot that matches the instrument and its history, or nil.
func (svc *Service) restoreSnapshot(ctx context.Context, tr *tracker, key string, log *slog.Logger) *vwap.Engine {
	for i, loader := range svc.deps.Loaders {
		data, err := loader.ReadSnapshotJSON(ctx, key)
		if err != nil {
			log.Warn("snapshot read failed", "loader", i, "error", err)
			continue
		}
		if data == nil {
			continue
		}
		snap, err := vwap.DecodeSnapshot(data)
		if err != nil {
			log.Warn("snapshot undecodable", "loader", i, "error", err)
			continue
		}
		if !snap.TickSize.Equal(tr.inst.TickSize) {
			log.Warn("snapshot tick size differs, ignoring",
				"loader", i, "snapshot", snap.TickSize, "configured", tr.inst.TickSize)
			continue
		}
		if n := len(snap.Bands); n > 0 {
			if b, err := tr.series.Bar(n - 1); err == nil && !b.TS.Equal(snap.Bands[n-1].TS) {
				log.Warn("snapshot does not match history", "loader", i, "bar", n-1)
				continue
			}
		}
		eng, err := vwap.Restore(snap, tr.series, tr.oracle, tr)
		if err != nil {
			log.Warn("snapshot rejected", "loader", i, "error", err)
			continue
		}
		log.Info("engine restored from snapshot", "loader", i, "bars", eng.Len())
		return eng
	}
	return nil
}
