package vwapsvc

import (
	"context"
	"log/slog"
	"time"
)

// snapshotLoop periodically saves every engine to all snapshot savers.
func (svc *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(svc.opts.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.saveSnapshots(ctx)
		}
	}
}

// saveSnapshots encodes each engine under the lock and writes the result
// to every saver outside it. Returns the number of snapshots encoded.
func (svc *Service) saveSnapshots(ctx context.Context) int {
	if len(svc.deps.Savers) == 0 {
		return 0
	}

	type encoded struct {
		key  string
		data []byte
	}
	var snaps []encoded

	svc.mu.Lock()
	for _, key := range svc.order {
		tr := svc.trackers[key]
		if tr.engine == nil || tr.engine.Len() == 0 {
			continue
		}
		sk := snapshotKey(tr.inst)
		data, err := tr.engine.Snapshot(sk).JSON()
		if err != nil {
			slog.Error("snapshot encode failed", "component", "vwapsvc", "instrument", key, "error", err)
			continue
		}
		snaps = append(snaps, encoded{key: sk, data: data})
	}
	svc.mu.Unlock()

	m := svc.deps.Metrics
	for _, s := range snaps {
		for _, t := range svc.deps.Savers {
			if err := t.Saver.SaveSnapshotJSON(ctx, s.key, s.data); err != nil {
				m.StoreErrors.WithLabelValues(t.Name, "save_snapshot").Inc()
				slog.Warn("snapshot save failed", "component", "vwapsvc", "key", s.key, "store", t.Name, "error", err)
				continue
			}
			m.SnapshotsTotal.WithLabelValues(t.Name).Inc()
		}
	}
	if len(snaps) > 0 {
		slog.Debug("checkpoint saved", "component", "vwapsvc", "snapshots", len(snaps))
	}
	return len(snaps)
}
