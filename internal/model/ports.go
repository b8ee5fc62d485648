package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the service from concrete storage (Redis, SQLite).

// BarReader reads historical bars for backfill and replay.
type BarReader interface {
	// ReadBars reads bars for one instrument and TF with TS after afterTS,
	// ordered by time ascending.
	ReadBars(exchange, token string, tf int, afterTS int64) ([]Bar, error)

	// Close releases underlying resources.
	Close() error
}

// BandWriter persists or publishes computed band sets.
type BandWriter interface {
	// WriteBandBatch writes multiple band sets in a single batch.
	WriteBandBatch(ctx context.Context, sets []BandSet) error
}

// SnapshotSaver persists engine snapshots as raw JSON.
// Using []byte avoids a model→vwap import cycle.
type SnapshotSaver interface {
	// SaveSnapshotJSON persists a JSON-encoded engine snapshot under key.
	SaveSnapshotJSON(ctx context.Context, key string, data []byte) error
}

// SnapshotLoader loads engine snapshots saved by a SnapshotSaver.
type SnapshotLoader interface {
	// ReadSnapshotJSON loads the most recent snapshot for key.
	// Returns nil, nil if no snapshot exists.
	ReadSnapshotJSON(ctx context.Context, key string) ([]byte, error)
}

// BandHistory reads stored band sets back.
type BandHistory interface {
	// ReadBands returns the band sets of one instrument and TF from
	// fromIndex onward, ordered by index.
	ReadBands(ctx context.Context, exchange, token string, tf, fromIndex int) ([]BandSet, error)
}
