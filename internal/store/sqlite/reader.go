package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vwap-engine/internal/model"
)

// Reader provides read-only access to SQLite for backfill and snapshot restore.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	slog.Info("sqlite reader opened", "component", "sqlite", "path", dbPath)
	return &Reader{db: db}, nil
}

// ReadBars reads the bars of one instrument and TF with ts > afterTS,
// ordered by time ascending for replay.
func (r *Reader) ReadBars(exchange, token string, tf int, afterTS int64) ([]model.Bar, error) {
	rows, err := r.db.Query(`
		SELECT token, exchange, tf, ts, open, high, low, close, volume
		FROM bars
		WHERE exchange = ? AND token = ? AND tf = ? AND ts > ?
		ORDER BY ts ASC
	`, exchange, token, tf, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var tsUnix int64
		if err := rows.Scan(&b.Token, &b.Exchange, &b.TF, &tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.Unix(tsUnix, 0).UTC()
		b.Index = len(bars)
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ReadBands reads stored band sets of one instrument from index fromIndex
// onward, ordered by index.
func (r *Reader) ReadBands(ctx context.Context, exchange, token string, tf, fromIndex int) ([]model.BandSet, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT token, exchange, tf, idx, ts, central,
			upper1, upper2, upper3, lower1, lower2, lower3,
			stddev, anchor_start, samples, reset
		FROM vwap_bands
		WHERE exchange = ? AND token = ? AND tf = ? AND idx >= ?
		ORDER BY idx ASC
	`, exchange, token, tf, fromIndex)
	if err != nil {
		return nil, fmt.Errorf("sqlite query vwap_bands: %w", err)
	}
	defer rows.Close()

	var sets []model.BandSet
	for rows.Next() {
		var s model.BandSet
		var tsUnix int64
		if err := rows.Scan(&s.Token, &s.Exchange, &s.TF, &s.Index, &tsUnix, &s.Central,
			&s.Upper[0], &s.Upper[1], &s.Upper[2], &s.Lower[0], &s.Lower[1], &s.Lower[2],
			&s.StdDev, &s.AnchorStart, &s.Samples, &s.Reset); err != nil {
			return nil, fmt.Errorf("sqlite scan vwap_bands: %w", err)
		}
		s.TS = time.Unix(tsUnix, 0).UTC()
		sets = append(sets, s)
	}
	return sets, rows.Err()
}

// ReadSnapshotJSON loads the most recent engine snapshot for key.
// Returns nil, nil if none exists.
func (r *Reader) ReadSnapshotJSON(ctx context.Context, key string) ([]byte, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `
		SELECT data FROM vwap_snapshots
		WHERE key = ?
		ORDER BY id DESC
		LIMIT 1
	`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}
	return []byte(data), nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
