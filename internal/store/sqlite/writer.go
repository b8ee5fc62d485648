package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"vwap-engine/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond

	// snapshots kept per instrument
	snapshotRetention = 10
)

// dsn enables WAL so the reader can query while the writer commits.
func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/vwap.db"
}

// Writer is a single-connection SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("sqlite opened", "component", "sqlite", "path", cfg.DBPath)
	return &Writer{db: db}, nil
}

// Prices are decimal strings so no precision is lost on the way back.
func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			token    TEXT    NOT NULL,
			exchange TEXT    NOT NULL,
			tf       INTEGER NOT NULL,
			ts       INTEGER NOT NULL,
			open     TEXT    NOT NULL,
			high     TEXT    NOT NULL,
			low      TEXT    NOT NULL,
			close    TEXT    NOT NULL,
			volume   TEXT    NOT NULL,
			PRIMARY KEY (exchange, token, tf, ts)
		);

		CREATE TABLE IF NOT EXISTS vwap_bands (
			token        TEXT    NOT NULL,
			exchange     TEXT    NOT NULL,
			tf           INTEGER NOT NULL,
			idx          INTEGER NOT NULL,
			ts           INTEGER NOT NULL,
			central      TEXT    NOT NULL,
			upper1       TEXT    NOT NULL,
			upper2       TEXT    NOT NULL,
			upper3       TEXT    NOT NULL,
			lower1       TEXT    NOT NULL,
			lower2       TEXT    NOT NULL,
			lower3       TEXT    NOT NULL,
			stddev       TEXT    NOT NULL,
			anchor_start INTEGER NOT NULL,
			samples      INTEGER NOT NULL,
			reset        INTEGER NOT NULL,
			PRIMARY KEY (exchange, token, tf, idx)
		);

		CREATE TABLE IF NOT EXISTS vwap_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			key        TEXT    NOT NULL,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
		CREATE INDEX IF NOT EXISTS idx_vwap_snapshots_key ON vwap_snapshots (key, id);
	`)
	return err
}

// Run reads bars from barCh and inserts them in batched transactions.
// Flushes every batchSize bars OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or barCh is closed.
func (w *Writer) Run(ctx context.Context, barCh <-chan model.Bar) {
	batch := make([]model.Bar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.InsertBars(batch); err != nil {
			slog.Error("bar batch insert failed", "component", "sqlite", "bars", len(batch), "error", err)
		} else {
			slog.Debug("bars committed", "component", "sqlite", "bars", len(batch), "took", time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case b, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, b)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// InsertBars upserts bars in a single transaction. A bar with an existing
// (exchange, token, tf, ts) replaces the stored one.
func (w *Writer) InsertBars(bars []model.Bar) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars (token, exchange, tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.Exec(b.Token, b.Exchange, b.TF, b.TS.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// WriteBandBatch upserts band sets in a single transaction. Replays
// overwrite the rows of the bars they recompute.
func (w *Writer) WriteBandBatch(ctx context.Context, sets []model.BandSet) error {
	if len(sets) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO vwap_bands (token, exchange, tf, idx, ts, central,
			upper1, upper2, upper3, lower1, lower2, lower3,
			stddev, anchor_start, samples, reset)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, s := range sets {
		_, err := stmt.ExecContext(ctx, s.Token, s.Exchange, s.TF, s.Index, s.TS.Unix(), s.Central,
			s.Upper[0], s.Upper[1], s.Upper[2], s.Lower[0], s.Lower[1], s.Lower[2],
			s.StdDev, s.AnchorStart, s.Samples, s.Reset)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert band %s#%d: %w", s.Key(), s.Index, err)
		}
	}

	return tx.Commit()
}

// GetLastTimestamp returns the last stored bar timestamp for an instrument.
// Returns 0 if no bars exist.
func (w *Writer) GetLastTimestamp(exchange, token string, tf int) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(
		`SELECT MAX(ts) FROM bars WHERE exchange = ? AND token = ? AND tf = ?`,
		exchange, token, tf,
	).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// SaveSnapshotJSON stores an engine snapshot for key and prunes all but the
// most recent ones.
func (w *Writer) SaveSnapshotJSON(ctx context.Context, key string, data []byte) error {
	_, err := w.db.ExecContext(ctx, `INSERT INTO vwap_snapshots (key, data) VALUES (?, ?)`, key, string(data))
	if err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	_, err = w.db.ExecContext(ctx, `
		DELETE FROM vwap_snapshots
		WHERE key = ? AND id NOT IN (
			SELECT id FROM vwap_snapshots WHERE key = ? ORDER BY id DESC LIMIT ?
		)`, key, key, snapshotRetention)
	if err != nil {
		slog.Warn("prune snapshots failed", "component", "sqlite", "key", key, "error", err)
	}
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
