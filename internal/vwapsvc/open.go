package vwapsvc

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"vwap-engine/config"
	"vwap-engine/internal/gateway"
	"vwap-engine/internal/metrics"
	"vwap-engine/internal/model"
	redisstore "vwap-engine/internal/store/redis"
	sqlitestore "vwap-engine/internal/store/sqlite"
)

// Open connects to Redis and SQLite as configured by cfg and creates the
// service. Redis is required; without SQLite the service runs with no bar
// history and no durable band store. ctx bounds the buffered Redis writer.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Service, error) {
	m := metrics.New()

	redisReader, err := redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		DB:            cfg.RedisDB,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err != nil {
		return nil, err
	}
	redisWriter, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		redisReader.Close()
		return nil, err
	}

	cb := redisstore.NewCircuitBreaker("redis-bands", 5, 10*time.Second)
	cb.OnStateChange = func(name string, from, to redisstore.State) {
		m.CircuitState.Set(float64(to))
		if to == redisstore.StateOpen {
			m.CircuitTrips.Inc()
		}
		slog.Warn("circuit breaker state change", "component", "vwapsvc", "breaker", name, "from", from.String(), "to", to.String())
	}
	live := redisstore.NewBufferedWriter(ctx, redisWriter, cb, 10000)
	live.OnBuffer = func() { m.BufferedWrites.Inc() }
	live.OnFlush = func(n int) {
		slog.Info("buffered redis writes replayed", "component", "vwapsvc", "writes", n)
	}

	deps := Deps{
		Live:    live,
		Savers:  []SnapshotTarget{{Name: "redis", Saver: redisReader}},
		Loaders: []model.SnapshotLoader{redisReader},
		Hub:     gateway.NewHub(),
		Metrics: m,
	}

	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		os.MkdirAll(dir, 0o755)
	}
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		slog.Warn("sqlite writer unavailable, continuing without band history", "component", "vwapsvc", "error", err)
	}
	var sqlReader *sqlitestore.Reader
	if sqlWriter != nil {
		sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			slog.Warn("sqlite reader unavailable, continuing without bar history", "component", "vwapsvc", "error", err)
		}
	}

	var barLog chan model.Bar
	if sqlWriter != nil {
		barLog = make(chan model.Bar, 5000)
		deps.BarLog = barLog
		deps.Bands = sqlWriter
		deps.Savers = append(deps.Savers, SnapshotTarget{Name: "sqlite", Saver: sqlWriter})
	}
	if sqlReader != nil {
		deps.History = sqlReader
		deps.BandHistory = sqlReader
		deps.Loaders = append(deps.Loaders, sqlReader)
	}
	deps.Health = metrics.NewHealthStatus(true, sqlWriter != nil)

	svc, err := New(opts, deps)
	if err != nil {
		if sqlReader != nil {
			sqlReader.Close()
		}
		if sqlWriter != nil {
			sqlWriter.Close()
		}
		redisWriter.Close()
		redisReader.Close()
		return nil, err
	}
	svc.redisReader = redisReader
	svc.redisWriter = redisWriter
	svc.sqlReader = sqlReader
	svc.sqlWriter = sqlWriter
	svc.barLog = barLog
	return svc, nil
}
