package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"vwap-engine/internal/model"
)

const defaultLatestTTL = 30 * time.Minute

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes band sets and line breaks to Redis.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", "component", "redis-writer", "addr", cfg.Addr)
	return &Writer{client: client}, nil
}

// streamMaxLen keeps roughly 3h of entries for a timeframe, never fewer
// than 200.
func streamMaxLen(tf int) int64 {
	if tf <= 0 {
		return 200
	}
	n := int64(10800/tf) + 100
	if n < 200 {
		n = 200
	}
	return n
}

// WriteBandBatch writes band sets in a single pipeline: XADD to the band
// stream, SET the latest value and PUBLISH for live subscribers.
func (w *Writer) WriteBandBatch(ctx context.Context, sets []model.BandSet) error {
	if len(sets) == 0 {
		return nil
	}

	pipe := w.client.Pipeline()
	for i := range sets {
		s := &sets[i]
		data := string(s.JSON())
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: s.StreamKey(),
			MaxLen: streamMaxLen(s.TF),
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Set(ctx, s.LatestKey(), data, defaultLatestTTL)
		pipe.Publish(ctx, s.PubSubChannel(), data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis band pipeline (%d sets): %w", len(sets), err)
	}
	return nil
}

// PublishLineBreak tells live renderers to end the line at lb.Index.
func (w *Writer) PublishLineBreak(ctx context.Context, lb model.LineBreak) error {
	if err := w.client.Publish(ctx, lb.PubSubChannel(), string(lb.JSON())).Err(); err != nil {
		return fmt.Errorf("redis publish line break: %w", err)
	}
	return nil
}

// WriteBar appends a closed bar to its stream, for feeders and replays.
func (w *Writer) WriteBar(ctx context.Context, b model.Bar) error {
	err := w.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: b.StreamKey(),
		MaxLen: streamMaxLen(b.TF),
		Approx: true,
		Values: map[string]interface{}{"data": string(b.JSON())},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis xadd %s: %w", b.StreamKey(), err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
