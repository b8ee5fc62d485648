package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"vwap-engine/internal/model"
)

const (
	// SnapshotKeyPrefix prefixes the per-instrument engine snapshot key.
	SnapshotKeyPrefix = "vwap:snapshot:"

	// SettingsChannel carries settings updates as JSON.
	SettingsChannel = "config:vwap"

	// FormingBarPattern matches the channels forming bars are published on.
	FormingBarPattern = "pub:bar:*"

	snapshotTTL = 24 * time.Hour
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // consumer group name, e.g. "vwapengine"
	ConsumerName  string // unique consumer name, e.g. hostname
}

// Reader consumes bars from Redis Streams via consumer groups and manages
// engine snapshots and settings updates.
type Reader struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	group := cfg.ConsumerGroup
	if group == "" {
		group = "vwapengine"
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = "worker-1"
	}

	slog.Info("redis reader connected", "component", "redis-reader", "addr", cfg.Addr, "group", group, "consumer", consumer)
	return &Reader{
		client:        client,
		consumerGroup: group,
		consumerName:  consumer,
	}, nil
}

// EnsureConsumerGroup creates the consumer group on each stream if missing.
// Fresh groups start at "$" (new messages only).
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, "$").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// decodeBar parses the "data" field of a bar stream entry.
func decodeBar(values map[string]interface{}) (model.Bar, error) {
	raw, ok := values["data"].(string)
	if !ok {
		return model.Bar{}, errors.New("missing data field")
	}
	var b model.Bar
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return model.Bar{}, fmt.Errorf("unmarshal bar: %w", err)
	}
	if b.TS.IsZero() {
		return model.Bar{}, errors.New("bar without timestamp")
	}
	return b, nil
}

// ConsumeBars reads closed bars with XREADGROUP and sends them to out,
// acknowledging each one after it is handed off. Undecodable entries are
// acknowledged and dropped. Returns when ctx is cancelled.
func (r *Reader) ConsumeBars(ctx context.Context, streams []string, out chan<- model.Bar) error {
	// [stream1, stream2, ..., ">", ">", ...]
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			Streams:  args,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) || ctx.Err() != nil {
				continue
			}
			slog.Warn("xreadgroup failed", "component", "redis-reader", "error", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			if err := r.deliver(ctx, stream.Stream, stream.Messages, out); err != nil {
				return err
			}
		}
	}
}

// RecoverPending redelivers entries this group read but never acknowledged,
// e.g. after a crash, so delivery is at-least-once.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.Bar) error {
	for _, stream := range streams {
		for {
			pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: stream,
				Group:  r.consumerGroup,
				Start:  "-",
				End:    "+",
				Count:  100,
			}).Result()
			if err != nil || len(pending) == 0 {
				break
			}

			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}
			claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    r.consumerGroup,
				Consumer: r.consumerName,
				Messages: ids,
			}).Result()
			if err != nil {
				slog.Warn("xclaim failed", "component", "redis-reader", "stream", stream, "error", err)
				break
			}
			if err := r.deliver(ctx, stream, claimed, out); err != nil {
				return err
			}
			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return nil
}

func (r *Reader) deliver(ctx context.Context, stream string, msgs []goredis.XMessage, out chan<- model.Bar) error {
	for _, msg := range msgs {
		b, err := decodeBar(msg.Values)
		if err != nil {
			slog.Warn("dropping bar entry", "component", "redis-reader", "stream", stream, "id", msg.ID, "error", err)
			// ack poison entries so they are not redelivered forever
			r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
			continue
		}

		select {
		case out <- b:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
	}
	return nil
}

// SubscribeFormingBars forwards bars published on FormingBarPattern to out.
// A forming bar shares its timestamp with the bar it updates. Updates are
// dropped when out is full since a newer one follows. Blocks until ctx is
// cancelled.
func (r *Reader) SubscribeFormingBars(ctx context.Context, out chan<- model.Bar) error {
	pubsub := r.client.PSubscribe(ctx, FormingBarPattern)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b, err := decodeBar(map[string]interface{}{"data": msg.Payload})
			if err != nil {
				continue
			}
			select {
			case out <- b:
			default:
			}
		}
	}
}

// SaveSnapshotJSON stores an engine snapshot under SnapshotKeyPrefix+key
// with a 24h TTL. SQLite keeps the durable copy.
func (r *Reader) SaveSnapshotJSON(ctx context.Context, key string, data []byte) error {
	if err := r.client.Set(ctx, SnapshotKeyPrefix+key, string(data), snapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis set snapshot %s: %w", key, err)
	}
	return nil
}

// ReadSnapshotJSON loads the snapshot for key. Returns nil, nil if none exists.
func (r *Reader) ReadSnapshotJSON(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, SnapshotKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get snapshot %s: %w", key, err)
	}
	return data, nil
}

// SubscribeChannel subscribes to a Redis Pub/Sub channel and waits for the
// confirmation. Returns nil if the subscription failed.
func (r *Reader) SubscribeChannel(ctx context.Context, channel string) *goredis.PubSub {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		slog.Warn("subscribe failed", "component", "redis-reader", "channel", channel, "error", err)
		pubsub.Close()
		return nil
	}
	return pubsub
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
