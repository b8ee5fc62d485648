package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"vwap-engine/internal/model"
)

// bandPublisher is the part of Writer that BufferedWriter drives.
type bandPublisher interface {
	WriteBandBatch(ctx context.Context, sets []model.BandSet) error
	PublishLineBreak(ctx context.Context, lb model.LineBreak) error
}

// pendingWrite is a write held back while Redis was unavailable.
type pendingWrite struct {
	sets []model.BandSet
	brk  *model.LineBreak
}

// BufferedWriter wraps a Writer with a circuit breaker. Writes that fail or
// hit an open circuit are kept in memory and replayed once the circuit
// closes again. When the buffer is full the oldest write is dropped.
type BufferedWriter struct {
	writer bandPublisher
	cb     *CircuitBreaker
	ctx    context.Context

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int

	// OnBuffer is called when a write is buffered, OnFlush after a replay.
	OnBuffer func()
	OnFlush  func(count int)
}

// NewBufferedWriter creates a BufferedWriter around w. ctx bounds the
// replays started when the circuit closes.
func NewBufferedWriter(ctx context.Context, w bandPublisher, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		writer: w,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingWrite, 0, 256),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(name string, from, to State) {
		if prev != nil {
			prev(name, from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}
	return bw
}

// WriteBandBatch writes sets through the circuit breaker. It only fails
// when ctx is done; otherwise undelivered sets are buffered.
func (bw *BufferedWriter) WriteBandBatch(ctx context.Context, sets []model.BandSet) error {
	if len(sets) == 0 {
		return nil
	}
	err := bw.cb.Execute(func() error { return bw.writer.WriteBandBatch(ctx, sets) })
	return bw.settle(ctx, err, pendingWrite{sets: append([]model.BandSet(nil), sets...)})
}

// PublishLineBreak publishes lb through the circuit breaker, buffering it
// on failure.
func (bw *BufferedWriter) PublishLineBreak(ctx context.Context, lb model.LineBreak) error {
	err := bw.cb.Execute(func() error { return bw.writer.PublishLineBreak(ctx, lb) })
	return bw.settle(ctx, err, pendingWrite{brk: &lb})
}

func (bw *BufferedWriter) settle(ctx context.Context, err error, pw pendingWrite) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !errors.Is(err, ErrCircuitOpen) {
		slog.Warn("redis write failed, buffering", "component", "redis-writer", "error", err)
	}
	bw.push(pw)
	return nil
}

func (bw *BufferedWriter) push(pw pendingWrite) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		bw.buffer = bw.buffer[1:]
	}
	bw.buffer = append(bw.buffer, pw)

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays buffered writes directly on the writer. Writes that fail
// again are put back for the next close.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	toFlush := bw.buffer
	bw.buffer = make([]pendingWrite, 0, 256)
	bw.mu.Unlock()

	flushed := 0
	for i, pw := range toFlush {
		var err error
		if pw.brk != nil {
			err = bw.writer.PublishLineBreak(bw.ctx, *pw.brk)
		} else {
			err = bw.writer.WriteBandBatch(bw.ctx, pw.sets)
		}
		if err != nil {
			slog.Warn("buffered replay failed", "component", "redis-writer", "remaining", len(toFlush)-i, "error", err)
			bw.mu.Lock()
			bw.buffer = append(toFlush[i:len(toFlush):len(toFlush)], bw.buffer...)
			bw.mu.Unlock()
			break
		}
		flushed++
	}

	slog.Info("flushed buffered writes", "component", "redis-writer", "count", flushed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}
