package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes buffered log output on shutdown.
type Closer interface {
	Close()
}

// syncCloser is returned when logging is synchronous and nothing buffers.
type syncCloser struct{}

func (syncCloser) Close() {}

// logQueue is shared by a QueueHandler and every handler derived from it via
// WithAttrs/WithGroup, so all of them feed the same drain goroutine.
type logQueue struct {
	jobs    chan func(context.Context)
	done    chan struct{}
	stop    sync.Once
	dropped atomic.Int64
}

// QueueHandler decouples log producers from the output handler through a
// bounded queue drained by a single goroutine. A full queue discards the
// record and counts it instead of blocking the caller.
type QueueHandler struct {
	next slog.Handler
	q    *logQueue
}

// NewQueueHandler wraps next and starts the drain goroutine. Close must be
// called after the last log call; records enqueued before Close are flushed.
func NewQueueHandler(next slog.Handler, depth int) *QueueHandler {
	if depth < 1 {
		depth = 1
	}
	q := &logQueue{
		jobs: make(chan func(context.Context), depth),
		done: make(chan struct{}),
	}
	h := &QueueHandler{next: next, q: q}
	go h.drain()
	return h
}

func (h *QueueHandler) drain() {
	defer close(h.q.done)
	for job := range h.q.jobs {
		job(context.Background())
	}
	if n := h.q.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "log records dropped", 0)
		rec.AddAttrs(slog.Int64("count", n))
		_ = h.next.Handle(context.Background(), rec)
	}
}

// Enabled delegates to the wrapped handler.
func (h *QueueHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle enqueues the record bound to this handler's attribute chain, so
// derived handlers keep their attrs even though the queue is shared.
func (h *QueueHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	next := h.next
	select {
	case h.q.jobs <- func(ctx context.Context) { _ = next.Handle(ctx, rec) }:
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

// WithAttrs derives a handler that shares the queue.
func (h *QueueHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &QueueHandler{next: h.next.WithAttrs(attrs), q: h.q}
}

// WithGroup derives a handler that shares the queue.
func (h *QueueHandler) WithGroup(name string) slog.Handler {
	return &QueueHandler{next: h.next.WithGroup(name), q: h.q}
}

// Dropped reports how many records were discarded on a full queue.
func (h *QueueHandler) Dropped() int64 {
	return h.q.dropped.Load()
}

// Close stops intake, waits for the queue to flush, and reports drops.
// Safe to call more than once.
func (h *QueueHandler) Close() {
	h.q.stop.Do(func() { close(h.q.jobs) })
	<-h.q.done
}
