package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// captureHandler records everything it handles, optionally slowly.
type captureHandler struct {
	mu    sync.Mutex
	msgs  []string
	attrs []slog.Attr
	delay time.Duration
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	h.msgs = append(h.msgs, rec.Message)
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.mu.Lock()
	h.attrs = append(h.attrs, attrs...)
	h.mu.Unlock()
	return h
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func (h *captureHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

func record(msg string) slog.Record {
	return slog.NewRecord(time.Now(), slog.LevelInfo, msg, 0)
}

func TestQueueHandlerFlushesOnClose(t *testing.T) {
	inner := &captureHandler{}
	qh := NewQueueHandler(inner, 256)

	const total = 120
	for range total {
		if err := qh.Handle(context.Background(), record("work")); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
	}
	qh.Close()

	if got := inner.count(); got != total {
		t.Fatalf("handled %d records after Close, want %d", got, total)
	}
	if qh.Dropped() != 0 {
		t.Errorf("dropped = %d, want 0", qh.Dropped())
	}
}

func TestQueueHandlerDropsWhenFull(t *testing.T) {
	inner := &captureHandler{delay: 5 * time.Millisecond}
	qh := NewQueueHandler(inner, 1)

	for range 40 {
		_ = qh.Handle(context.Background(), record("flood"))
	}
	qh.Close()

	if qh.Dropped() == 0 {
		t.Fatal("expected drops on a full queue, got none")
	}

	// The drain reports the drop count as a final record.
	inner.mu.Lock()
	last := inner.msgs[len(inner.msgs)-1]
	inner.mu.Unlock()
	if last != "log records dropped" {
		t.Errorf("final record = %q, want drop report", last)
	}
}

func TestQueueHandlerDerivedKeepsAttrs(t *testing.T) {
	inner := &captureHandler{}
	qh := NewQueueHandler(inner, 16)

	derived := qh.WithAttrs([]slog.Attr{slog.String("component", "gate")})
	if err := derived.Handle(context.Background(), record("tagged")); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	qh.Close()

	inner.mu.Lock()
	defer inner.mu.Unlock()
	if len(inner.attrs) == 0 || inner.attrs[0].Key != "component" {
		t.Errorf("derived handler attrs = %v, want component attr applied", inner.attrs)
	}
	if len(inner.msgs) != 1 {
		t.Fatalf("handled %d records, want 1", len(inner.msgs))
	}
}

func TestQueueHandlerConcurrentProducers(t *testing.T) {
	inner := &captureHandler{}
	qh := NewQueueHandler(inner, 4096)

	const producers, each = 16, 50
	var wg sync.WaitGroup
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				_ = qh.Handle(context.Background(), record("concurrent"))
			}
		}()
	}
	wg.Wait()
	qh.Close()

	if got := inner.count(); got != producers*each {
		t.Fatalf("handled %d records, want %d", got, producers*each)
	}
}

func TestQueueHandlerCloseIsIdempotent(t *testing.T) {
	qh := NewQueueHandler(&captureHandler{}, 8)
	qh.Close()
	qh.Close()
}
