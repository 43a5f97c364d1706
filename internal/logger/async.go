package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler queues records for background workers so tool traffic never
// waits on stdout. Records at or above SyncLevel skip the queue and are
// written inline; approval decisions and resume failures are never dropped.
type AsyncHandler struct {
	inner     slog.Handler
	syncLevel slog.Level
	ch        chan queued
	wg        *sync.WaitGroup
	dropped   *atomic.Int64
	mu        *sync.RWMutex // guards closed and the channel close
	closed    *bool
}

// NewAsyncHandler creates an AsyncHandler with the given channel capacity and
// worker count. Warn and above are written synchronously.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	h := &AsyncHandler{
		inner:     inner,
		syncLevel: slog.LevelWarn,
		ch:        make(chan queued, chanSize),
		wg:        &sync.WaitGroup{},
		dropped:   &atomic.Int64{},
		mu:        &sync.RWMutex{},
		closed:    new(bool),
	}
	for range workers {
		h.wg.Add(1)
		go h.drain()
	}
	return h
}

// queued keeps a record with the handler it was logged on, so attributes
// added through WithAttrs survive the queue.
type queued struct {
	inner slog.Handler
	rec   slog.Record
}

func (h *AsyncHandler) drain() {
	defer h.wg.Done()
	for q := range h.ch {
		_ = q.inner.Handle(context.Background(), q.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record, or writes it inline when its level is at or
// above the sync level or the handler is closed. Queued records are dropped
// when the channel is full.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if rec.Level >= h.syncLevel {
		return h.inner.Handle(ctx, rec)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if *h.closed {
		return h.inner.Handle(ctx, rec)
	}
	select {
	case h.ch <- queued{inner: h.inner, rec: rec.Clone()}:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing the same queue around a new inner handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.inner = h.inner.WithAttrs(attrs)
	return &c
}

// WithGroup returns a handler sharing the same queue around a new inner handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.inner = h.inner.WithGroup(name)
	return &c
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.dropped.Load()
}

// Close stops accepting queued records and waits for the workers to drain.
// Records logged after Close are written inline.
func (h *AsyncHandler) Close() {
	h.mu.Lock()
	if *h.closed {
		h.mu.Unlock()
		return
	}
	*h.closed = true
	close(h.ch)
	h.mu.Unlock()
	h.wg.Wait()
}
