package project

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultWriteTimeout = 30 * time.Second

// Health reports the outcome of background writes since start-up.
type Health struct {
	Degraded      bool       `json:"degraded"`
	Failures      int        `json:"failures"`
	Pending       int        `json:"pending"`
	LastError     string     `json:"last_error,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
}

type writeOp struct {
	name string
	fn   func(ctx context.Context) error
	done chan struct{}
}

// Writer applies durable writes on a single goroutine, in the order they were
// enqueued. A failed write is logged and counted; it is never retried and
// never rolls back the in-memory change that produced it.
type Writer struct {
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	queue   []writeOp
	notify  chan struct{}
	stopped bool
	done    chan struct{}
	running atomic.Bool

	healthMu      sync.Mutex
	failures      int
	lastErr       error
	lastFailureAt time.Time
}

// NewWriter starts the write worker.
func NewWriter(logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		logger:  logger,
		timeout: defaultWriteTimeout,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	w.running.Store(true)
	go w.loop()
	return w
}

// Enqueue schedules fn. After Stop the write runs on the caller's goroutine
// so nothing is silently dropped.
func (w *Writer) Enqueue(name string, fn func(ctx context.Context) error) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		w.run(writeOp{name: name, fn: fn})
		return
	}
	w.queue = append(w.queue, writeOp{name: name, fn: fn})
	w.mu.Unlock()
	w.wake()
}

// Flush blocks until every write enqueued before the call has been applied.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	marker := writeOp{name: "flush", done: make(chan struct{})}
	w.queue = append(w.queue, marker)
	w.mu.Unlock()
	w.wake()

	select {
	case <-marker.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains the queue and ends the worker.
func (w *Writer) Stop(ctx context.Context) error {
	if err := w.Flush(ctx); err != nil {
		return err
	}
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()
	w.wake()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) IsRunning() bool {
	return w.running.Load()
}

func (w *Writer) Health() Health {
	w.mu.Lock()
	pending := len(w.queue)
	w.mu.Unlock()

	w.healthMu.Lock()
	defer w.healthMu.Unlock()
	h := Health{
		Degraded: w.failures > 0,
		Failures: w.failures,
		Pending:  pending,
	}
	if w.lastErr != nil {
		h.LastError = w.lastErr.Error()
		at := w.lastFailureAt
		h.LastFailureAt = &at
	}
	return h
}

func (w *Writer) wake() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *Writer) loop() {
	defer close(w.done)
	defer w.running.Store(false)

	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			stopped := w.stopped
			w.mu.Unlock()
			if stopped {
				return
			}
			<-w.notify
			continue
		}
		op := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.run(op)
	}
}

func (w *Writer) run(op writeOp) {
	if op.done != nil {
		close(op.done)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := op.fn(ctx); err != nil {
		w.logger.Error("persistence write failed", "op", op.name, "error", err)
		w.healthMu.Lock()
		w.failures++
		w.lastErr = err
		w.lastFailureAt = time.Now().UTC()
		w.healthMu.Unlock()
	}
}
