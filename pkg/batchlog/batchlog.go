// Package batchlog implements the batch loggers (spec.md C4): coalesce
// per-transition history rows and per-registry lifecycle rows into
// batched writes, flushed on a size threshold or a timer, whichever comes
// first. Grounded on pkg/appendlog/fs_store.go's background flush-loop
// and fail-fast backpressure discipline (an Append-style call that
// rejects once the buffer fills, rather than blocking the caller).
package batchlog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quadgate/statekeep/pkg/corelog"
)

// ErrBackpressure is returned by Enqueue when the pending buffer is full —
// spec.md §7 treats persistence backpressure as a transient condition the
// caller logs and drops, never as a reason to block the FSM engine.
var ErrBackpressure = errors.New("batch logger buffer is full")

// Flusher writes one flushed batch to its durable sink.
type Flusher[T any] func(ctx context.Context, batch []T) error

// Config sizes a Logger's buffer, size-triggered flush threshold, and
// timer-triggered flush interval (spec.md §6 configuration surface:
// history_batch_size/history_flush_interval_ms, registry_batch_size).
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// Logger coalesces items of type T and flushes them in batches.
type Logger[T any] struct {
	cfg     Config
	flush   Flusher[T]
	logger  corelog.Logger
	label   string

	mu      sync.Mutex
	pending []T

	flushNow chan struct{}
	stop     chan struct{}
	done     chan struct{}
}

// New constructs a Logger. label identifies this logger in log lines
// (e.g. "history" or "registry-events").
func New[T any](label string, cfg Config, flush Flusher[T], logger corelog.Logger) *Logger[T] {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 100 * time.Millisecond
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.BatchSize * 4
	}
	if logger == nil {
		logger = corelog.NewDefault()
	}
	return &Logger[T]{
		cfg:      cfg,
		flush:    flush,
		logger:   logger,
		label:    label,
		pending:  make([]T, 0, cfg.BatchSize),
		flushNow: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Enqueue appends item to the pending buffer, rejecting with
// ErrBackpressure once BufferSize is reached.
func (l *Logger[T]) Enqueue(item T) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) >= l.cfg.BufferSize {
		return ErrBackpressure
	}
	l.pending = append(l.pending, item)
	if len(l.pending) >= l.cfg.BatchSize {
		select {
		case l.flushNow <- struct{}{}:
		default:
		}
	}
	return nil
}

// Run drives the periodic+size-triggered flush loop until Stop is called.
func (l *Logger[T]) Run(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			l.flushAll(ctx)
			return
		case <-ctx.Done():
			l.flushAll(ctx)
			return
		case <-ticker.C:
			l.flushAll(ctx)
		case <-l.flushNow:
			l.flushAll(ctx)
		}
	}
}

func (l *Logger[T]) flushAll(ctx context.Context) {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return
	}
	batch := l.pending
	l.pending = make([]T, 0, l.cfg.BatchSize)
	l.mu.Unlock()

	if l.flush == nil {
		return
	}
	if err := l.flush(ctx, batch); err != nil {
		l.logger.Errorf("batchlog %s: flush of %d items failed: %v", l.label, len(batch), err)
	}
}

// Stop signals Run to flush whatever remains and exit, then waits.
func (l *Logger[T]) Stop() {
	close(l.stop)
	<-l.done
}

// Pending reports the current buffer occupancy (for metrics/tests).
func (l *Logger[T]) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
