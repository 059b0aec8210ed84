package batchlog

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSizeTriggeredFlush(t *testing.T) {
	var mu sync.Mutex
	var flushed [][]int

	cfg := Config{BatchSize: 3, FlushInterval: time.Hour, BufferSize: 10}
	l := New("test", cfg, func(ctx context.Context, batch []int) error {
		mu.Lock()
		defer mu.Unlock()
		cp := append([]int(nil), batch...)
		flushed = append(flushed, cp)
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if err := l.Enqueue(i); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(flushed)
		mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected a size-triggered flush of 3 items")
}

func TestTimerTriggeredFlush(t *testing.T) {
	var mu sync.Mutex
	flushedCount := 0

	cfg := Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond, BufferSize: 10}
	l := New("test", cfg, func(ctx context.Context, batch []string) error {
		mu.Lock()
		defer mu.Unlock()
		flushedCount += len(batch)
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)
	defer l.Stop()

	l.Enqueue("one")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := flushedCount
		mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the timer to flush the single pending item")
}

func TestEnqueueBackpressure(t *testing.T) {
	cfg := Config{BatchSize: 10, FlushInterval: time.Hour, BufferSize: 2}
	l := New("test", cfg, func(ctx context.Context, batch []int) error { return nil }, nil)

	if err := l.Enqueue(1); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	if err := l.Enqueue(2); err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}
	if err := l.Enqueue(3); err != ErrBackpressure {
		t.Fatalf("enqueue past buffer size: got %v, want ErrBackpressure", err)
	}
}

func TestStopFlushesRemainder(t *testing.T) {
	var mu sync.Mutex
	total := 0

	cfg := Config{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 10}
	l := New("test", cfg, func(ctx context.Context, batch []int) error {
		mu.Lock()
		defer mu.Unlock()
		total += len(batch)
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	l.Enqueue(1)
	l.Enqueue(2)
	l.Stop()

	mu.Lock()
	defer mu.Unlock()
	if total != 2 {
		t.Fatalf("total flushed = %d, want 2 (Stop must drain pending items)", total)
	}
}
