// Package workerpool provides a task-pool abstraction. No other package in
// this module uses it: the registry, timeout scheduler, batch loggers and
// archival run on their own goroutines. It hides goroutine/channel
// management behind an interface, mirroring the teacher's
// pkg/core/concurrency worker pool.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/quadgate/statekeep/pkg/corelog"
)

// ErrFull is returned by Submit when the task queue is saturated.
var ErrFull = errors.New("worker pool queue is full")

// Task is one unit of work a pool executes.
type Task interface {
	Name() string
	Execute(ctx context.Context) error
}

// TaskFunc adapts a plain function to Task.
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context) error
}

func (t TaskFunc) Name() string                     { return t.TaskName }
func (t TaskFunc) Execute(ctx context.Context) error { return t.Fn(ctx) }

// Pool runs submitted tasks on a fixed number of worker goroutines.
type Pool interface {
	Start() error
	Stop(ctx context.Context) error
	Submit(task Task) error
	Workers() int
	IsRunning() bool
}

// Config sizes a Pool. A Workers value below 1 is raised to 1 and a
// QueueSize below 1 is raised to 100.
type Config struct {
	Workers   int
	QueueSize int
}

func pool(ctx context.Context, cfg Config, logger corelog.Logger) *defaultPool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 100
	}
	ctx, cancel := context.WithCancel(ctx)
	if logger == nil {
		logger = corelog.NewDefault()
	}
	return &defaultPool{
		workers:  cfg.Workers,
		taskChan: make(chan Task, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// New creates a Pool with the given configuration and logger.
func New(ctx context.Context, cfg Config, logger corelog.Logger) Pool {
	return pool(ctx, cfg, logger)
}

type defaultPool struct {
	workers  int
	taskChan chan Task
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  int32
	ctx      context.Context
	cancel   context.CancelFunc
	logger   corelog.Logger
}

func (p *defaultPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if atomic.LoadInt32(&p.running) == 1 {
		return fmt.Errorf("worker pool already running")
	}
	atomic.StoreInt32(&p.running, 1)
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.worker(i)
	}
	return nil
}

func (p *defaultPool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.taskChan:
			if !ok {
				return
			}
			if err := task.Execute(p.ctx); err != nil {
				p.logger.Errorf("worker %d: task %s failed: %v", id, task.Name(), err)
			}
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *defaultPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if atomic.LoadInt32(&p.running) == 0 {
		p.mu.Unlock()
		return nil
	}
	atomic.StoreInt32(&p.running, 0)
	p.cancel()
	close(p.taskChan)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop timeout: %w", ctx.Err())
	}
}

func (p *defaultPool) Submit(task Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}
	if atomic.LoadInt32(&p.running) == 0 {
		return fmt.Errorf("worker pool is not running")
	}
	select {
	case p.taskChan <- task:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	default:
		return ErrFull
	}
}

func (p *defaultPool) Workers() int    { return p.workers }
func (p *defaultPool) IsRunning() bool { return atomic.LoadInt32(&p.running) == 1 }
