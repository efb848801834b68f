// Package worker runs background tasks on a fixed set of goroutines fed by a
// bounded queue.
//
// A submitted task is started at most once and always runs to completion:
// cancelling the context passed to Start stops the pool from accepting work,
// but queued and running tasks are drained by Shutdown.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned when every queue slot is taken.
	ErrQueueFull = errors.New("task queue is full")

	// ErrPoolClosed is returned for submissions after shutdown began.
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Task is a unit of background work.
type Task func(ctx context.Context)

type job struct {
	name string
	fn   Task
}

// Config sizes a pool.
type Config struct {
	Workers    int
	QueueDepth int
}

// DefaultConfig returns 4 workers over a 64 slot queue.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueDepth: 64}
}

// Pool is a bounded worker pool.
type Pool struct {
	cfg   Config
	queue chan job

	mu      sync.RWMutex
	closed  bool
	started bool

	group *errgroup.Group
}

// NewPool creates a pool. Non-positive sizes fall back to the defaults.
func NewPool(cfg Config) *Pool {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = def.QueueDepth
	}
	return &Pool{
		cfg:   cfg,
		queue: make(chan job, cfg.QueueDepth),
	}
}

// Start launches the workers. Tasks receive a context carrying ctx's values
// but not its cancellation.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	taskCtx := context.WithoutCancel(ctx)
	p.group = &errgroup.Group{}
	for i := range p.cfg.Workers {
		p.group.Go(func() error {
			for j := range p.queue {
				p.run(taskCtx, i, j)
			}
			return nil
		})
	}

	log.Ctx(ctx).Info().
		Int("workers", p.cfg.Workers).
		Int("queue_depth", p.cfg.QueueDepth).
		Msg("Worker pool started")
}

// Submit queues fn without blocking.
func (p *Pool) Submit(name string, fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- job{name: name, fn: fn}:
		return nil
	default:
		return fmt.Errorf("%w: %d tasks queued", ErrQueueFull, p.cfg.QueueDepth)
	}
}

// Pending returns the number of queued tasks not yet started.
func (p *Pool) Pending() int {
	return len(p.queue)
}

// Shutdown stops accepting tasks and waits for queued and running ones to
// finish, or for ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	group := p.group
	if group == nil {
		// Never started: drain what was queued on a single worker so every
		// task still runs its cleanup.
		taskCtx := context.WithoutCancel(ctx)
		group = &errgroup.Group{}
		group.Go(func() error {
			for j := range p.queue {
				p.run(taskCtx, 0, j)
			}
			return nil
		})
		p.group = group
		p.started = true
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}

func (p *Pool) run(ctx context.Context, worker int, j job) {
	defer func() {
		if r := recover(); r != nil {
			log.Ctx(ctx).Error().
				Interface("panic", r).
				Str("task", j.name).
				Int("worker", worker).
				Msg("Task panicked")
		}
	}()

	log.Ctx(ctx).Debug().Str("task", j.name).Int("worker", worker).Msg("Task started")
	j.fn(ctx)
}
