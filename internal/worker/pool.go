// Package worker provides the bounded fire-and-forget task pool that keeps
// persistence writes and push sends off the ingestion path.
package worker

import (
	"context"
	"log/slog"
	"sync"
)

type task struct {
	name string
	fn   func(ctx context.Context)
}

// Pool runs submitted tasks on a fixed set of workers. Submit never blocks:
// when the queue is full the task is dropped and counted, never retried.
type Pool struct {
	tasks  chan task
	size   int
	onDrop func()
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewPool(size, queueDepth int, onDrop func(), logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Pool{
		tasks:  make(chan task, queueDepth),
		size:   size,
		onDrop: onDrop,
		logger: logger.With(slog.String("component", "worker_pool")),
	}
}

// Run starts the workers. They exit when ctx is cancelled; tasks still queued
// at that point are dropped.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-p.tasks:
					t.fn(ctx)
				}
			}
		}()
	}
	p.logger.Info("Worker pool started", slog.Int("size", p.size), slog.Int("queueDepth", cap(p.tasks)))
}

// Submit queues a task, reporting whether it was accepted.
func (p *Pool) Submit(name string, fn func(ctx context.Context)) bool {
	select {
	case p.tasks <- task{name: name, fn: fn}:
		return true
	default:
		p.logger.Warn("Task queue full, dropping task", slog.String("task", name))
		if p.onDrop != nil {
			p.onDrop()
		}
		return false
	}
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}
