package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// workerPool runs fn over submitted items on n goroutines fed by a bounded queue.
// Callers that need the result pass a channel inside T.
type workerPool[T, R any] struct {
	name    string
	queue   chan T
	process func(ctx context.Context, t T) (R, error)
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func newWorkerPool[T, R any](ctx context.Context, name string, n, capacity int, logger *slog.Logger, fn func(context.Context, T) (R, error)) *workerPool[T, R] {
	if n < 1 {
		n = 1
	}
	p := &workerPool[T, R]{
		name:    name,
		queue:   make(chan T, capacity),
		process: fn,
		logger:  logger,
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	return p
}

func (p *workerPool[T, R]) run(ctx context.Context) {
	for {
		select {
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			if err := p.safeProcess(ctx, item); err != nil {
				p.logger.Error("worker failed", "pool", p.name, "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// safeProcess keeps one bad item from taking a worker down.
func (p *workerPool[T, R]) safeProcess(ctx context.Context, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	_, err = p.process(ctx, item)
	return err
}

// Submit enqueues without blocking; false means the queue is full.
func (p *workerPool[T, R]) Submit(t T) bool {
	select {
	case p.queue <- t:
		return true
	default:
		return false
	}
}

// Drain closes the queue and waits for queued items to finish.
func (p *workerPool[T, R]) Drain() {
	close(p.queue)
	p.wg.Wait()
}

func (p *workerPool[T, R]) QueueLen() int { return len(p.queue) }

func (p *workerPool[T, R]) QueueCap() int { return cap(p.queue) }
