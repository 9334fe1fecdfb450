// Package worker runs background tasks on a fixed set of goroutines fed by a
// bounded queue. Submit never blocks the caller.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mmrzaf/listmat/internal/logging"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrQueueFull  = errors.New("worker queue is full")
)

type Task func(ctx context.Context)

type job struct {
	name string
	run  Task
}

type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	queue  chan job
	logger *logging.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines. Tasks receive a context that is cancelled
// when Stop gives up waiting.
func NewPool(workers, queueSize int, logger *logging.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
		group:  &errgroup.Group{},
		queue:  make(chan job, queueSize),
		logger: logger.WithComponent("worker"),
	}
	for i := 0; i < workers; i++ {
		p.group.Go(p.loop)
	}
	return p
}

// Context is the base context handed to tasks.
func (p *Pool) Context() context.Context { return p.ctx }

func (p *Pool) Submit(name string, fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- job{name: name, run: fn}:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrQueueFull, name)
	}
}

func (p *Pool) loop() error {
	for j := range p.queue {
		p.execute(j)
	}
	return nil
}

func (p *Pool) execute(j job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("worker.task_panicked", map[string]any{"task": j.name, "panic": fmt.Sprint(r)})
		}
	}()
	j.run(p.ctx)
}

// Stop refuses new work, lets queued and running tasks finish, and cancels the
// task context if ctx expires first.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
