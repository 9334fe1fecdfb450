// Package shutdown keeps the cleanup actions of in-flight background work and runs
// them, in registration order, when the process stops.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mmrzaf/listmat/internal/identity"
	"github.com/mmrzaf/listmat/internal/logging"
	"github.com/mmrzaf/listmat/internal/metrics"
)

var ErrClosed = errors.New("shutdown registry is closed")

// Action is run at most once, under the identity it was registered with.
type Action func(ctx context.Context) error

const (
	taskRegistered int32 = iota
	taskReleased
	taskRunning
)

type task struct {
	seq      uint64
	name     string
	identity identity.Identity
	action   Action
	state    atomic.Int32
}

// Handle revokes a registered action.
type Handle struct {
	registry *Registry
	task     *task
}

// Release deregisters the action without running it. It reports false when the
// action already ran (or is running) because shutdown got there first.
func (h *Handle) Release() bool {
	if h == nil || h.task == nil {
		return false
	}
	if !h.task.state.CompareAndSwap(taskRegistered, taskReleased) {
		return false
	}
	h.registry.remove(h.task.seq)
	return true
}

type Registry struct {
	mu      sync.Mutex
	seq     uint64
	tasks   map[uint64]*task
	closed  bool
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// NewRegistry returns an open registry. m may be nil.
func NewRegistry(m *metrics.Metrics, logger *logging.Logger) *Registry {
	return &Registry{
		tasks:   make(map[uint64]*task),
		metrics: m,
		logger:  logger.WithComponent("shutdown"),
	}
}

func (r *Registry) Register(id identity.Identity, name string, action Action) (*Handle, error) {
	if action == nil {
		return nil, fmt.Errorf("shutdown task %q has no action", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	r.seq++
	t := &task{seq: r.seq, name: name, identity: id, action: action}
	r.tasks[t.seq] = t
	return &Handle{registry: r, task: t}, nil
}

func (r *Registry) remove(seq uint64) {
	r.mu.Lock()
	delete(r.tasks, seq)
	r.mu.Unlock()
}

// Len is the number of actions still registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Shutdown closes the registry and runs every still-registered action in
// registration order. A failing or panicking action is logged and the rest still
// run. Later calls are no-ops.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pending := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		pending = append(pending, t)
	}
	r.tasks = make(map[uint64]*task)
	r.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })

	r.logger.Infow("shutdown.started", map[string]any{"tasks": len(pending)})
	for _, t := range pending {
		if !t.state.CompareAndSwap(taskRegistered, taskRunning) {
			continue
		}
		r.metrics.ShutdownAction()
		if err := r.run(ctx, t); err != nil {
			r.logger.Errorw("shutdown.task_failed", map[string]any{
				"task":      t.name,
				"tenant_id": t.identity.TenantID,
				"error":     err.Error(),
			})
			continue
		}
		r.logger.Debugw("shutdown.task_done", map[string]any{"task": t.name})
	}
}

func (r *Registry) run(ctx context.Context, t *task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return t.action(identity.NewContext(ctx, t.identity))
}
