// Package pool provides a bounded worker pool for heavy numeric batches.
// The core never depends on the pool being present: every entry point falls
// back to synchronous in-process computation when the pool is absent, full,
// or stopped.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrTaskTimeout marks a task that exceeded its per-task deadline.
	ErrTaskTimeout = errors.New("pool: task timed out")
	// ErrUnknownTaskType marks a task with no registered handler.
	ErrUnknownTaskType = errors.New("pool: unknown task type")
)

// TaskError is the pool's error kind — distinct from narrative-queue errors
// so callers can tell infrastructure failures apart.
type TaskError struct {
	TaskID string
	Type   string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("pool task %s (%s): %v", e.TaskID, e.Type, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Task is the request half of the pool envelope.
type Task struct {
	ID   string `json:"task_id"`
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NewTask builds a task with a generated ID.
func NewTask(taskType string, data any) Task {
	return Task{ID: uuid.NewString(), Type: taskType, Data: data}
}

// Result is the response half: a value or an error, never both.
type Result struct {
	TaskID string `json:"task_id"`
	Value  any    `json:"result,omitempty"`
	Err    error  `json:"error,omitempty"`
}

// Handler computes one task type.
type Handler func(ctx context.Context, data any) (any, error)

// Registry maps task types to handlers. It works standalone (synchronous
// computation) or behind a Pool.
type Registry struct {
	handlers map[string]Handler
	timeout  time.Duration
}

// NewRegistry creates a registry with a per-task timeout.
func NewRegistry(perTaskTimeout time.Duration) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		timeout:  perTaskTimeout,
	}
}

// Register binds a handler to a task type.
func (r *Registry) Register(taskType string, h Handler) {
	r.handlers[taskType] = h
}

// Invoke computes a task synchronously under the per-task timeout.
func (r *Registry) Invoke(ctx context.Context, t Task) Result {
	h, ok := r.handlers[t.Type]
	if !ok {
		return Result{TaskID: t.ID, Err: &TaskError{TaskID: t.ID, Type: t.Type, Err: ErrUnknownTaskType}}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	done := make(chan Result, 1)
	go func() {
		v, err := h(ctx, t.Data)
		if err != nil {
			err = &TaskError{TaskID: t.ID, Type: t.Type, Err: err}
		}
		done <- Result{TaskID: t.ID, Value: v, Err: err}
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return Result{TaskID: t.ID, Err: &TaskError{TaskID: t.ID, Type: t.Type, Err: ErrTaskTimeout}}
	}
}

// MapBatch computes a batch of tasks with bounded parallelism and returns
// results in task order. With limit ≤ 1 the batch runs sequentially.
func (r *Registry) MapBatch(ctx context.Context, tasks []Task, limit int) []Result {
	results := make([]Result, len(tasks))
	if limit <= 1 {
		for i, t := range tasks {
			results[i] = r.Invoke(ctx, t)
		}
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			results[i] = r.Invoke(gctx, t)
			return nil
		})
	}
	g.Wait()
	return results
}

type submission struct {
	task  Task
	reply chan Result
}

// Pool runs registry handlers on a fixed set of worker goroutines.
type Pool struct {
	registry *Registry
	inbox    chan submission
	workers  int

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// New creates a pool over a registry with the given worker count and queue
// depth. Call Start before submitting.
func New(registry *Registry, workers, queueDepth int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = workers
	}
	return &Pool{
		registry: registry,
		inbox:    make(chan submission, queueDepth),
		workers:  workers,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop drains in-flight tasks and stops the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.inbox)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for sub := range p.inbox {
		sub.reply <- p.registry.Invoke(context.Background(), sub.task)
	}
}

// trySubmit offers a task to the pool. Returns false when the pool is not
// running or its queue is full — the caller falls back to synchronous
// computation.
func (p *Pool) trySubmit(t Task) (chan Result, bool) {
	// The lock spans the send so Stop cannot close the inbox between the
	// running check and the enqueue. The send never blocks under the lock:
	// a full queue hits the default case.
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil, false
	}

	reply := make(chan Result, 1)
	select {
	case p.inbox <- submission{task: t, reply: reply}:
		return reply, true
	default:
		return nil, false
	}
}

// Execute runs a task on the pool when one is available, falling back to
// synchronous in-process computation otherwise. Correctness never depends
// on the pool.
func (r *Registry) Execute(ctx context.Context, p *Pool, t Task) Result {
	if p != nil {
		if reply, ok := p.trySubmit(t); ok {
			select {
			case res := <-reply:
				return res
			case <-ctx.Done():
				return Result{TaskID: t.ID, Err: &TaskError{TaskID: t.ID, Type: t.Type, Err: ctx.Err()}}
			}
		}
	}
	return r.Invoke(ctx, t)
}
