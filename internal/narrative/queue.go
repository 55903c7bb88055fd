// Priority request queue. Interactive requests preempt background ones,
// failures retry with priority demotion, and repeated shapes hit a
// short-lived result cache. Timeout/retry semantics here are orthogonal to
// the tick-synchronous core and to the worker pool's error kind.
package narrative

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Queue error kinds, distinct from pool.TaskError.
var (
	ErrQueueFull        = errors.New("narrative: queue full")
	ErrPreempted        = errors.New("narrative: request preempted by higher priority")
	ErrRetriesExhausted = errors.New("narrative: retries exhausted")
	ErrQueueClosed      = errors.New("narrative: queue closed")
)

// Priority orders pending requests. Higher runs first.
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityInteractive
)

func (p Priority) String() string {
	if p == PriorityInteractive {
		return "interactive"
	}
	return "background"
}

// Request is one narrative-generation call.
type Request struct {
	ID        string
	Priority  Priority
	Kind      string // request shape, e.g. "market_event", "trend_story"
	System    string
	Prompt    string
	MaxTokens int
}

// NewRequest builds a request with a generated ID.
func NewRequest(priority Priority, kind, system, prompt string, maxTokens int) Request {
	return Request{
		ID:        uuid.NewString(),
		Priority:  priority,
		Kind:      kind,
		System:    system,
		Prompt:    prompt,
		MaxTokens: maxTokens,
	}
}

// shapeKey keys the result cache by request shape.
func (r Request) shapeKey() string {
	sum := sha256.Sum256([]byte(r.Kind + "\x00" + r.System + "\x00" + r.Prompt))
	return hex.EncodeToString(sum[:16])
}

type result struct {
	text string
	err  error
}

type pendingReq struct {
	req      Request
	attempts int
	done     chan result
}

type cacheEntry struct {
	text      string
	expiresAt time.Time
}

// Queue bounds concurrency and pending depth for narrative calls.
type Queue struct {
	client     Completer
	capacity   int
	workers    int
	maxRetries int
	cacheTTL   time.Duration

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*pendingReq
	closed  bool
	cache   map[string]cacheEntry
	wg      sync.WaitGroup
}

// NewQueue creates a queue over a completer. capacity bounds pending
// requests, workers bounds concurrent calls.
func NewQueue(client Completer, capacity, workers, maxRetries int, cacheTTL time.Duration) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	if workers < 1 {
		workers = 1
	}
	q := &Queue{
		client:     client,
		capacity:   capacity,
		workers:    workers,
		maxRetries: maxRetries,
		cacheTTL:   cacheTTL,
		cache:      make(map[string]cacheEntry),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the worker goroutines.
func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Stop rejects pending requests and waits for in-flight calls to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.closed = true
	for _, p := range q.pending {
		p.done <- result{err: ErrQueueClosed}
	}
	q.pending = nil
	q.cond.Broadcast()
	q.mu.Unlock()
	q.wg.Wait()
}

// Submit enqueues a request and blocks until its result, a cache hit, or
// ctx cancellation. When the queue is at capacity, a strictly
// higher-priority request preempts the lowest-priority pending one;
// otherwise the new request is rejected with ErrQueueFull.
func (q *Queue) Submit(ctx context.Context, req Request) (string, error) {
	key := req.shapeKey()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	if entry, ok := q.cache[key]; ok {
		if time.Now().Before(entry.expiresAt) {
			q.mu.Unlock()
			return entry.text, nil
		}
		delete(q.cache, key)
	}

	if len(q.pending) >= q.capacity {
		victim := q.lowestPriorityLocked()
		if victim == nil || victim.req.Priority >= req.Priority {
			q.mu.Unlock()
			return "", ErrQueueFull
		}
		q.removeLocked(victim)
		victim.done <- result{err: ErrPreempted}
		slog.Debug("narrative request preempted",
			"victim", victim.req.ID, "priority", victim.req.Priority.String())
	}

	p := &pendingReq{req: req, done: make(chan result, 1)}
	q.pending = append(q.pending, p)
	q.cond.Signal()
	q.mu.Unlock()

	select {
	case res := <-p.done:
		return res.text, res.err
	case <-ctx.Done():
		q.mu.Lock()
		q.removeLocked(p)
		q.mu.Unlock()
		return "", ctx.Err()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		p := q.highestPriorityLocked()
		q.removeLocked(p)
		q.mu.Unlock()

		text, err := q.client.Complete(p.req.System, p.req.Prompt, p.req.MaxTokens)
		if err == nil {
			q.mu.Lock()
			q.cache[p.req.shapeKey()] = cacheEntry{
				text:      text,
				expiresAt: time.Now().Add(q.cacheTTL),
			}
			q.mu.Unlock()
			p.done <- result{text: text}
			continue
		}

		p.attempts++
		if p.attempts > q.maxRetries {
			p.done <- result{err: fmt.Errorf("%w: %v", ErrRetriesExhausted, err)}
			continue
		}

		// Retry with priority demotion: a failing interactive request must
		// not starve the background lane.
		if p.req.Priority > PriorityBackground {
			p.req.Priority--
		}
		slog.Debug("narrative retry",
			"request", p.req.ID, "attempt", p.attempts,
			"priority", p.req.Priority.String(), "error", err)

		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			p.done <- result{err: ErrQueueClosed}
			return
		}
		q.pending = append(q.pending, p)
		q.cond.Signal()
		q.mu.Unlock()
	}
}

// highestPriorityLocked returns the oldest request of the highest priority.
func (q *Queue) highestPriorityLocked() *pendingReq {
	best := q.pending[0]
	for _, p := range q.pending[1:] {
		if p.req.Priority > best.req.Priority {
			best = p
		}
	}
	return best
}

// lowestPriorityLocked returns the newest request of the lowest priority.
func (q *Queue) lowestPriorityLocked() *pendingReq {
	if len(q.pending) == 0 {
		return nil
	}
	best := q.pending[len(q.pending)-1]
	for i := len(q.pending) - 2; i >= 0; i-- {
		if q.pending[i].req.Priority < best.req.Priority {
			best = q.pending[i]
		}
	}
	return best
}

func (q *Queue) removeLocked(target *pendingReq) {
	for i, p := range q.pending {
		if p == target {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

// Pending reports the queued request count.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
