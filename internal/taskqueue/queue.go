// Package taskqueue implements C3: an in-process priority task queue with a
// fixed worker pool, used to run embedding, extraction, and attachment
// processing off the request path. Grounded on the teacher's worker/Task
// split (internal/playground/worker) generalized from one shard-execution
// task shape into a handler-registry dispatch over named task kinds.
package taskqueue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"memoryhub/internal/config"
)

// Priority orders tasks within the queue; HIGH drains before NORMAL before
// LOW regardless of submission order (§4.7).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Task is one unit of background work.
type Task struct {
	ID          string
	Kind        string
	Payload     any
	Priority    Priority
	Attempts    int
	MaxAttempts int
	EnqueuedAt  time.Time

	// SerializationKey, when non-empty, forces tasks sharing the same key
	// to run one at a time and in FIFO order relative to each other — used
	// for per-memory embedding writes so two updates to the same memory
	// never race (§5).
	SerializationKey string
}

// Handler processes one task kind. Any returned error causes a requeue
// with Attempts incremented until MaxAttempts is reached, after which the
// task is dropped.
type Handler func(ctx context.Context, t Task) error

// Queue is a bounded in-process priority queue plus a fixed worker pool.
type Queue struct {
	cfg config.TaskQueueConfig
	log zerolog.Logger

	mu       sync.Mutex
	notEmpty *sync.Cond
	items    taskHeap
	closed   bool

	handlers map[string]Handler

	// lanes serializes work for a given SerializationKey: a task with a
	// busy key is held back and resubmitted once the lane frees, so the
	// queue never runs two embedding writes for the same memory at once.
	lanes map[string]bool

	wg sync.WaitGroup
}

// New constructs a Queue. Call Start to spin up workers.
func New(cfg config.TaskQueueConfig, log zerolog.Logger) *Queue {
	q := &Queue{
		cfg:      cfg,
		log:      log,
		handlers: make(map[string]Handler),
		lanes:    make(map[string]bool),
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// RegisterHandler binds a task kind to its processing function.
func (q *Queue) RegisterHandler(kind string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Enqueue submits a new task, assigning it an ID and attempt budget from
// config if unset. Returns an error if the queue is at capacity or closed.
func (q *Queue) Enqueue(t Task) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = q.cfg.MaxAttempts
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", fmt.Errorf("task queue is shut down")
	}
	if q.cfg.QueueCapacity > 0 && len(q.items) >= q.cfg.QueueCapacity {
		return "", fmt.Errorf("task queue at capacity (%d)", q.cfg.QueueCapacity)
	}
	heap.Push(&q.items, &t)
	q.notEmpty.Signal()
	return t.ID, nil
}

// Start launches the configured number of worker goroutines. They run
// until ctx is cancelled or Shutdown is called.
func (q *Queue) Start(ctx context.Context) {
	workers := q.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.runWorker(ctx)
	}
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.closed = true
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	}()
}

// Shutdown stops accepting new tasks and waits up to the configured
// ShutdownWait for in-flight + queued tasks to drain (§4.7, §5).
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	wait := q.cfg.ShutdownWait
	if wait <= 0 {
		wait = 30 * time.Second
	}
	select {
	case <-done:
	case <-time.After(wait):
		q.log.Warn().Msg("task queue shutdown wait exceeded; workers still draining")
	}
}

func (q *Queue) runWorker(ctx context.Context) {
	defer q.wg.Done()
	for {
		t, ok := q.dequeue(ctx)
		if !ok {
			return
		}
		q.process(ctx, t)
	}
}

// dequeue blocks until a runnable task is available (its serialization
// lane, if any, is free), the queue is closed and empty, or ctx ends.
func (q *Queue) dequeue(ctx context.Context) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if ctx.Err() != nil {
			return Task{}, false
		}
		if idx := q.firstRunnableLocked(); idx >= 0 {
			t := heap.Remove(&q.items, idx).(*Task)
			if t.SerializationKey != "" {
				q.lanes[t.SerializationKey] = true
			}
			return *t, true
		}
		if q.closed && len(q.items) == 0 {
			return Task{}, false
		}
		q.notEmpty.Wait()
	}
}

func (q *Queue) firstRunnableLocked() int {
	best := -1
	for i, t := range q.items {
		if t.SerializationKey != "" && q.lanes[t.SerializationKey] {
			continue
		}
		if best < 0 || q.items.Less(i, best) {
			best = i
		}
	}
	return best
}

func (q *Queue) releaseLane(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.lanes, key)
	q.notEmpty.Signal()
	q.mu.Unlock()
}

func (q *Queue) process(ctx context.Context, t Task) {
	defer q.releaseLane(t.SerializationKey)

	q.mu.Lock()
	handler, ok := q.handlers[t.Kind]
	q.mu.Unlock()
	if !ok {
		q.log.Error().Str("kind", t.Kind).Str("task_id", t.ID).Msg("no handler registered for task kind; dropping")
		return
	}

	t.Attempts++
	err := handler(ctx, t)
	if err == nil {
		return
	}
	if t.Attempts >= t.MaxAttempts {
		q.log.Error().Err(err).Str("kind", t.Kind).Str("task_id", t.ID).Int("attempts", t.Attempts).
			Msg("task exceeded max attempts; dropping")
		return
	}
	q.log.Warn().Err(err).Str("kind", t.Kind).Str("task_id", t.ID).Int("attempts", t.Attempts).
		Msg("task failed; requeueing")
	if _, reErr := q.Enqueue(t); reErr != nil {
		q.log.Error().Err(reErr).Str("task_id", t.ID).Msg("failed to requeue task")
	}
}

// taskHeap orders by Priority descending, then by EnqueuedAt ascending
// (FIFO within a priority tier).
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
