// Package registry implements the Scope/Request Registry (C8): a table of
// in-flight and recently-completed symbolication requests, backpressure
// on total occupancy, and a background reaper that enforces the
// retention grace period (spec §4.8).
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRetention matches spec §3: "Retained for a grace period (default
// 90 s) after completion so polls can retrieve."
const DefaultRetention = 90 * time.Second

// State is a request's lifecycle state (spec §3).
type State string

const (
	StatePending State = "pending"
	StateReady   State = "completed"
	StateFailed  State = "failed"
)

// ErrQueueFull is returned by Register when the registry is at capacity
// (spec §4.8: "additional submissions are rejected with a queue_full
// error").
var ErrQueueFull = errors.New("queue_full")

// Snapshot is the point-in-time view returned by Status: a request's
// state plus its result (only meaningful when State == StateReady) or
// error (only meaningful when State == StateFailed).
type Snapshot[T any] struct {
	RequestID string
	State     State
	Result    T
	Err       error
}

type entry[T any] struct {
	id          string
	scope       string
	createdAt   time.Time
	completedAt time.Time

	mu       sync.Mutex
	state    State
	result   T
	err      error
	waiters  []chan struct{}
}

// Registry tracks symbolication requests whose eventual result is of
// type T. One Registry instance is shared process-wide per spec §4.8's
// "each replica manages its own... request table" (no cross-replica
// coordination).
type Registry[T any] struct {
	mu             sync.Mutex
	requests       map[string]*entry[T]
	maxOccupancy   int
	retention      time.Duration
	log            *zap.Logger
}

// New builds a Registry. maxOccupancy bounds in-flight + retained
// requests combined; 0 means unbounded. retention <= 0 uses
// DefaultRetention.
func New[T any](maxOccupancy int, retention time.Duration, log *zap.Logger) *Registry[T] {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry[T]{
		requests:     make(map[string]*entry[T]),
		maxOccupancy: maxOccupancy,
		retention:    retention,
		log:          log.Named("registry"),
	}
}

// Register allocates a new unguessable request_id (google/uuid) in state
// Pending, scoped to scope. Returns ErrQueueFull if the registry is at
// capacity.
func (r *Registry[T]) Register(scope string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxOccupancy > 0 && len(r.requests) >= r.maxOccupancy {
		return "", ErrQueueFull
	}

	id := uuid.NewString()
	r.requests[id] = &entry[T]{
		id:        id,
		scope:     scope,
		createdAt: time.Now(),
		state:     StatePending,
	}
	return id, nil
}

// Complete marks id Ready with result, notifying any waiters blocked in
// Status.
func (r *Registry[T]) Complete(id string, result T) {
	r.mu.Lock()
	e, ok := r.requests[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.state = StateReady
	e.result = result
	e.completedAt = time.Now()
	waiters := e.waiters
	e.waiters = nil
	e.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Fail marks id Failed; C7 "never fails a whole request due to one
// module failing" (spec §7) — Fail is reserved for internal errors
// (cache corruption, invariant violation), not per-module/per-frame
// failures, which are represented within a completed result instead.
func (r *Registry[T]) Fail(id string, err error) {
	r.mu.Lock()
	e, ok := r.requests[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.state = StateFailed
	e.err = err
	e.completedAt = time.Now()
	waiters := e.waiters
	e.waiters = nil
	e.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Status implements spec §4.7's get_status: unknown id → ok=false
// (surfaces as 404 at the out-of-scope HTTP edge, per the Rust
// original's endpoints/requests.rs). A timeout > 0 waits for completion;
// timeout == 0 (or request already settled) returns the current snapshot
// immediately.
func (r *Registry[T]) Status(ctx context.Context, id string, timeout time.Duration) (Snapshot[T], bool) {
	r.mu.Lock()
	e, ok := r.requests[id]
	r.mu.Unlock()
	if !ok {
		var zero Snapshot[T]
		return zero, false
	}

	e.mu.Lock()
	if e.state != StatePending || timeout <= 0 {
		snap := snapshotOf(e)
		e.mu.Unlock()
		return snap, true
	}
	wait := make(chan struct{})
	e.waiters = append(e.waiters, wait)
	e.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-wait:
	case <-timer.C:
	case <-ctx.Done():
	}

	e.mu.Lock()
	snap := snapshotOf(e)
	e.mu.Unlock()
	return snap, true
}

func snapshotOf[T any](e *entry[T]) Snapshot[T] {
	return Snapshot[T]{RequestID: e.id, State: e.state, Result: e.result, Err: e.err}
}

// Reap deletes settled requests whose completion exceeded the retention
// grace and returns how many it removed. Pending requests are never
// removed, however old. Safe to call concurrently with
// Register/Complete/Status.
func (r *Registry[T]) Reap(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.requests {
		e.mu.Lock()
		settled := e.state != StatePending
		completedAt := e.completedAt
		e.mu.Unlock()

		if settled && now.Sub(completedAt) > r.retention {
			delete(r.requests, id)
			removed++
		}
	}
	return removed
}

// RunReaper starts a background goroutine calling Reap on interval until
// ctx is cancelled. The caller owns the goroutine's lifetime via ctx,
// matching spec §5's shutdown-drains-gracefully model.
func (r *Registry[T]) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := r.Reap(now); n > 0 {
					r.log.Debug("reaped expired requests", zap.Int("count", n))
				}
			}
		}
	}()
}
