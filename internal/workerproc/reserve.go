package workerproc

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ReserveSlot holds at most one unassigned, fully-warmed worker globally
// (spec.md's ReserveSlot invariant: |reserve| is exactly zero or one;
// consuming it asynchronously triggers a replacement spawn). The
// replacement spawn is serialised through singleflight so that a
// concurrent Take()-then-replenish race never produces two in-flight
// reserves — grounded on the teacher's use of control-connection mutexes
// to avoid duplicate concurrent work, generalised here to the
// process-wide spawn race named in spec.md §5.
type ReserveSlot struct {
	mu     sync.Mutex
	worker *Worker

	spawn  func(context.Context) (*Worker, error)
	warmUp func(*Worker) error
	group  singleflight.Group
}

// NewReserveSlot returns an empty slot. spawn creates a fresh unbound
// worker; warmUp runs the warm-up pass (spec.md §4.4's "Reserve
// warm-up") before the worker becomes visible in the slot.
func NewReserveSlot(spawn func(context.Context) (*Worker, error), warmUp func(*Worker) error) *ReserveSlot {
	return &ReserveSlot{spawn: spawn, warmUp: warmUp}
}

// Ensure triggers an asynchronous replenish if the slot is currently
// empty; it does not block.
func (r *ReserveSlot) Ensure(ctx context.Context) {
	r.mu.Lock()
	empty := r.worker == nil
	r.mu.Unlock()
	if empty {
		go r.replenish(ctx)
	}
}

// Take detaches and returns the current reserve worker, or nil if none
// is available, then asynchronously spawns a replacement.
func (r *ReserveSlot) Take() *Worker {
	r.mu.Lock()
	w := r.worker
	r.worker = nil
	r.mu.Unlock()
	if w != nil {
		go r.replenish(context.Background())
	}
	return w
}

// Peek returns the current reserve worker without detaching it, for
// tests and introspection.
func (r *ReserveSlot) Peek() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.worker
}

func (r *ReserveSlot) replenish(ctx context.Context) {
	_, _, _ = r.group.Do("reserve", func() (interface{}, error) {
		r.mu.Lock()
		alreadyFilled := r.worker != nil
		r.mu.Unlock()
		if alreadyFilled {
			return nil, nil
		}
		w, err := r.spawn(ctx)
		if err != nil {
			return nil, err
		}
		if r.warmUp != nil {
			if err := r.warmUp(w); err != nil {
				w.Kill()
				return nil, err
			}
		}
		r.mu.Lock()
		r.worker = w
		r.mu.Unlock()
		return nil, nil
	})
}
