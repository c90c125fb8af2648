// ABOUTME: Lazily-initialized process-wide values guarded against concurrent double-initialization
// ABOUTME: Concurrent first callers share one init call; failed inits are retried on the next Get

package lazy

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// InitFunc builds the value on first use.
type InitFunc[T any] func(ctx context.Context) (T, error)

// Value holds a value that is built at most once successfully.
// After initialization the value is read-only and Get takes only a read lock.
type Value[T any] struct {
	init  InitFunc[T]
	group singleflight.Group

	mu    sync.RWMutex
	ready bool
	val   T
}

// New returns a Value that calls init on the first Get.
func New[T any](init InitFunc[T]) *Value[T] {
	return &Value[T]{init: init}
}

// Of returns a Value that is already initialized. Useful for injecting fakes.
func Of[T any](val T) *Value[T] {
	return &Value[T]{ready: true, val: val}
}

// Get returns the value, building it if needed.
//
// The init call runs on a context detached from the caller's cancellation so
// one impatient caller cannot fail the initialization for everyone else, but
// each caller stops waiting as soon as its own ctx is done.
func (v *Value[T]) Get(ctx context.Context) (T, error) {
	if val, ok := v.load(); ok {
		return val, nil
	}

	ch := v.group.DoChan("init", func() (any, error) {
		if val, ok := v.load(); ok {
			return val, nil
		}
		val, err := v.init(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.val = val
		v.ready = true
		v.mu.Unlock()
		return val, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		val, _ := res.Val.(T)
		return val, nil
	}
}

// Loaded reports whether the value has been built.
func (v *Value[T]) Loaded() bool {
	_, ok := v.load()
	return ok
}

func (v *Value[T]) load() (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.val, v.ready
}
