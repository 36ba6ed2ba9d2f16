package netconf

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLockTimeout is returned when a caller-supplied deadline expires while
// waiting to acquire the session's transport lock, per §5's "ti_lock
// acquisition, for which a timed lock with a caller-supplied deadline is
// used."
var ErrLockTimeout = errors.New("netconf: timed out acquiring transport lock")

// timedMutex is the Go substitute for a mutex with a caller-supplied
// acquisition deadline: a buffered channel of capacity 1, acquired with a
// select against a timer channel. original_source/src/session_p.h's
// ti_lock is a pthread mutex acquired through a timed-lock wrapper around
// every transport I/O and staging-buffer access; Go has no equivalent
// primitive, so this channel-as-semaphore idiom stands in for it per the
// Design Notes' guidance.
type timedMutex chan struct{}

func newTimedMutex() timedMutex {
	return make(timedMutex, 1)
}

// Lock acquires the lock, blocking indefinitely.
func (m timedMutex) Lock() { m <- struct{}{} }

// Unlock releases the lock. Panics if the lock isn't held, mirroring
// sync.Mutex's own contract.
func (m timedMutex) Unlock() {
	select {
	case <-m:
	default:
		panic("netconf: unlock of unlocked timedMutex")
	}
}

// lockWithContext acquires the lock, giving up early with ErrLockTimeout
// if ctx's deadline (if any) elapses first, or with ctx.Err() if ctx is
// otherwise cancelled. A ctx with no deadline behaves like Lock.
func (m timedMutex) lockWithContext(ctx context.Context) error {
	// Fast path: try a non-blocking acquire first so an already-cancelled
	// or already-expired ctx never wins a race against a free lock.
	select {
	case m <- struct{}{}:
		return nil
	default:
	}

	var timeoutC <-chan time.Time
	if deadline, ok := ctx.Deadline(); ok {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case m <- struct{}{}:
		return nil
	case <-timeoutC:
		return fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
		}
		return ctx.Err()
	}
}
