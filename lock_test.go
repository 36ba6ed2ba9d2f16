package netconf

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimedMutex_LockUnlockRoundTrip(t *testing.T) {
	m := newTimedMutex()
	m.Lock()
	m.Unlock()

	// Must be re-acquirable after Unlock.
	m.Lock()
	m.Unlock()
}

func TestTimedMutex_UnlockWithoutLockPanics(t *testing.T) {
	m := newTimedMutex()
	assert.Panics(t, func() { m.Unlock() })
}

func TestTimedMutex_LockWithContext_SucceedsWhenFree(t *testing.T) {
	m := newTimedMutex()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, m.lockWithContext(ctx))
	m.Unlock()
}

func TestTimedMutex_LockWithContext_TimesOutWhenHeld(t *testing.T) {
	m := newTimedMutex()
	m.Lock()
	defer m.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.lockWithContext(ctx)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestTimedMutex_LockWithContext_CancelledWithoutDeadline(t *testing.T) {
	m := newTimedMutex()
	m.Lock()
	defer m.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.lockWithContext(ctx) }()

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}
