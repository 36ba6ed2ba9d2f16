package transport

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedAdapter struct {
	reads     []readStep
	i         int
	connected bool
	written   []byte
}

type readStep struct {
	n   int
	buf []byte
	err error
}

func (a *scriptedAdapter) ReadSome(buf []byte) (int, error) {
	if a.i >= len(a.reads) {
		return 0, ErrWouldBlock
	}
	step := a.reads[a.i]
	a.i++
	n := copy(buf, step.buf)
	return n, step.err
}

func (a *scriptedAdapter) PollIn(time.Duration) (bool, error) { return true, nil }

func (a *scriptedAdapter) WriteAll(buf []byte) error {
	a.written = append(a.written, buf...)
	return nil
}

func (a *scriptedAdapter) IsConnected() bool { return a.connected }
func (a *scriptedAdapter) Close() error      { return nil }

func TestBudgetReader_ReturnsImmediateData(t *testing.T) {
	a := &scriptedAdapter{reads: []readStep{{buf: []byte("hello")}}}
	r := NewTimeoutReader(a, time.Second)

	buf := make([]byte, 16)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestBudgetReader_SleepsThroughWouldBlock(t *testing.T) {
	a := &scriptedAdapter{reads: []readStep{
		{err: ErrWouldBlock},
		{err: ErrWouldBlock},
		{buf: []byte("ok")},
	}}
	r := NewTimeoutReader(a, time.Second)

	buf := make([]byte, 16)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf[:n]))
}

func TestBudgetReader_TimesOut(t *testing.T) {
	a := &scriptedAdapter{}
	r := NewTimeoutReader(a, 10*time.Millisecond)

	buf := make([]byte, 16)
	_, err := r.Read(buf)
	assert.ErrorIs(t, err, ErrReadTimeout)
}

func TestBudgetReader_PropagatesFatalError(t *testing.T) {
	wantErr := errors.New("boom")
	a := &scriptedAdapter{reads: []readStep{{err: wantErr}}}
	r := NewTimeoutReader(a, time.Second)

	buf := make([]byte, 16)
	_, err := r.Read(buf)
	assert.ErrorIs(t, err, wantErr)
}

func TestConnWriter_WritesWhenConnected(t *testing.T) {
	a := &scriptedAdapter{connected: true}
	w := NewConnWriter(a)

	n, err := w.Write([]byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "payload", string(a.written))
}

func TestConnWriter_RejectsWhenDisconnected(t *testing.T) {
	a := &scriptedAdapter{connected: false}
	w := NewConnWriter(a)

	_, err := w.Write([]byte("payload"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, ErrPeerClosed)
	assert.Empty(t, a.written)
}

// TestBudgetReader_DeadlinePersistsAcrossReads covers §4.2's "the budget is
// granted once per message, not once per underlying Read call". Each Read
// only absorbs a couple of WouldBlocks before returning data, so no single
// call ever comes close to the budget on its own — only the cumulative
// wall-clock time spent across many calls does. A reader that re-armed its
// deadline on every call (the pre-fix behavior) would never time out here.
func TestBudgetReader_DeadlinePersistsAcrossReads(t *testing.T) {
	reads := make([]readStep, 0, 600)
	for i := 0; i < 200; i++ {
		reads = append(reads,
			readStep{err: ErrWouldBlock},
			readStep{err: ErrWouldBlock},
			readStep{buf: []byte("x")},
		)
	}
	a := &scriptedAdapter{reads: reads}
	r := &budgetReader{a: a, budget: 15 * time.Millisecond}

	buf := make([]byte, 16)
	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		_, err := r.Read(buf)
		if err != nil {
			lastErr = err
			break
		}
	}
	assert.ErrorIs(t, lastErr, ErrReadTimeout)
}

// TestBudgetReader_StartMessageResetsDeadline covers the other half of the
// same fix: StartMessage must grant a fresh budget for the next message
// rather than carrying over whatever remained from the last one.
func TestBudgetReader_StartMessageResetsDeadline(t *testing.T) {
	a := &scriptedAdapter{}
	r := &budgetReader{a: a, budget: 10 * time.Millisecond}

	buf := make([]byte, 16)
	_, err := r.Read(buf)
	require.ErrorIs(t, err, ErrReadTimeout)

	r.StartMessage()
	a.i = 0
	a.reads = []readStep{{buf: []byte("ok")}}

	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf[:n]))
}

func TestNewTimeoutReader_ImplementsMessageStarter(t *testing.T) {
	a := &scriptedAdapter{}
	r := NewTimeoutReader(a, time.Second)

	ms, ok := r.(messageStarter)
	require.True(t, ok, "budgetReader must implement messageStarter so Framer.MsgReader can call StartMessage")
	ms.StartMessage()
}

var _ io.Reader = (*budgetReader)(nil)
