package ssh

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.netframe.dev/netconf/transport"
)

// pumpAdapter turns a blocking io.Reader/io.Writer pair (the stdout/stdin
// pipes golang.org/x/crypto/ssh.Session hands back, themselves backed by
// the SSH channel) into a transport.Adapter with genuine WouldBlock/poll
// semantics.
//
// ssh.Channel has no read deadline, unlike a *tls.Conn or a raw fd, so
// ReadSome cannot simply attempt a non-blocking syscall. Instead a single
// background goroutine performs the blocking reads and publishes each
// result on an unbuffered channel; ReadSome and PollIn both pull from that
// channel without ever touching the underlying Read concurrently. This is
// the same bridging idiom damianoneill-net/netconf/rfc6242/decoder.go uses
// (io.Pipe plus a feeder goroutine) to give a blocking source a
// non-blocking-friendly consumer side.
type pumpAdapter struct {
	w io.WriteCloser

	results chan readResult
	pending *readResult
	closed  chan struct{}
	once    sync.Once

	mu        sync.Mutex
	connected bool
}

type readResult struct {
	buf []byte
	err error
}

func newPumpAdapter(r io.Reader, w io.WriteCloser) *pumpAdapter {
	a := &pumpAdapter{
		w:         w,
		results:   make(chan readResult),
		closed:    make(chan struct{}),
		connected: true,
	}
	go a.pump(r)
	return a
}

// pump runs in its own goroutine for the adapter's lifetime, since
// ssh.Channel offers no way to interrupt a blocked Read. Once Close has
// been called, a final in-flight result is dropped rather than leaking the
// goroutine on a send nobody will ever receive.
func (a *pumpAdapter) pump(r io.Reader) {
	buf := make([]byte, 16*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case a.results <- readResult{buf: chunk}:
			case <-a.closed:
				return
			}
		}
		if err != nil {
			select {
			case a.results <- readResult{err: classifyReadErr(err)}:
			case <-a.closed:
			}
			return
		}
	}
}

func classifyReadErr(err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("ssh: %w", transport.ErrPeerClosed)
	}
	return fmt.Errorf("ssh: channel read failed: %w", err)
}

func (a *pumpAdapter) take() (readResult, bool) {
	if a.pending != nil {
		r := *a.pending
		a.pending = nil
		return r, true
	}
	select {
	case r := <-a.results:
		return r, true
	default:
		return readResult{}, false
	}
}

func (a *pumpAdapter) ReadSome(buf []byte) (int, error) {
	r, ok := a.take()
	if !ok {
		return 0, transport.ErrWouldBlock
	}
	if r.err != nil {
		a.markDisconnected()
		return 0, r.err
	}
	n := copy(buf, r.buf)
	if n < len(r.buf) {
		leftover := r.buf[n:]
		a.pending = &readResult{buf: leftover}
	}
	return n, nil
}

func (a *pumpAdapter) PollIn(timeout time.Duration) (bool, error) {
	if a.pending != nil {
		return true, nil
	}

	var after <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		after = t.C
	}

	select {
	case r := <-a.results:
		a.pending = &r
		if r.err != nil {
			a.markDisconnected()
			return false, r.err
		}
		return true, nil
	case <-after:
		return false, nil
	}
}

func (a *pumpAdapter) WriteAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := a.w.Write(buf)
		if err != nil {
			a.markDisconnected()
			return fmt.Errorf("ssh: channel write failed: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}

func (a *pumpAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *pumpAdapter) markDisconnected() {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
}

func (a *pumpAdapter) Close() error {
	a.once.Do(func() { close(a.closed) })
	return a.w.Close()
}
