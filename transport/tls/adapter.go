package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.netframe.dev/netconf/transport"
)

// Adapter implements transport.Adapter over a *tls.Conn. Unlike the SSH
// channel substrate, *tls.Conn natively supports SetReadDeadline, so
// WouldBlock detection needs no background pump: ReadSome sets an
// already-expired deadline and treats the resulting timeout as "no data
// yet", the direct Go analogue of OpenSSL's SSL_ERROR_WANT_READ that
// original_source/src/io.c checks for on its NC_TI_OPENSSL branch.
type Adapter struct {
	conn *tls.Conn

	pending []byte

	mu        sync.Mutex
	connected bool
}

func newAdapter(conn *tls.Conn) *Adapter {
	return &Adapter{conn: conn, connected: true}
}

func (a *Adapter) ReadSome(buf []byte) (int, error) {
	if len(a.pending) > 0 {
		n := copy(buf, a.pending)
		a.pending = a.pending[n:]
		return n, nil
	}

	if err := a.conn.SetReadDeadline(time.Now()); err != nil {
		return 0, fmt.Errorf("tls: set read deadline: %w", err)
	}
	n, err := a.conn.Read(buf)
	if err == nil {
		return n, nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return n, transport.ErrWouldBlock
	}
	a.markDisconnected()
	if errors.Is(err, io.EOF) {
		return n, fmt.Errorf("tls: %w", transport.ErrPeerClosed)
	}
	return n, fmt.Errorf("tls: read failed: %w", err)
}

// PollIn waits up to timeout for readable data, staging whatever it reads
// into pending so a subsequent ReadSome never loses bytes consumed during
// the wait.
func (a *Adapter) PollIn(timeout time.Duration) (bool, error) {
	if len(a.pending) > 0 {
		return true, nil
	}

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := a.conn.SetReadDeadline(deadline); err != nil {
		return false, fmt.Errorf("tls: set read deadline: %w", err)
	}

	buf := make([]byte, 16*1024)
	n, err := a.conn.Read(buf)
	if n > 0 {
		a.pending = append(a.pending, buf[:n]...)
		return true, nil
	}
	if err == nil {
		return false, nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false, nil
	}
	a.markDisconnected()
	if errors.Is(err, io.EOF) {
		return false, fmt.Errorf("tls: %w", transport.ErrPeerClosed)
	}
	return false, fmt.Errorf("tls: poll read failed: %w", err)
}

func (a *Adapter) WriteAll(buf []byte) error {
	if err := a.conn.SetWriteDeadline(time.Time{}); err != nil {
		return fmt.Errorf("tls: set write deadline: %w", err)
	}
	if _, err := a.conn.Write(buf); err != nil {
		a.markDisconnected()
		return fmt.Errorf("tls: write failed: %w", err)
	}
	return nil
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Adapter) markDisconnected() {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
}

func (a *Adapter) Close() error {
	return a.conn.Close()
}
