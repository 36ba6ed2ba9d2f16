// Package fd implements the NETCONF transport.Adapter contract over two raw,
// half-duplex file descriptors, the "NC_TI_FD" substrate of
// original_source/src/io.c. It is the substrate used when a NETCONF peer is
// reached over an already-established pipe or socket pair rather than SSH
// or TLS (for example, a subprocess's stdin/stdout, or a pre-authenticated
// call-home socket handed off by a higher-level dispatcher).
package fd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"go.netframe.dev/netconf/transport"
)

// Adapter implements transport.Adapter over two *os.File handles: one for
// reading, one for writing. They may refer to the same descriptor.
type Adapter struct {
	in  *os.File
	out *os.File
}

// New wraps in/out as a transport.Adapter. Both files are put into
// non-blocking mode, mirroring the EAGAIN-driven loop in
// original_source/src/io.c's nc_read/nc_write.
func New(in, out *os.File) (*Adapter, error) {
	if err := unix.SetNonblock(int(in.Fd()), true); err != nil {
		return nil, fmt.Errorf("fd: set non-blocking on read fd: %w", err)
	}
	if out.Fd() != in.Fd() {
		if err := unix.SetNonblock(int(out.Fd()), true); err != nil {
			return nil, fmt.Errorf("fd: set non-blocking on write fd: %w", err)
		}
	}
	return &Adapter{in: in, out: out}, nil
}

// NewTransport is a convenience wrapper combining New with a Framer, ready
// for the initial NETCONF 1.0 hello exchange.
func NewTransport(in, out *os.File, readBudget time.Duration) (transport.Transport, error) {
	a, err := New(in, out)
	if err != nil {
		return nil, err
	}
	return &Transport{
		Adapter: a,
		framer: transport.NewFramer(
			transport.NewTimeoutReader(a, readBudget),
			transport.NewConnWriter(a),
		),
	}, nil
}

func (a *Adapter) ReadSome(buf []byte) (int, error) {
	// (*os.File).Fd switches a pollable descriptor back to blocking mode,
	// so non-blocking mode is restored before every read.
	fd := int(a.in.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return 0, fmt.Errorf("fd: set non-blocking on read fd: %w", err)
	}
	for {
		n, err := unix.Read(fd, buf)
		switch {
		case errors.Is(err, unix.EAGAIN):
			return 0, transport.ErrWouldBlock
		case errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return 0, fmt.Errorf("fd: read: %w", err)
		case n == 0:
			return 0, fmt.Errorf("fd: %w", transport.ErrPeerClosed)
		default:
			return n, nil
		}
	}
}

// PollIn waits up to timeout for the read descriptor to become readable.
// Signals are not masked during the wait; a poll interrupted with EINTR is
// retried with the full timeout, so EINTR never surfaces to the caller.
func (a *Adapter) PollIn(timeout time.Duration) (bool, error) {
	ms := int(timeout / time.Millisecond)
	if timeout < 0 {
		ms = -1
	}

	fds := []unix.PollFd{{Fd: int32(a.in.Fd()), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("fd: poll: %w", err)
		}
		if n == 0 {
			return false, nil
		}
		if fds[0].Revents&(unix.POLLHUP) != 0 {
			return false, fmt.Errorf("fd: %w", transport.ErrPeerClosed)
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
			return false, fmt.Errorf("fd: poll error on descriptor")
		}
		return true, nil
	}
}

// WriteAll writes buf in full, looping over EAGAIN with the same bounded
// cooperative delay §4.1 requires of every substrate.
func (a *Adapter) WriteAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(int(a.out.Fd()), buf)
		switch {
		case errors.Is(err, unix.EAGAIN):
			time.Sleep(time.Millisecond)
			continue
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EPIPE):
			return fmt.Errorf("fd: write: %w: %w", transport.ErrPeerClosed, err)
		case err != nil:
			return fmt.Errorf("fd: write: %w", err)
		default:
			buf = buf[n:]
		}
	}
	return nil
}

// IsConnected performs a zero-timeout poll for hangup/error conditions.
func (a *Adapter) IsConnected() bool {
	fds := []unix.PollFd{{Fd: int32(a.in.Fd()), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, 0)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false
		}
		if n > 0 && fds[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0 {
			return false
		}
		return true
	}
}

// Close closes both descriptors, tolerating a shared in/out handle.
func (a *Adapter) Close() error {
	err := a.in.Close()
	if a.out.Fd() != a.in.Fd() {
		if werr := a.out.Close(); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// Transport implements transport.Transport over a fd.Adapter, providing the
// same MsgReader/MsgWriter message framing as the ssh and tls transports.
type Transport struct {
	*Adapter
	framer *transport.Framer
}

func (t *Transport) MsgReader() (io.ReadCloser, error) {
	return t.framer.MsgReader()
}

func (t *Transport) MsgWriter() (io.WriteCloser, error) {
	return t.framer.MsgWriter()
}

// Upgrade switches the transport from NETCONF 1.0 end-of-message framing to
// NETCONF 1.1 chunked framing, as called by Session after capability
// negotiation.
func (t *Transport) Upgrade() {
	t.framer.Upgrade()
}

func (t *Transport) Close() error {
	return t.Adapter.Close()
}
