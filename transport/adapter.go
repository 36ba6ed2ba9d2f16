package transport

import (
	"errors"
	"time"
)

// ErrWouldBlock is returned by Adapter.ReadSome when the underlying
// substrate has no data available right now but is not otherwise broken.
// Unlike io.EOF or a fatal error, it carries no session-ending meaning; the
// caller is expected to retry, typically after a short cooperative sleep.
var ErrWouldBlock = errors.New("netconf: transport would block")

// ErrPeerClosed indicates the remote end closed its side of the transport,
// either cleanly (EOF) or via a substrate-specific hangup signal
// (POLLHUP, SSH channel EOF, TLS zero_return).
var ErrPeerClosed = errors.New("netconf: peer closed connection")

// Adapter is the uniform byte-level contract that every NETCONF transport
// substrate (raw file descriptors, an SSH subsystem channel, a TLS stream)
// must satisfy. It intentionally does not look like io.Reader/io.Writer:
// ReadSome must be able to report "no data yet" without blocking so that the
// Framed Reader (see NewTimeoutReader) can enforce a per-message timeout
// across an arbitrary mix of substrates.
//
// Implementations live in the transport/fd, transport/ssh and transport/tls
// packages, one per substrate, since each has fundamentally different
// readiness signalling (FD EAGAIN, SSH channel polling, TLS want-read).
type Adapter interface {
	// ReadSome attempts one underlying read into buf. It returns n > 0 on
	// progress, ErrWouldBlock if the substrate has nothing ready (the
	// implementation must not sleep), or a fatal error wrapping
	// ErrPeerClosed/other substrate faults.
	ReadSome(buf []byte) (n int, err error)

	// PollIn blocks up to timeout for the substrate to become readable. It
	// returns (true, nil) on readiness, (false, nil) on timeout, and
	// (false, err) on a fatal substrate error (including peer hangup).
	PollIn(timeout time.Duration) (ready bool, err error)

	// WriteAll writes the entirety of buf, looping internally over any
	// transient short-write or want-write conditions until it either
	// completes or hits a fatal error.
	WriteAll(buf []byte) error

	// IsConnected performs a non-destructive, non-blocking check of
	// whether a subsequent I/O operation could plausibly make progress.
	IsConnected() bool

	// Close releases the substrate-specific resources.
	Close() error
}

// sleepStep is the cooperative delay used while waiting out WouldBlock
// conditions, matching §4.2's "sleep step = 1 ms".
const sleepStep = time.Millisecond

// defaultReadBudget is the default per-message read timeout from §6's
// Defaults table.
const defaultReadBudget = 30 * time.Second
