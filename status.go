package netconf

// Status is the lifecycle state of a Session, mirroring the NC_STATUS
// enumeration in original_source/src/session_p.h.
type Status int

const (
	// StatusStarting is set from construction until the hello exchange
	// completes successfully.
	StatusStarting Status = iota
	// StatusRunning is set once the hello exchange has completed and
	// the session is free to exchange rpc/rpc-reply/notification
	// messages.
	StatusRunning
	// StatusClosing is set once Close has been called, before the
	// underlying transport is actually torn down.
	StatusClosing
	// StatusInvalid is a terminal state: the session can no longer be
	// used for I/O. It is one-way — no status ever transitions back out
	// of Invalid.
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusClosing:
		return "closing"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// TermReason records why a session left the Running state, mirroring
// NC_SESSION_TERM_REASON.
type TermReason int

const (
	// TermNone means the session has not terminated.
	TermNone TermReason = iota
	// TermClosed means the local side closed the session gracefully
	// (Close was called, whether or not closing the transport reported an
	// error).
	TermClosed
	// TermKilled means the session was terminated by a <kill-session>
	// from another session.
	TermKilled
	// TermDropped means the peer disappeared: the transport reported
	// ErrPeerClosed or an equivalent disconnect.
	TermDropped
	// TermTimeout means a read exceeded its per-message budget
	// (transport.ErrReadTimeout).
	TermTimeout
	// TermBadHello means the hello exchange failed validation.
	TermBadHello
	// TermOther covers substrate errors, malformed framing, and any
	// other condition that forces the session to Invalid without
	// fitting a more specific reason.
	TermOther
)

func (r TermReason) String() string {
	switch r {
	case TermNone:
		return "none"
	case TermClosed:
		return "closed"
	case TermKilled:
		return "killed"
	case TermDropped:
		return "dropped"
	case TermTimeout:
		return "timeout"
	case TermBadHello:
		return "bad-hello"
	case TermOther:
		return "other"
	default:
		return "unknown"
	}
}

// Side identifies which end of the session a Session value represents.
type Side int

const (
	SideClient Side = iota
	SideServer
)

func (s Side) String() string {
	if s == SideServer {
		return "server"
	}
	return "client"
}
