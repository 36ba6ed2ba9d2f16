package netconf

import "errors"

// Sentinel errors describing the local failure kinds a Session can observe.
// Transport-level sentinels (ErrWouldBlock, ErrPeerClosed, ErrReadTimeout,
// ErrMalformedFraming) live in the transport package; these extend that
// vocabulary with conditions specific to the NETCONF message layer.
var (
	// ErrSubstrateError names an unrecoverable error surfaced by the
	// underlying transport.Adapter. No function in this module returns or
	// wraps it; adapter errors reach callers as the adapter produced them.
	ErrSubstrateError = errors.New("netconf: substrate error")

	// ErrMsgMalformed is returned by the message classifier (C4) when
	// a framed message's root element can't be recognized as hello,
	// rpc, rpc-reply or notification.
	ErrMsgMalformed = errors.New("netconf: malformed message")

	// ErrBadHello is returned by the handshake (C2) when the peer's
	// <hello> has no capabilities, lacks the session-id a server must
	// send, or carries a session-id a client must not send.
	ErrBadHello = errors.New("netconf: bad hello message")

	// ErrInvalidState is returned by any operation attempted after the
	// session has transitioned to Invalid.
	ErrInvalidState = errors.New("netconf: session is in an invalid state")
)
