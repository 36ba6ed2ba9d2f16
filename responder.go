package netconf

import (
	"go.netframe.dev/netconf/transport"
)

// respondMalformedMessage implements C7: on a server-side NETCONF 1.1
// session, a message that the classifier (C4) can't recognize gets a
// synthesized <rpc-reply> carrying a single malformed-message rpc-error,
// sent back through the framed writer (C3). Grounded on
// original_source/src/io.c's handling of NC_MSG_ERROR in nc_session_recv_rpc,
// which always answers a malformed request rather than silently dropping
// the connection.
//
// Any failure while sending the reply is logged and swallowed: the caller
// transitions the session to Invalid/Other regardless of whether the
// reply made it out.
func (s *Session) respondMalformedMessage() {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	w, err := s.tr.MsgWriter()
	if err != nil {
		s.logf("failed to open writer for malformed-message reply: %v", err)
		return
	}
	sw := transport.NewStagingWriter(w)

	if _, err := sw.Write([]byte(`<rpc-reply xmlns="` + NetconfNamespace + `">`)); err != nil {
		s.logf("failed to write malformed-message reply: %v", err)
		_ = sw.Close()
		return
	}

	rpcErr := RPCError{
		Type:     ErrTypeRPC,
		Tag:      ErrMalformedMessage,
		Severity: SevError,
	}
	if err := WriteRPCError(sw, rpcErr, nil, ""); err != nil {
		s.logf("failed to write malformed-message rpc-error: %v", err)
		_ = sw.Close()
		return
	}

	if _, err := sw.Write([]byte("</rpc-reply>")); err != nil {
		s.logf("failed to write malformed-message reply: %v", err)
		_ = sw.Close()
		return
	}

	if err := sw.Close(); err != nil {
		s.logf("failed to flush malformed-message reply: %v", err)
	}
}

func (s *Session) logf(format string, args ...any) {
	s.logger.Printf("netconf: session %d: "+format, append([]any{s.sessionID}, args...)...)
}
