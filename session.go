package netconf

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"

	"go.netframe.dev/netconf/transport"
)

const (
	NetconfNamespace      = "urn:ietf:params:xml:ns:netconf:base:1.0"
	NotificationNamespace = "urn:ietf:params:xml:ns:netconf:notification:1.0"
)

var ErrClosed = errors.New("closed connection")

type sessionConfig struct {
	clientCaps []string
	sessionID  uint64
	logger     *log.Logger
}

type SessionOption interface {
	apply(*sessionConfig)
}

type capabilityOpt []string

func (o capabilityOpt) apply(cfg *sessionConfig) {
	cfg.clientCaps = []string(o)
}

// WithCapability overrides the set of capabilities advertised in this
// session's <hello> message.
func WithCapability(capabilities ...string) SessionOption {
	return capabilityOpt(capabilities)
}

type loggerOpt struct{ l *log.Logger }

func (o loggerOpt) apply(cfg *sessionConfig) { cfg.logger = o.l }

// WithLogger overrides the *log.Logger a Session uses to report
// background errors it can't otherwise surface (recvLoop failures, a
// failed malformed-message reply, and the like). Defaults to log.Default().
func WithLogger(l *log.Logger) SessionOption {
	return loggerOpt{l: l}
}

type sessionIDOpt uint64

func (o sessionIDOpt) apply(cfg *sessionConfig) { cfg.sessionID = uint64(o) }

// WithSessionID overrides the session-id a server-side session advertises
// in its <hello>. If unset, Accept generates one.
func WithSessionID(id uint64) SessionOption {
	return sessionIDOpt(id)
}

// Session represents a NETCONF session with a peer, either as the client
// (Open) or the server (Accept) side of the exchange.
type Session struct {
	tr        transport.Transport
	side      Side
	sessionID uint64
	seq       atomic.Uint64

	clientCaps CapabilitySet
	serverCaps CapabilitySet

	logger *log.Logger

	mu            sync.Mutex
	reqs          map[string]*pendingReq
	closing       bool
	status        Status
	termReason    TermReason
	notifyHandler NotificationHandler

	// writeLock is ti_lock (§5): it serializes transport writes so at
	// most one message is ever on the wire at a time, and is acquired
	// with a caller-supplied deadline where the caller provides one.
	writeLock timedMutex
}

func newSession(side Side, tr transport.Transport, opts ...SessionOption) *Session {
	cfg := sessionConfig{
		clientCaps: DefaultCapabilities,
		logger:     log.Default(),
	}

	for _, opt := range opts {
		opt.apply(&cfg)
	}

	s := &Session{
		tr:         tr,
		side:       side,
		clientCaps: NewCapabilitySet(cfg.clientCaps...),
		reqs:       make(map[string]*pendingReq),
		logger:     cfg.logger,
		status:     StatusStarting,
		sessionID:  cfg.sessionID,
		writeLock:  newTimedMutex(),
	}
	return s
}

// Open creates a new client-side Session over transport and performs the
// client half of the hello exchange (C2).
func Open(tr transport.Transport, opts ...SessionOption) (*Session, error) {
	s := newSession(SideClient, tr, opts...)

	if err := s.clientHandshake(); err != nil {
		s.invalidate(TermBadHello)
		_ = s.tr.Close()
		return nil, err
	}

	s.setStatus(StatusRunning)
	go s.recvLoop()
	return s, nil
}

// Accept creates a new server-side Session over transport and performs
// the server half of the hello exchange (C2): it sends its own <hello>
// first, then waits for the peer's.
func Accept(tr transport.Transport, opts ...SessionOption) (*Session, error) {
	cfg := sessionConfig{}
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if cfg.sessionID == 0 {
		opts = append(opts, sessionIDOpt(newSessionID()))
	}

	s := newSession(SideServer, tr, opts...)

	if err := s.serverHandshake(); err != nil {
		s.invalidate(TermBadHello)
		_ = s.tr.Close()
		return nil, err
	}

	s.setStatus(StatusRunning)
	go s.recvLoop()
	return s, nil
}

func newSessionID() uint64 {
	// session-id must be nonzero: a 0 return from the peer's hello is
	// rejected as ErrBadHello by validateHello.
	for {
		if id := rand.Uint64(); id != 0 {
			return id
		}
	}
}

// clientHandshake sends the client hello and waits for the server's.
func (s *Session) clientHandshake() error {
	clientMsg := HelloMsg{
		Capabilities: slices.Collect(s.clientCaps.All()),
	}
	if err := s.writeHello(&clientMsg); err != nil {
		return err
	}

	serverMsg, err := s.readHello()
	if err != nil {
		return err
	}
	if err := validateHello(serverMsg, true); err != nil {
		return err
	}

	s.serverCaps = NewCapabilitySet(serverMsg.Capabilities...)
	s.sessionID = serverMsg.SessionID

	s.maybeUpgrade()
	return nil
}

// serverHandshake sends the server hello (carrying the session-id) and
// waits for the client's.
func (s *Session) serverHandshake() error {
	serverMsg := HelloMsg{
		SessionID:    s.sessionID,
		Capabilities: slices.Collect(s.clientCaps.All()),
	}
	if err := s.writeHello(&serverMsg); err != nil {
		return err
	}

	clientMsg, err := s.readHello()
	if err != nil {
		return err
	}
	if err := validateHello(clientMsg, false); err != nil {
		return err
	}

	s.serverCaps = NewCapabilitySet(clientMsg.Capabilities...)

	s.maybeUpgrade()
	return nil
}

// validateHello enforces C2's contract: capabilities must be non-empty; on
// the client side the peer must have returned a session-id, and on the
// server side the peer must not have sent one.
func validateHello(msg *HelloMsg, requireSessionID bool) error {
	if requireSessionID && msg.SessionID == 0 {
		return fmt.Errorf("%w: peer did not return a session-id", ErrBadHello)
	}
	if !requireSessionID && msg.SessionID != 0 {
		return fmt.Errorf("%w: client hello carried a session-id", ErrBadHello)
	}
	if len(msg.Capabilities) == 0 {
		return fmt.Errorf("%w: peer did not return any capabilities", ErrBadHello)
	}
	return nil
}

// writeHello always uses NETCONF 1.0 end-of-message framing: Upgrade is
// never called before or during the hello exchange, on either side.
func (s *Session) writeHello(msg *HelloMsg) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	w, err := s.tr.MsgWriter()
	if err != nil {
		return fmt.Errorf("failed to get hello message writer: %w", err)
	}

	if err := xml.NewEncoder(w).Encode(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write hello message: %w", err)
	}
	return w.Close()
}

func (s *Session) readHello() (*HelloMsg, error) {
	r, err := s.tr.MsgReader()
	if err != nil {
		return nil, fmt.Errorf("failed to get hello message reader: %w", err)
	}
	defer func() { _ = r.Close() }()

	var msg HelloMsg
	if err := xml.NewDecoder(r).Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to read peer hello message: %w", err)
	}
	return &msg, nil
}

// maybeUpgrade switches the transport to NETCONF 1.1 chunked framing once
// both sides have advertised it, per §4.4.
func (s *Session) maybeUpgrade() {
	if s.serverCaps.Has(CapNetConf11) && s.clientCaps.Has(CapNetConf11) {
		if upgrader, ok := s.tr.(interface{ Upgrade() }); ok {
			upgrader.Upgrade()
		}
	}
}

// negotiated11 reports whether both peers advertised NETCONF 1.1, i.e.
// whether the transport has been upgraded to chunked framing.
func (s *Session) negotiated11() bool {
	return s.serverCaps.Has(CapNetConf11) && s.clientCaps.Has(CapNetConf11)
}

// ID returns the session-id exchanged in the hello messages. For a
// server-side session this is the value Accept generated or was given via
// WithSessionID; for a client session it's whatever the server returned.
func (s *Session) ID() uint64 {
	return s.sessionID
}

// SessionID is an alias for ID, kept for callers migrating from the
// original client-only API.
func (s *Session) SessionID() uint64 {
	return s.sessionID
}

// Side reports whether this Session is the client or server end of the
// exchange.
func (s *Session) Side() Side {
	return s.side
}

// Status returns the session's current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// TermReason returns why the session left the Running state. It is
// TermNone until the session becomes Invalid.
func (s *Session) TermReason() TermReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termReason
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	if s.status != StatusInvalid {
		s.status = status
	}
	s.mu.Unlock()
}

// invalidate is the one-way transition into Invalid. Once called, status
// never changes again and reason records why.
func (s *Session) invalidate(reason TermReason) {
	s.mu.Lock()
	if s.status != StatusInvalid {
		s.status = StatusInvalid
		s.termReason = reason
	}
	s.mu.Unlock()
}

// IsConnected reports whether both the session's own state and the
// underlying transport consider the connection usable.
func (s *Session) IsConnected() bool {
	if s.Status() == StatusInvalid {
		return false
	}
	if checker, ok := s.tr.(interface{ IsConnected() bool }); ok {
		return checker.IsConnected()
	}
	return true
}

// ClientCaps will return the capabilities initialized with the session.
func (s *Session) ClientCaps() *CapabilitySet {
	return &s.clientCaps
}

// ServerCaps will return the capabilities the peer advertised in its hello
// message: the server's on a client session, the client's on a server
// session.
func (s *Session) ServerCaps() *CapabilitySet {
	return &s.serverCaps
}

// startElement will walk though a xml.Decode until it finds a start element
// and returns it.
func startElement(d *xml.Decoder) (*xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}

		if start, ok := tok.(xml.StartElement); ok {
			return &start, nil
		}
	}
}

type pendingReq struct {
	reply chan *Response
	ctx   context.Context
}

type replyReader struct {
	io.Reader
	closer io.Closer

	done chan struct{}
	once sync.Once
}

func (r *replyReader) Close() error {
	var err error
	r.once.Do(func() {
		err = r.closer.Close()
		close(r.done)
	})
	return err
}

// recvLoop is the main receive loop. It runs concurrently so that
// interleaved messages (like notifications, or unsolicited rpc-reply
// mismatches) don't stall outstanding requests.
func (s *Session) recvLoop() {
	buf := make([]byte, 4096)
	reason := TermDropped
	for {
		r, err := s.recvMsg(buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrPeerClosed) {
				reason = TermDropped
			} else if errors.Is(err, transport.ErrReadTimeout) {
				reason = TermTimeout
			} else {
				reason = TermOther
			}
			s.logger.Printf("netconf: session %d: recv loop exiting: %v", s.sessionID, err)
			break
		}
		if r == malformed && s.side == SideServer && s.negotiated11() {
			s.respondMalformedMessage()
			reason = TermOther
			break
		}
	}

	s.mu.Lock()
	wasClosing := s.closing
	for _, req := range s.reqs {
		close(req.reply)
	}
	s.mu.Unlock()

	if wasClosing {
		reason = TermClosed
	}

	s.invalidate(reason)
	_ = s.tr.Close()

	if !wasClosing {
		s.logger.Printf("netconf: session %d: connection closed unexpectedly (%s)", s.sessionID, reason)
	}
}

// recvOutcome distinguishes a normally-dispatched message from one the
// classifier rejected, without unwinding recvLoop via an error (a
// malformed message is not fatal by itself — only an actual I/O failure
// is).
type recvOutcome int

const (
	dispatched recvOutcome = iota
	malformed
)

func getMessageID(attrs []xml.Attr) string {
	for _, attr := range attrs {
		if attr.Name.Local == "message-id" {
			return attr.Value
		}
	}
	return ""
}

func (s *Session) recvMsg(buf []byte) (recvOutcome, error) {
	r, err := s.tr.MsgReader()
	if err != nil {
		return dispatched, err
	}
	defer func() { _ = r.Close() }()

	n, err := r.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		if errors.Is(err, transport.ErrMalformedFraming) {
			s.logger.Printf("netconf: session %d: malformed framing: %v", s.sessionID, err)
			return malformed, nil
		}
		return dispatched, err
	}

	chunk := buf[:n]
	decoder := xml.NewDecoder(bytes.NewReader(chunk))

	c, cerr := classify(decoder)
	msgReader := io.MultiReader(bytes.NewReader(chunk), r)

	if cerr != nil || c.kind == KindUnknown {
		s.logger.Printf("netconf: session %d: %v", s.sessionID, cerr)
		// Drain so the transport's framer isn't left mid-message.
		_, _ = io.Copy(io.Discard, msgReader)
		return malformed, nil
	}

	switch c.kind {
	case KindRPCReply:
		return dispatched, s.dispatchReply(c.start, msgReader, r)

	case KindNotification:
		return dispatched, s.dispatchNotification(c.start, msgReader, r)

	case KindRPC:
		// This build implements the client role's message types fully;
		// a server receiving an <rpc> without a higher-level operation
		// dispatcher attached has nothing to route it to. Drain and
		// continue rather than treating it as fatal.
		_, _ = io.Copy(io.Discard, msgReader)
		return dispatched, nil

	default:
		_, _ = io.Copy(io.Discard, msgReader)
		return dispatched, nil
	}
}

func (s *Session) dispatchReply(start xml.StartElement, msgReader io.Reader, r io.ReadCloser) error {
	msgID := getMessageID(start.Attr)
	if msgID == "" {
		s.logger.Printf("netconf: session %d: rpc-reply missing message-id", s.sessionID)
		return nil
	}

	s.mu.Lock()
	req, ok := s.reqs[msgID]
	delete(s.reqs, msgID)
	s.mu.Unlock()

	if !ok {
		s.logger.Printf("netconf: session %d: unexpected rpc-reply with message-id %s (possible timeout?)", s.sessionID, msgID)
		return nil
	}

	readDone := make(chan struct{})
	reader := &replyReader{
		Reader: msgReader,
		closer: r,
		done:   readDone,
	}

	select {
	case req.reply <- &Response{
		ReadCloser: reader,
		MessageID:  msgID,
		Attributes: start.Attr,
	}:
		<-readDone
		return nil

	case <-req.ctx.Done():
		return nil
	}
}

// NotificationHandler receives notifications delivered outside of any
// pending request/reply exchange.
type NotificationHandler func(*Notification)

// OnNotification registers fn to be called for every <notification>
// received for the lifetime of the session. Only one handler may be
// registered; calling it again replaces the previous handler.
func (s *Session) OnNotification(fn NotificationHandler) {
	s.mu.Lock()
	s.notifyHandler = fn
	s.mu.Unlock()
}

func (s *Session) dispatchNotification(start xml.StartElement, msgReader io.Reader, r io.ReadCloser) error {
	raw, err := io.ReadAll(msgReader)
	if err != nil {
		return fmt.Errorf("failed to read notification: %w", err)
	}

	var n Notification
	if err := xml.Unmarshal(raw, &n); err != nil {
		s.logger.Printf("netconf: session %d: failed to parse notification: %v", s.sessionID, err)
		return nil
	}

	s.mu.Lock()
	handler := s.notifyHandler
	s.mu.Unlock()

	if handler != nil {
		handler(&n)
	}
	return nil
}

// Do issues a rpc message for the given Request. This is a low-level method
// that doesn't try to decode the response including any rpc-errors.
func (s *Session) Do(ctx context.Context, req *Request) (*Response, error) {
	if s.Status() == StatusInvalid {
		return nil, ErrInvalidState
	}

	msgID := strconv.FormatUint(s.seq.Add(1), 10)
	req.RPC.MessageID = msgID

	ch := make(chan *Response, 1)
	s.mu.Lock()
	s.reqs[msgID] = &pendingReq{
		reply: ch,
		ctx:   ctx,
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.reqs, msgID)
		s.mu.Unlock()
	}()

	// ti_lock (§5) linearizes writes so at most one message is on the
	// wire at a time; acquisition honors ctx's deadline if it has one.
	if err := s.writeLock.lockWithContext(ctx); err != nil {
		return nil, err
	}

	w, err := s.tr.MsgWriter()
	if err != nil {
		s.writeLock.Unlock()
		return nil, fmt.Errorf("failed to get message writer: %w", err)
	}
	if err := xml.NewEncoder(w).Encode(req.RPC); err != nil {
		_ = w.Close()
		s.writeLock.Unlock()
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	closeErr := w.Close()
	s.writeLock.Unlock()
	if closeErr != nil {
		return nil, fmt.Errorf("failed to flush request: %w", closeErr)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Exec issues a rpc message with `req` as the body and decodes the response into
// a pointer at `resp`. Resp must include the full <rpc-reply> structure.
func (s *Session) Exec(ctx context.Context, operation any, reply any) error {
	req := Request{RPC: RPC{Operation: operation}}

	resp, err := s.Do(ctx, &req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Close() }()

	raw, err := io.ReadAll(resp)
	if err != nil {
		return fmt.Errorf("failed to read reply: %w", err)
	}

	var rpcReply RPCReply
	if err := xml.Unmarshal(raw, &rpcReply); err != nil {
		return fmt.Errorf("failed to parse rpc-reply: %w", err)
	}
	rpcErrors := rpcReply.RPCErrors.Filter(SevError)
	if len(rpcErrors) > 0 {
		return rpcErrors
	}

	if reply != nil {
		if err := xml.Unmarshal(raw, reply); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// WriteRPCReply sends an <rpc-reply> for the given incoming message-id,
// preserving every attribute the originating <rpc> carried (not just
// message-id), per RFC 6241 §7.3. Intended for server-side sessions.
func (s *Session) WriteRPCReply(msgID string, attrs []xml.Attr, reply RPCReply) error {
	if s.Status() == StatusInvalid {
		return ErrInvalidState
	}

	reply.MessageID = msgID
	reply.Attributes = mergeAttrs(attrs, reply.Attributes)

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	w, err := s.tr.MsgWriter()
	if err != nil {
		return fmt.Errorf("failed to get reply writer: %w", err)
	}
	if err := xml.NewEncoder(w).Encode(&reply); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to encode rpc-reply: %w", err)
	}
	return w.Close()
}

// WriteNotification sends a <notification> carrying the given event body.
func (s *Session) WriteNotification(n Notification) error {
	if s.Status() == StatusInvalid {
		return ErrInvalidState
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	w, err := s.tr.MsgWriter()
	if err != nil {
		return fmt.Errorf("failed to get notification writer: %w", err)
	}
	if err := xml.NewEncoder(w).Encode(&n); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	return w.Close()
}

func mergeAttrs(incoming, extra []xml.Attr) []xml.Attr {
	out := make([]xml.Attr, 0, len(incoming)+len(extra))
	seen := make(map[xml.Name]struct{}, len(incoming))
	for _, a := range incoming {
		if a.Name.Local == "message-id" {
			continue
		}
		out = append(out, a)
		seen[a.Name] = struct{}{}
	}
	for _, a := range extra {
		if _, ok := seen[a.Name]; ok {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Close will gracefully close the sessions first by sending a `close-session`
// operation to the remote and then closing the underlying transport
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.setStatus(StatusClosing)

	type closeSession struct {
		XMLName xml.Name `xml:"close-session"`
	}

	req := NewRequest(&closeSession{})
	resp, _ := s.Do(ctx, req)
	if resp != nil {
		_ = resp.Close()
	}

	var closeErr error
	if err := s.tr.Close(); err != nil &&
		!errors.Is(err, net.ErrClosed) &&
		!errors.Is(err, io.EOF) &&
		!errors.Is(err, syscall.EPIPE) {
		closeErr = err
	}

	s.invalidate(TermClosed)
	return closeErr
}
