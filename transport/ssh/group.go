package ssh

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Group is a reference-counted holder of one *ssh.Client shared by every
// NETCONF Transport multiplexed on it. It realizes §3's "Ssh{channel,
// session, next: weak ref}" sibling ring: rather than a cyclic linked
// list of sessions (which the Design Notes rule out — "never implement
// raw cyclic ownership"), siblings hold a reference to this shared Group
// and the Group tracks how many siblings are still using the underlying
// client.
//
// Group also hands out the mutex sibling sessions share per §5 ("this
// mutex may be shared between sibling sessions multiplexed on the same
// SSH transport... because libssh's thread-safety is session-level").
// Transport itself never touches Lock/Unlock; they're exposed for a
// caller's higher-level session type to adopt as its own ti_lock when
// running more than one NETCONF session over a single SSH connection.
type Group struct {
	client *ssh.Client

	mu sync.Mutex

	refMu sync.Mutex
	refs  int
}

// NewGroup wraps an already-connected *ssh.Client as a sibling group.
// The client is closed once every Transport produced by
// NewSiblingTransport has been closed.
func NewGroup(client *ssh.Client) *Group {
	return &Group{client: client}
}

// Lock/Unlock expose the mutex shared across every sibling session using
// this group's client, per §5's shared-ti_lock design note.
func (g *Group) Lock()   { g.mu.Lock() }
func (g *Group) Unlock() { g.mu.Unlock() }

func (g *Group) acquire() {
	g.refMu.Lock()
	g.refs++
	g.refMu.Unlock()
}

// release drops this sibling's reference, closing the underlying client
// once the last one is gone.
func (g *Group) release() error {
	g.refMu.Lock()
	g.refs--
	remaining := g.refs
	g.refMu.Unlock()

	if remaining > 0 {
		return nil
	}
	return g.client.Close()
}

// NewSiblingTransport opens a new "netconf" subsystem channel on the
// group's shared client and returns a Transport multiplexed alongside any
// other siblings already using this group. The returned Transport's
// Close releases this sibling's reference rather than closing the shared
// client outright.
func (g *Group) NewSiblingTransport() (*Transport, error) {
	g.acquire()
	t, err := newTransport(g.client, false)
	if err != nil {
		_ = g.release()
		return nil, fmt.Errorf("ssh: failed to create sibling transport: %w", err)
	}
	t.group = g
	return t, nil
}
