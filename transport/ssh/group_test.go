package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// startMultiChannelServer accepts one TCP connection and services every
// "session" channel requested on it, unlike testServer in ssh_test.go
// which tears down after the first. Group multiplexes more than one
// NETCONF channel on a single client, so the test server needs to keep
// accepting channels.
func startMultiChannelServer(t *testing.T) (addr string, wait func()) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{NoClientAuth: true}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, chans, reqs, err := ssh.NewServerConn(conn, config)
		if err != nil {
			return
		}
		go ssh.DiscardRequests(reqs)

		var wg sync.WaitGroup
		for newChannel := range chans {
			if newChannel.ChannelType() != "session" {
				_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
				continue
			}
			ch, reqs, err := newChannel.Accept()
			if err != nil {
				return
			}
			go func(in <-chan *ssh.Request) {
				for req := range in {
					if req.Type == "subsystem" {
						_ = req.Reply(true, nil)
					}
				}
			}(reqs)

			wg.Add(1)
			go func(ch ssh.Channel) {
				defer wg.Done()
				defer func() { _ = ch.Close() }()
				_, _ = io.Copy(ch, ch)
			}(ch)
		}
		wg.Wait()
	}()

	return ln.Addr().String(), func() { <-done }
}

func TestGroup_SharesClientAcrossSiblings(t *testing.T) {
	addr, wait := startMultiChannelServer(t)

	config := &ssh.ClientConfig{HostKeyCallback: ssh.InsecureIgnoreHostKey()}
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	require.NoError(t, err)
	client := ssh.NewClient(sshConn, chans, reqs)

	g := NewGroup(client)

	t1, err := g.NewSiblingTransport()
	require.NoError(t, err)
	t2, err := g.NewSiblingTransport()
	require.NoError(t, err)

	assert.Same(t, t1.c, t2.c, "siblings must share the same *ssh.Client")

	require.NoError(t, t1.Close())

	// The shared client must still be usable through the surviving
	// sibling: closing one sibling must not tear down the others.
	w, err := t2.MsgWriter()
	require.NoError(t, err)
	_, err = io.WriteString(w, "still alive")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.NoError(t, t2.Close())

	_, err = client.NewSession()
	assert.Error(t, err, "closing the last sibling must close the shared client")

	wait()
}

func TestGroup_LockUnlockShared(t *testing.T) {
	g := NewGroup(nil)
	g.Lock()
	g.Unlock()
}
