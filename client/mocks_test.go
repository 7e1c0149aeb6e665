package client

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/reflector/transport"
)

// MockSender records datagrams instead of writing them to a socket.
type MockSender struct {
	mu   sync.Mutex
	sent []*transport.Datagram
}

func (m *MockSender) Send(d *transport.Datagram, _ *net.UDPAddr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, d)
	return nil
}

func (m *MockSender) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// serverHarness runs a Session over an in-memory connection.
type serverHarness struct {
	session *Session
	node    net.Conn
	sender  *MockSender
	authed  chan string
	closed  chan error
}

func newServerHarness(t *testing.T, cfg Config) *serverHarness {
	t.Helper()

	serverConn, nodeConn := net.Pipe()
	h := &serverHarness{
		node:   nodeConn,
		sender: &MockSender{},
		authed: make(chan string, 1),
		closed: make(chan error, 1),
	}
	h.session = New(1, serverConn, h.sender, cfg, Hooks{
		Authenticated: func(_ *Session, callsign string) { h.authed <- callsign },
		Disconnected:  func(_ net.Conn, err error) { h.closed <- err },
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.session.Start(ctx)

	t.Cleanup(func() {
		cancel()
		nodeConn.Close()
	})
	return h
}

// read returns the next non-heartbeat message written by the session.
func (h *serverHarness) read(t *testing.T) transport.Message {
	t.Helper()
	_ = h.node.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		msg, err := transport.ReadMessage(h.node)
		require.NoError(t, err)
		if _, ok := msg.(*transport.Heartbeat); !ok {
			return msg
		}
	}
}

func (h *serverHarness) write(t *testing.T, msg transport.Message) {
	t.Helper()
	_ = h.node.SetWriteDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, transport.WriteMessage(h.node, msg))
}

// authenticate runs the node side of the handshake up to the Authenticated hook.
func (h *serverHarness) authenticate(t *testing.T, callsign, key string) {
	t.Helper()
	h.write(t, &transport.ProtoVer{Major: transport.ProtoMajor, Minor: transport.ProtoMinor})
	challenge, ok := h.read(t).(*transport.AuthChallenge)
	require.True(t, ok)
	h.write(t, &transport.AuthResponse{Callsign: callsign, Digest: Digest(key, challenge.Challenge)})
}

func (h *serverHarness) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-h.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not report disconnect")
	}
}
