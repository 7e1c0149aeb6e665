package session

import (
	"errors"
	"net"
	"sync"

	"github.com/opd-ai/reflector/transport"
)

// MockSender records datagrams instead of writing them to a socket.
type MockSender struct {
	mu      sync.Mutex
	sent    []sentDatagram
	sendErr error
}

type sentDatagram struct {
	d    *transport.Datagram
	addr *net.UDPAddr
}

func (m *MockSender) Send(d *transport.Datagram, addr *net.UDPAddr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentDatagram{d: d, addr: addr})
	return nil
}

func (m *MockSender) Sent() []sentDatagram {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentDatagram(nil), m.sent...)
}

// mockSession is a Session recording reliable traffic.
type mockSession struct {
	*Base
	reliable []transport.Message
	failSend bool
	rejected string
	closed   bool
}

func newMockSession(id uint32, sender transport.DatagramSender) *mockSession {
	return &mockSession{Base: NewBase(id, net.IPv4(127, 0, 0, 1), sender)}
}

func (m *mockSession) SendReliable(msg transport.Message) error {
	if m.failSend {
		return errors.New("queue full")
	}
	m.reliable = append(m.reliable, msg)
	return nil
}

func (m *mockSession) Reject(reason string) {
	m.rejected = reason
	m.closed = true
}

func (m *mockSession) Close() error {
	m.closed = true
	return nil
}

// mockFactory returns a Factory that records the sessions it builds.
func mockFactory(sender transport.DatagramSender, built *[]*mockSession) Factory {
	return func(id uint32, conn net.Conn) Session {
		s := newMockSession(id, sender)
		*built = append(*built, s)
		return s
	}
}

// pipeConn returns one end of an in-memory connection; the other end is closed.
func pipeConn() net.Conn {
	a, b := net.Pipe()
	b.Close()
	return a
}
