package reflector

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/reflector/metrics"
	"github.com/opd-ai/reflector/session"
	"github.com/opd-ai/reflector/transport"
)

const testAuthKey = "test shared key"

// MockTimeProvider is a test implementation of talker.TimeProvider for deterministic testing.
type MockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
}

func (m *MockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *MockTimeProvider) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}

// Advance advances the mock time by the specified duration.
func (m *MockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

type sentDatagram struct {
	d    *transport.Datagram
	addr *net.UDPAddr
}

// MockSender records datagrams instead of writing them to a socket.
type MockSender struct {
	mu   sync.Mutex
	sent []sentDatagram
}

func (m *MockSender) Send(d *transport.Datagram, addr *net.UDPAddr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentDatagram{d: d, addr: addr})
	return nil
}

// to returns the types of datagrams sent to port, in order.
func (m *MockSender) to(port int) []transport.UDPMsgType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var types []transport.UDPMsgType
	for _, s := range m.sent {
		if s.addr.Port == port {
			types = append(types, s.d.Type)
		}
	}
	return types
}

func (m *MockSender) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// fakeSession uses the real datagram path of session.Base and records the
// reliable side.
type fakeSession struct {
	*session.Base
	conn     net.Conn
	udpPort  int
	reliable []transport.Message
	rejected string
	closed   bool
}

func (f *fakeSession) SendReliable(msg transport.Message) error {
	if f.closed {
		return session.ErrSessionClosed
	}
	f.reliable = append(f.reliable, msg)
	return nil
}

func (f *fakeSession) Reject(reason string) {
	f.rejected = reason
	f.closed = true
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

// received returns the recorded reliable messages and clears them.
func (f *fakeSession) received() []transport.Message {
	msgs := f.reliable
	f.reliable = nil
	return msgs
}

type harness struct {
	r       *Reflector
	sender  *MockSender
	clock   *MockTimeProvider
	metrics *metrics.Metrics
	built   []*fakeSession
}

func newHarness(t *testing.T, mutate func(o *Options)) *harness {
	t.Helper()

	h := &harness{
		sender:  &MockSender{},
		clock:   &MockTimeProvider{currentTime: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
		metrics: metrics.New(prometheus.NewRegistry()),
	}

	options := NewOptions()
	options.AuthKey = testAuthKey
	options.TimeProvider = h.clock
	options.Metrics = h.metrics
	if mutate != nil {
		mutate(options)
	}
	require.NoError(t, options.Validate())

	h.r = newReflector(options, h.sender, func(id uint32, conn net.Conn) session.Session {
		s := &fakeSession{
			Base:    session.NewBase(id, net.IPv4(127, 0, 0, 1), h.sender),
			conn:    conn,
			udpPort: 40000 + int(id),
		}
		h.built = append(h.built, s)
		return s
	})
	return h
}

// connect registers a new unauthenticated session.
func (h *harness) connect(t *testing.T) *fakeSession {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	h.r.handle(connectedEvent{conn: a})
	return h.built[len(h.built)-1]
}

// join connects and authenticates a session as callsign.
func (h *harness) join(t *testing.T, callsign string) *fakeSession {
	t.Helper()
	s := h.connect(t)
	h.r.handle(authenticatedEvent{session: s, callsign: callsign})
	return s
}

// joinWithUDP joins and sends the endpoint registration heartbeat.
func (h *harness) joinWithUDP(t *testing.T, callsign string) *fakeSession {
	t.Helper()
	s := h.join(t, callsign)
	h.datagram(t, s, transport.UDPHeartbeat, 0, nil)
	return s
}

func (h *harness) disconnect(s *fakeSession) {
	h.r.handle(disconnectedEvent{conn: s.conn})
}

// datagram delivers a datagram from s's own endpoint.
func (h *harness) datagram(t *testing.T, s *fakeSession, typ transport.UDPMsgType, seq uint16, payload []byte) {
	t.Helper()
	h.datagramFrom(t, s, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: s.udpPort}, typ, seq, payload)
}

func (h *harness) datagramFrom(t *testing.T, s *fakeSession, addr *net.UDPAddr, typ transport.UDPMsgType, seq uint16, payload []byte) {
	t.Helper()
	d := &transport.Datagram{Type: typ, ClientID: s.ID(), Seq: seq, Payload: payload}
	data, err := d.Serialize()
	require.NoError(t, err)
	h.r.handle(datagramEvent{data: data, addr: addr})
}

func (h *harness) tick() {
	h.r.handleTick()
}
