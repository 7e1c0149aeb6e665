package talker

import (
	"net"
	"time"

	"github.com/opd-ai/reflector/session"
	"github.com/opd-ai/reflector/transport"
)

// MockTimeProvider is a test implementation of TimeProvider for deterministic testing.
type MockTimeProvider struct {
	currentTime time.Time
}

func (m *MockTimeProvider) Now() time.Time {
	return m.currentTime
}

func (m *MockTimeProvider) NewTicker(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}

// Advance advances the mock time by the specified duration.
func (m *MockTimeProvider) Advance(d time.Duration) {
	m.currentTime = m.currentTime.Add(d)
}

type sentUnreliable struct {
	typ     transport.UDPMsgType
	payload []byte
}

// fakeSession records everything sent to it.
type fakeSession struct {
	*session.Base
	reliable   []transport.Message
	unreliable []sentUnreliable
}

func (f *fakeSession) SendReliable(msg transport.Message) error {
	f.reliable = append(f.reliable, msg)
	return nil
}

func (f *fakeSession) SendUnreliable(typ transport.UDPMsgType, payload []byte) error {
	f.unreliable = append(f.unreliable, sentUnreliable{typ: typ, payload: payload})
	return nil
}

func (f *fakeSession) Reject(string) {}

func (f *fakeSession) Close() error { return nil }

func (f *fakeSession) reset() {
	f.reliable = nil
	f.unreliable = nil
}

func (f *fakeSession) unreliableTypes() []transport.UDPMsgType {
	var types []transport.UDPMsgType
	for _, u := range f.unreliable {
		types = append(types, u.typ)
	}
	return types
}

type fixture struct {
	registry *session.Registry
	arbiter  *Arbiter
	clock    *MockTimeProvider
	conns    map[*fakeSession]net.Conn
}

// newFixture registers one authenticated session per callsign.
func newFixture(cfg Config, callsigns ...string) (*fixture, []*fakeSession) {
	var built []*fakeSession
	reg := session.NewRegistry(func(id uint32, conn net.Conn) session.Session {
		s := &fakeSession{Base: session.NewBase(id, net.IPv4(127, 0, 0, 1), nil)}
		built = append(built, s)
		return s
	})

	f := &fixture{
		registry: reg,
		clock:    &MockTimeProvider{currentTime: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
		conns:    make(map[*fakeSession]net.Conn),
	}
	for i, cs := range callsigns {
		a, b := net.Pipe()
		b.Close()
		reg.Register(a)
		built[i].SetCallsign(cs)
		f.conns[built[i]] = a
	}

	f.arbiter = NewArbiter(cfg, reg)
	f.arbiter.SetTimeProvider(f.clock)
	return f, built
}

// remove mirrors the reflector disconnect order: release first, then unregister.
func (f *fixture) remove(s *fakeSession) {
	f.arbiter.SessionRemoved(s)
	_, _ = f.registry.Remove(f.conns[s])
}
