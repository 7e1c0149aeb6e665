package session

import (
	"errors"
	"maps"
	"net"
	"slices"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/reflector/transport"
)

// Factory builds the concrete session for a newly accepted connection.
type Factory func(id uint32, conn net.Conn) Session

// BroadcastResult reports fan-out delivery to the caller.
type BroadcastResult struct {
	Sent   int
	Failed []Session
}

// Registry owns every live session and indexes it by logical client id and
// by reliable connection. Both indices always hold the same set of sessions.
//
// Registry is not safe for concurrent use; it belongs to the reflector loop.
type Registry struct {
	byID    map[uint32]Session
	byConn  map[net.Conn]Session
	connOf  map[uint32]net.Conn
	nextID  uint32
	factory Factory
}

// NewRegistry creates an empty registry that builds sessions with factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		byID:    make(map[uint32]Session),
		byConn:  make(map[net.Conn]Session),
		connOf:  make(map[uint32]net.Conn),
		nextID:  1,
		factory: factory,
	}
}

// Register creates and indexes a session for conn. It never fails.
func (r *Registry) Register(conn net.Conn) Session {
	id := r.allocateID()
	s := r.factory(id, conn)

	r.byID[id] = s
	r.byConn[conn] = s
	r.connOf[id] = conn

	logrus.WithFields(logrus.Fields{
		"function":    "Registry.Register",
		"client_id":   id,
		"remote_addr": conn.RemoteAddr().String(),
		"sessions":    len(r.byID),
	}).Debug("Session registered")

	return s
}

// allocateID returns the next free id. Zero is never handed out.
func (r *Registry) allocateID() uint32 {
	for {
		id := r.nextID
		r.nextID++
		if id == 0 {
			continue
		}
		if _, used := r.byID[id]; !used {
			return id
		}
	}
}

func (r *Registry) LookupByID(id uint32) (Session, bool) {
	s, ok := r.byID[id]
	return s, ok
}

func (r *Registry) LookupByConn(conn net.Conn) (Session, bool) {
	s, ok := r.byConn[conn]
	return s, ok
}

// LookupByCallsign finds the authenticated session using callsign.
func (r *Registry) LookupByCallsign(callsign string) (Session, bool) {
	if callsign == "" {
		return nil, false
	}
	for _, s := range r.byID {
		if s.Callsign() == callsign {
			return s, true
		}
	}
	return nil, false
}

// Remove drops the session for conn from both indices.
func (r *Registry) Remove(conn net.Conn) (Session, error) {
	s, ok := r.byConn[conn]
	if !ok {
		return nil, ErrSessionNotFound
	}

	delete(r.byConn, conn)
	delete(r.byID, s.ID())
	delete(r.connOf, s.ID())

	logrus.WithFields(logrus.Fields{
		"function":  "Registry.Remove",
		"client_id": s.ID(),
		"callsign":  s.Callsign(),
		"sessions":  len(r.byID),
	}).Debug("Session removed")

	return s, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return len(r.byID)
}

// Each calls fn for every live session in ascending id order.
func (r *Registry) Each(fn func(Session)) {
	for _, id := range slices.Sorted(maps.Keys(r.byID)) {
		fn(r.byID[id])
	}
}

// eachUnordered visits live sessions in map order without allocating. Used on
// the per-frame fan-out path.
func (r *Registry) eachUnordered(fn func(Session)) {
	for _, s := range r.byID {
		fn(s)
	}
}

// NodeList returns the sorted callsigns of all authenticated sessions.
func (r *Registry) NodeList() []string {
	nodes := make([]string, 0, len(r.byID))
	for _, s := range r.byID {
		if cs := s.Callsign(); cs != "" {
			nodes = append(nodes, cs)
		}
	}
	sort.Strings(nodes)
	return nodes
}

// BroadcastExcept queues msg to every authenticated session other than
// except, which may be nil. Failures are logged and reported, never returned.
func (r *Registry) BroadcastExcept(except Session, msg transport.Message) BroadcastResult {
	var result BroadcastResult
	r.eachUnordered(func(s Session) {
		if s == except || !s.Authenticated() {
			return
		}
		if err := s.SendReliable(msg); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Registry.BroadcastExcept",
				"client_id": s.ID(),
				"callsign":  s.Callsign(),
				"msg_type":  msg.Type().String(),
				"error":     err.Error(),
			}).Warn("Reliable send failed")
			result.Failed = append(result.Failed, s)
			return
		}
		result.Sent++
	})
	return result
}

// BroadcastUnreliableExcept sends one datagram to every authenticated session
// other than except. Sessions whose UDP port is not learned yet are skipped.
func (r *Registry) BroadcastUnreliableExcept(except Session, typ transport.UDPMsgType, payload []byte) BroadcastResult {
	var result BroadcastResult
	r.eachUnordered(func(s Session) {
		if s == except || !s.Authenticated() {
			return
		}
		err := s.SendUnreliable(typ, payload)
		switch {
		case err == nil:
			result.Sent++
		case errors.Is(err, ErrEndpointUnknown):
		default:
			logrus.WithFields(logrus.Fields{
				"function":  "Registry.BroadcastUnreliableExcept",
				"client_id": s.ID(),
				"callsign":  s.Callsign(),
				"msg_type":  typ.String(),
				"error":     err.Error(),
			}).Debug("Unreliable send failed")
			result.Failed = append(result.Failed, s)
		}
	})
	return result
}

// CheckInvariants reports an error when the two indices disagree.
func (r *Registry) CheckInvariants() error {
	if len(r.byID) != len(r.byConn) || len(r.byID) != len(r.connOf) {
		return ErrIndexMismatch
	}
	for conn, s := range r.byConn {
		if r.byID[s.ID()] != s || r.connOf[s.ID()] != conn {
			return ErrIndexMismatch
		}
	}
	return nil
}
