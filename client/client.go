package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/reflector/limits"
	"github.com/opd-ai/reflector/session"
	"github.com/opd-ai/reflector/transport"
)

// Config holds per-connection timing and queue settings.
type Config struct {
	// AuthKey is the shared secret nodes prove knowledge of.
	AuthKey string

	// HeartbeatInterval is how often a reliable Heartbeat is sent.
	HeartbeatInterval time.Duration

	// ReliableTimeout closes the connection when nothing was received for this long.
	ReliableTimeout time.Duration

	// UDPHeartbeatInterval is how often an unreliable Heartbeat is sent once the UDP port is known.
	UDPHeartbeatInterval time.Duration

	// UDPTimeout closes the session when no datagram arrived for this long
	// after the UDP port was learned.
	UDPTimeout time.Duration

	// SendQueueSize bounds the reliable queue. Overflow closes the connection.
	SendQueueSize int
}

// DefaultConfig returns the protocol timing defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    10 * time.Second,
		ReliableTimeout:      15 * time.Second,
		UDPHeartbeatInterval: 15 * time.Second,
		UDPTimeout:           60 * time.Second,
		SendQueueSize:        256,
	}
}

// Hooks connect a Session to its owner. Both are called from the session's
// reader goroutine and must not block for long.
type Hooks struct {
	// Authenticated is called once the node proved the shared secret. The
	// owner decides whether to accept the callsign (SetCallsign) or Reject it.
	Authenticated func(s *Session, callsign string)

	// Disconnected is called exactly once when the reliable connection ends.
	Disconnected func(conn net.Conn, err error)
}

type handshakeState int32

const (
	stateExpectProtoVer handshakeState = iota
	stateExpectAuthResponse
	stateAuthPending
	stateRejected
)

// Session is a node connected over TCP. It satisfies session.Session.
type Session struct {
	*session.Base

	conn  net.Conn
	cfg   Config
	hooks Hooks

	state     atomic.Int32
	challenge []byte

	sendq     chan []byte
	closing   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

var _ session.Session = (*Session)(nil)

// closeMarker in the send queue makes the writer close the connection once
// everything queued before it has been written.
var closeMarker []byte

// New wraps an accepted connection. Call Start to begin serving it.
func New(id uint32, conn net.Conn, udp transport.DatagramSender, cfg Config, hooks Hooks) *Session {
	defaults := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.ReliableTimeout <= 0 {
		cfg.ReliableTimeout = defaults.ReliableTimeout
	}
	if cfg.UDPHeartbeatInterval <= 0 {
		cfg.UDPHeartbeatInterval = defaults.UDPHeartbeatInterval
	}
	if cfg.UDPTimeout <= 0 {
		cfg.UDPTimeout = defaults.UDPTimeout
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaults.SendQueueSize
	}

	return &Session{
		Base:    session.NewBase(id, remoteIP(conn), udp),
		conn:    conn,
		cfg:     cfg,
		hooks:   hooks,
		sendq:   make(chan []byte, cfg.SendQueueSize),
		closing: make(chan struct{}),
	}
}

func remoteIP(conn net.Conn) net.IP {
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP
	}
	return nil
}

// Start launches the reader, writer and heartbeat goroutines. They stop when
// the connection closes or ctx is cancelled.
func (s *Session) Start(ctx context.Context) {
	go s.readLoop()
	go s.writeLoop()
	go s.heartbeatLoop(ctx)
}

// Conn returns the underlying reliable connection.
func (s *Session) Conn() net.Conn {
	return s.conn
}

// SendReliable queues msg without blocking. Messages of the node protocol
// proper are not delivered before authentication and are silently skipped.
func (s *Session) SendReliable(msg transport.Message) error {
	if msg.Type() >= transport.MsgTypeServerInfo && !s.Authenticated() {
		return nil
	}
	return s.enqueue(msg)
}

func (s *Session) enqueue(msg transport.Message) error {
	if s.closed.Load() {
		return session.ErrSessionClosed
	}

	data, err := transport.EncodeMessage(msg)
	if err != nil {
		return err
	}

	select {
	case s.sendq <- data:
		return nil
	default:
		logrus.WithFields(logrus.Fields{
			"function":   "Session.enqueue",
			"client_id":  s.ID(),
			"callsign":   s.Callsign(),
			"msg_type":   msg.Type().String(),
			"queue_size": s.cfg.SendQueueSize,
		}).Warn("Reliable send queue overflow, disconnecting")
		_ = s.Close()
		return session.ErrSendQueueFull
	}
}

// Reject sends Error(reason) and closes the connection once it was written.
func (s *Session) Reject(reason string) {
	logrus.WithFields(logrus.Fields{
		"function":    "Session.Reject",
		"client_id":   s.ID(),
		"remote_addr": s.conn.RemoteAddr().String(),
		"reason":      reason,
	}).Warn("Rejecting node")
	s.state.Store(int32(stateRejected))

	if err := s.enqueue(&transport.Error{Message: reason}); err != nil {
		_ = s.Close()
		return
	}
	select {
	case s.sendq <- closeMarker:
	default:
		_ = s.Close()
	}
}

// Close tears the connection down. The reader goroutine reports the
// disconnect through Hooks.Disconnected.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closing)
		err = s.conn.Close()
	})
	return err
}

func (s *Session) readLoop() {
	var err error
	defer func() {
		_ = s.Close()
		if s.hooks.Disconnected != nil {
			s.hooks.Disconnected(s.conn, err)
		}
	}()

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReliableTimeout))

		var msg transport.Message
		msg, err = transport.ReadMessage(s.conn)
		if err != nil {
			if errors.Is(err, transport.ErrUnknownMessageType) || errors.Is(err, transport.ErrMalformedMessage) {
				logrus.WithFields(logrus.Fields{
					"function":  "Session.readLoop",
					"client_id": s.ID(),
					"callsign":  s.Callsign(),
					"error":     err.Error(),
				}).Warn("Dropping undecodable control message")
				err = nil
				continue
			}
			return
		}

		s.handleMessage(msg)
	}
}

func (s *Session) handleMessage(msg transport.Message) {
	if _, ok := msg.(*transport.Heartbeat); ok {
		return
	}

	switch handshakeState(s.state.Load()) {
	case stateExpectProtoVer:
		s.handleProtoVer(msg)
	case stateExpectAuthResponse:
		s.handleAuthResponse(msg)
	case stateRejected:
	default:
		// Nodes only send heartbeats once the handshake is done.
		logrus.WithFields(logrus.Fields{
			"function":  "Session.handleMessage",
			"client_id": s.ID(),
			"callsign":  s.Callsign(),
			"msg_type":  msg.Type().String(),
		}).Warn("Unexpected control message after handshake")
		s.Reject(ReasonProtocolError)
	}
}

func (s *Session) handleProtoVer(msg transport.Message) {
	pv, ok := msg.(*transport.ProtoVer)
	if !ok {
		s.Reject(ReasonProtocolError)
		return
	}
	if pv.Major != transport.ProtoMajor {
		logrus.WithFields(logrus.Fields{
			"function":  "Session.handleProtoVer",
			"client_id": s.ID(),
			"major":     pv.Major,
			"minor":     pv.Minor,
		}).Warn("Unsupported protocol version")
		s.Reject(ReasonUnsupportedVersion)
		return
	}

	challenge, err := NewChallenge()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Session.handleProtoVer",
			"client_id": s.ID(),
			"error":     err.Error(),
		}).Error("Failed to generate challenge")
		_ = s.Close()
		return
	}

	s.challenge = challenge
	s.state.Store(int32(stateExpectAuthResponse))
	_ = s.enqueue(&transport.AuthChallenge{Challenge: challenge})
}

func (s *Session) handleAuthResponse(msg transport.Message) {
	resp, ok := msg.(*transport.AuthResponse)
	if !ok {
		s.Reject(ReasonProtocolError)
		return
	}
	if err := limits.ValidateCallsign(resp.Callsign); err != nil || !Verify(s.cfg.AuthKey, s.challenge, resp.Digest) {
		logrus.WithFields(logrus.Fields{
			"function":  "Session.handleAuthResponse",
			"client_id": s.ID(),
			"callsign":  resp.Callsign,
		}).Warn("Authentication failed")
		s.Reject(ReasonAccessDenied)
		return
	}

	s.state.Store(int32(stateAuthPending))
	s.challenge = nil
	if s.hooks.Authenticated != nil {
		s.hooks.Authenticated(s, resp.Callsign)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.closing:
			return
		case data := <-s.sendq:
			if data == nil { // closeMarker
				_ = s.Close()
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.ReliableTimeout))
			if err := transport.WriteFrame(s.conn, data); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":  "Session.writeLoop",
					"client_id": s.ID(),
					"callsign":  s.Callsign(),
					"error":     err.Error(),
				}).Debug("Reliable write failed")
				_ = s.Close()
				return
			}
		}
	}
}

func (s *Session) heartbeatLoop(ctx context.Context) {
	reliable := time.NewTicker(s.cfg.HeartbeatInterval)
	defer reliable.Stop()
	unreliable := time.NewTicker(s.cfg.UDPHeartbeatInterval)
	defer unreliable.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-s.closing:
			return
		case <-reliable.C:
			_ = s.enqueue(&transport.Heartbeat{})
		case <-unreliable.C:
			s.checkUnreliablePath()
		}
	}
}

// checkUnreliablePath sends a UDP heartbeat and closes the session when the
// learned UDP path has gone silent.
func (s *Session) checkUnreliablePath() {
	if _, port := s.RemoteEndpoint(); port == 0 {
		return
	}

	if last := s.LastUnreliableRx(); !last.IsZero() && time.Since(last) > s.cfg.UDPTimeout {
		logrus.WithFields(logrus.Fields{
			"function":  "Session.checkUnreliablePath",
			"client_id": s.ID(),
			"callsign":  s.Callsign(),
			"silence":   time.Since(last).String(),
		}).Warn("UDP heartbeat timeout, disconnecting")
		_ = s.Close()
		return
	}

	_ = s.SendUnreliable(transport.UDPHeartbeat, nil)
}
