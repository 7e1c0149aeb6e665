package reflector

import (
	"context"
	"errors"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/reflector/client"
	"github.com/opd-ai/reflector/metrics"
	"github.com/opd-ai/reflector/session"
	"github.com/opd-ai/reflector/talker"
	"github.com/opd-ai/reflector/transport"
)

type starter interface {
	Start(ctx context.Context)
}

func (r *Reflector) handleConnected(conn net.Conn) {
	s := r.registry.Register(conn)
	r.metrics.ConnectionAccepted()
	r.statusDirty = true

	logrus.WithFields(logrus.Fields{
		"function":    "Reflector.handleConnected",
		"client_id":   s.ID(),
		"remote_addr": conn.RemoteAddr().String(),
	}).Info("Node connected")

	if st, ok := s.(starter); ok {
		st.Start(r.sessionContext())
	}
}

// handleAuthenticated admits a node that passed the challenge, unless its
// callsign is already connected.
func (r *Reflector) handleAuthenticated(s session.Session, callsign string) {
	if live, ok := r.registry.LookupByID(s.ID()); !ok || live != s {
		logrus.WithFields(logrus.Fields{
			"function":  "Reflector.handleAuthenticated",
			"client_id": s.ID(),
			"callsign":  callsign,
		}).Debug("Session gone before authentication completed")
		return
	}

	if other, ok := r.registry.LookupByCallsign(callsign); ok && other != s {
		logrus.WithFields(logrus.Fields{
			"function":     "Reflector.handleAuthenticated",
			"client_id":    s.ID(),
			"callsign":     callsign,
			"connected_id": other.ID(),
		}).Warn("Callsign already connected, rejecting")
		r.metrics.Rejected(client.ReasonAlreadyConnected)
		s.Reject(client.ReasonAlreadyConnected)
		return
	}

	others := r.registry.NodeList()
	s.SetCallsign(callsign)

	r.sendReliable(s, &transport.AuthOk{})
	r.sendReliable(s, &transport.ServerInfo{ClientID: s.ID(), Nodes: others})
	r.out.BroadcastExcept(s, &transport.NodeJoined{Callsign: callsign})
	if t := r.arbiter.Talker(); t != nil {
		r.sendReliable(s, &transport.TalkerStart{Callsign: t.Callsign()})
	}
	r.statusDirty = true

	logrus.WithFields(logrus.Fields{
		"function":  "Reflector.handleAuthenticated",
		"client_id": s.ID(),
		"callsign":  callsign,
		"nodes":     len(others) + 1,
	}).Info("Node joined")
}

// handleDisconnected releases the channel if the node held it, forgets the
// session and tells the others it left.
func (r *Reflector) handleDisconnected(conn net.Conn, cause error) {
	s, ok := r.registry.LookupByConn(conn)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":    "Reflector.handleDisconnected",
			"remote_addr": conn.RemoteAddr().String(),
		}).Debug("Disconnect for unknown connection")
		return
	}

	callsign := s.Callsign()
	r.arbiter.SessionRemoved(s)
	if _, err := r.registry.Remove(conn); err != nil {
		talker.CheckInvariant(false, "session %d found by connection but not removable: %v", s.ID(), err)
	}
	_ = s.Close()
	r.statusDirty = true

	fields := logrus.Fields{
		"function":  "Reflector.handleDisconnected",
		"client_id": s.ID(),
		"callsign":  callsign,
	}
	if cause != nil {
		fields["error"] = cause.Error()
	}

	if callsign == "" {
		logrus.WithFields(fields).Info("Unauthenticated node disconnected")
		return
	}
	r.out.BroadcastExcept(nil, &transport.NodeLeft{Callsign: callsign})
	logrus.WithFields(fields).Info("Node left")
}

// handleDatagram demultiplexes one datagram to its session and dispatches it.
func (r *Reflector) handleDatagram(data []byte, addr *net.UDPAddr) {
	d, err := transport.ParseDatagram(data)
	if err != nil {
		r.dropDatagram(metrics.DatagramMalformed, addr, logrus.Fields{"error": err.Error()})
		return
	}

	s, ok := r.registry.LookupByID(d.ClientID)
	if !ok {
		r.dropDatagram(metrics.DatagramUnknownClient, addr, logrus.Fields{"client_id": d.ClientID})
		return
	}
	if !s.Authenticated() {
		r.dropDatagram(metrics.DatagramUnauthenticated, addr, logrus.Fields{"client_id": d.ClientID})
		return
	}

	ip, port := s.RemoteEndpoint()
	if !ip.Equal(addr.IP) {
		r.dropDatagram(metrics.DatagramWrongAddress, addr, logrus.Fields{
			"callsign":   s.Callsign(),
			"session_ip": ip.String(),
		})
		return
	}
	if port == 0 {
		s.SetLearnedPort(uint16(addr.Port))
		logrus.WithFields(logrus.Fields{
			"function": "Reflector.handleDatagram",
			"callsign": s.Callsign(),
			"udp_addr": addr.String(),
		}).Info("UDP endpoint learned")
		if err := s.SendUnreliable(transport.UDPHeartbeat, nil); err != nil {
			r.metrics.SendFailed("unreliable", 1)
		}
		r.statusDirty = true
	} else if int(port) != addr.Port {
		r.dropDatagram(metrics.DatagramWrongAddress, addr, logrus.Fields{
			"callsign":     s.Callsign(),
			"learned_port": port,
		})
		return
	}

	expected := s.NextRxSeq()
	result, lost := s.CheckRxSeq(d.Seq)
	switch result {
	case session.SeqStale:
		r.dropDatagram(metrics.DatagramStale, addr, logrus.Fields{
			"callsign": s.Callsign(),
			"seq":      d.Seq,
			"expected": expected,
		})
		return
	case session.SeqLoss:
		r.metrics.Lost(lost)
		logrus.WithFields(logrus.Fields{
			"function": "Reflector.handleDatagram",
			"callsign": s.Callsign(),
			"seq":      d.Seq,
			"lost":     lost,
		}).Debug("Frames lost")
	}
	s.UnreliableReceived()
	r.metrics.Datagram(metrics.DatagramAccepted)

	r.dispatch(s, d)
}

func (r *Reflector) dispatch(s session.Session, d *transport.Datagram) {
	switch d.Type {
	case transport.UDPHeartbeat, transport.UDPAllSamplesFlushed:
	case transport.UDPAudio:
		outcome := r.arbiter.HandleAudio(s, d.Payload)
		r.metrics.Audio(outcome.String())
	case transport.UDPFlushSamples:
		r.arbiter.HandleFlush(s)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Reflector.dispatch",
			"callsign": s.Callsign(),
			"type":     d.Type.String(),
		}).Warn("Unknown datagram type")
	}
}

func (r *Reflector) dropDatagram(result string, addr *net.UDPAddr, fields logrus.Fields) {
	r.metrics.Datagram(result)

	fields["function"] = "Reflector.handleDatagram"
	fields["reason"] = result
	if addr != nil {
		fields["udp_addr"] = addr.String()
	}
	entry := logrus.WithFields(fields)
	if result == metrics.DatagramStale {
		entry.Debug("Dropping datagram")
		return
	}
	entry.Warn("Dropping datagram")
}

// handleTick runs the per-session countdowns, then the talker timeouts.
func (r *Reflector) handleTick() {
	r.registry.Each(func(s session.Session) {
		s.Tick()
	})
	r.arbiter.Tick()
	r.checkInvariants()
	r.refreshStatus()
}

func (r *Reflector) checkInvariants() {
	if err := r.registry.CheckInvariants(); err != nil {
		talker.CheckInvariant(false, "registry: %v", err)
	}
	if t := r.arbiter.Talker(); t != nil {
		live, ok := r.registry.LookupByID(t.ID())
		talker.CheckInvariant(ok && live == t, "talker %q is not a registered session", t.Callsign())
		talker.CheckInvariant(t.Authenticated(), "talker %d is not authenticated", t.ID())
	}
}

func (r *Reflector) sendReliable(s session.Session, msg transport.Message) {
	err := s.SendReliable(msg)
	if err == nil {
		return
	}
	r.metrics.SendFailed("reliable", 1)

	entry := logrus.WithFields(logrus.Fields{
		"function": "Reflector.sendReliable",
		"callsign": s.Callsign(),
		"type":     msg.Type().String(),
		"error":    err.Error(),
	})
	if errors.Is(err, session.ErrSessionClosed) {
		entry.Debug("Send to closed session")
		return
	}
	entry.Error("Reliable send failed")
}

func (r *Reflector) onTalkerStart(s session.Session) {
	r.metrics.TalkerStarted()
	r.statusDirty = true
}

func (r *Reflector) onTalkerStop(s session.Session, reason talker.ReleaseReason) {
	r.metrics.TalkerStopped(reason.String())
	r.statusDirty = true
}

// countingBroadcaster fans out through the registry and counts failed sends.
type countingBroadcaster struct {
	registry *session.Registry
	metrics  *metrics.Metrics
}

func (b *countingBroadcaster) BroadcastExcept(except session.Session, msg transport.Message) session.BroadcastResult {
	res := b.registry.BroadcastExcept(except, msg)
	b.metrics.SendFailed("reliable", len(res.Failed))
	return res
}

func (b *countingBroadcaster) BroadcastUnreliableExcept(except session.Session, typ transport.UDPMsgType, payload []byte) session.BroadcastResult {
	res := b.registry.BroadcastUnreliableExcept(except, typ, payload)
	b.metrics.SendFailed("unreliable", len(res.Failed))
	return res
}
