package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/reflector/limits"
	"github.com/opd-ai/reflector/session"
	"github.com/opd-ai/reflector/transport"
)

// defaultHandshakeTimeout bounds Dial when ctx carries no deadline.
const defaultHandshakeTimeout = 10 * time.Second

// NodeConfig describes the identity and timing of a node.
type NodeConfig struct {
	Callsign string
	AuthKey  string

	// HeartbeatInterval is used for both the reliable and unreliable
	// heartbeats. Zero selects the protocol default.
	HeartbeatInterval time.Duration

	// QueueSize bounds the Messages and Datagrams channels. Overflowing
	// entries are dropped.
	QueueSize int
}

// Node is the link-node side of the protocol: it dials a reflector,
// authenticates, registers its UDP endpoint and exchanges audio.
type Node struct {
	cfg      NodeConfig
	conn     net.Conn
	udp      *net.UDPConn
	clientID uint32
	nodes    []string

	writeMu sync.Mutex
	txMu    sync.Mutex
	txSeq   uint16
	rx      session.SequenceTracker

	messages  chan transport.Message
	datagrams chan *transport.Datagram

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Dial connects to the reflector at addr and completes the handshake. The
// UDP channel uses the same host and port as the control connection.
func Dial(ctx context.Context, addr string, cfg NodeConfig) (*Node, error) {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultHandshakeTimeout)
	}
	_ = conn.SetDeadline(deadline)

	info, err := handshake(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	raddr, err := net.ResolveUDPAddr("udp", conn.RemoteAddr().String())
	if err != nil {
		conn.Close()
		return nil, err
	}
	udp, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		conn.Close()
		return nil, err
	}

	nodeCtx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:       cfg,
		conn:      conn,
		udp:       udp,
		clientID:  info.ClientID,
		nodes:     info.Nodes,
		messages:  make(chan transport.Message, cfg.QueueSize),
		datagrams: make(chan *transport.Datagram, cfg.QueueSize),
		ctx:       nodeCtx,
		cancel:    cancel,
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Dial",
		"reflector": addr,
		"callsign":  cfg.Callsign,
		"client_id": info.ClientID,
		"nodes":     len(info.Nodes),
	}).Info("Connected to reflector")

	n.wg.Add(3)
	go n.readLoop()
	go n.udpLoop()
	go n.heartbeatLoop()

	// The first datagram teaches the reflector our UDP port.
	if err := n.sendDatagram(transport.UDPHeartbeat, nil); err != nil {
		n.Close()
		return nil, err
	}

	return n, nil
}

func handshake(conn net.Conn, cfg NodeConfig) (*transport.ServerInfo, error) {
	if err := transport.WriteMessage(conn, &transport.ProtoVer{Major: transport.ProtoMajor, Minor: transport.ProtoMinor}); err != nil {
		return nil, err
	}

	challenge, err := expect[*transport.AuthChallenge](conn)
	if err != nil {
		return nil, err
	}

	resp := &transport.AuthResponse{Callsign: cfg.Callsign, Digest: Digest(cfg.AuthKey, challenge.Challenge)}
	if err := transport.WriteMessage(conn, resp); err != nil {
		return nil, err
	}

	if _, err := expect[*transport.AuthOk](conn); err != nil {
		return nil, err
	}
	return expect[*transport.ServerInfo](conn)
}

// expect reads the next message that is not a heartbeat and checks its type.
func expect[T transport.Message](conn net.Conn) (T, error) {
	var zero T
	for {
		msg, err := transport.ReadMessage(conn)
		if err != nil {
			return zero, err
		}
		switch m := msg.(type) {
		case *transport.Heartbeat:
			continue
		case *transport.Error:
			return zero, fmt.Errorf("%w: %s", ErrRejected, m.Message)
		case T:
			return m, nil
		default:
			return zero, fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Type())
		}
	}
}

// ClientID returns the logical id assigned by the reflector.
func (n *Node) ClientID() uint32 {
	return n.clientID
}

// Nodes returns the callsigns that were connected when this node joined.
func (n *Node) Nodes() []string {
	return append([]string(nil), n.nodes...)
}

// Messages delivers reliable messages other than heartbeats. It is closed
// when the control connection ends.
func (n *Node) Messages() <-chan transport.Message {
	return n.messages
}

// Datagrams delivers accepted, in-sequence datagrams other than heartbeats.
func (n *Node) Datagrams() <-chan *transport.Datagram {
	return n.datagrams
}

// SendAudio sends one encoded audio frame.
func (n *Node) SendAudio(frame []byte) error {
	return n.sendDatagram(transport.UDPAudio, frame)
}

// SendFlush marks the end of a transmission.
func (n *Node) SendFlush() error {
	return n.sendDatagram(transport.UDPFlushSamples, nil)
}

func (n *Node) sendDatagram(typ transport.UDPMsgType, payload []byte) error {
	if n.ctx.Err() != nil {
		return ErrNodeClosed
	}

	n.txMu.Lock()
	d := &transport.Datagram{Type: typ, ClientID: n.clientID, Seq: n.txSeq, Payload: payload}
	n.txSeq++
	n.txMu.Unlock()

	data, err := d.Serialize()
	if err != nil {
		return err
	}
	_, err = n.udp.Write(data)
	return err
}

func (n *Node) sendReliable(msg transport.Message) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	return transport.WriteMessage(n.conn, msg)
}

// Close disconnects from the reflector and waits for the node goroutines.
func (n *Node) Close() error {
	n.cancel()
	err := n.conn.Close()
	_ = n.udp.Close()
	n.wg.Wait()
	return err
}

func (n *Node) readLoop() {
	defer n.wg.Done()
	defer close(n.messages)
	defer n.cancel()

	for {
		msg, err := transport.ReadMessage(n.conn)
		if err != nil {
			if errors.Is(err, transport.ErrUnknownMessageType) || errors.Is(err, transport.ErrMalformedMessage) {
				continue
			}
			if n.ctx.Err() == nil {
				logrus.WithFields(logrus.Fields{
					"function": "Node.readLoop",
					"callsign": n.cfg.Callsign,
					"error":    err.Error(),
				}).Info("Reflector connection closed")
			}
			return
		}
		if _, ok := msg.(*transport.Heartbeat); ok {
			continue
		}

		select {
		case n.messages <- msg:
		default:
			logrus.WithFields(logrus.Fields{
				"function": "Node.readLoop",
				"msg_type": msg.Type().String(),
			}).Warn("Message queue full, dropping")
		}
	}
}

func (n *Node) udpLoop() {
	defer n.wg.Done()
	defer close(n.datagrams)

	buffer := make([]byte, limits.MaxDatagramSize+1)
	for {
		size, err := n.udp.Read(buffer)
		if err != nil {
			if n.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			// ICMP port unreachable surfaces here on some platforms; keep reading.
			continue
		}

		d, err := transport.ParseDatagram(buffer[:size])
		if err != nil {
			continue
		}
		if result, _ := n.rx.Check(d.Seq); result == session.SeqStale {
			continue
		}
		if d.Type == transport.UDPHeartbeat {
			continue
		}

		select {
		case n.datagrams <- d:
		default:
		}
	}
}

func (n *Node) heartbeatLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if err := n.sendReliable(&transport.Heartbeat{}); err != nil {
				return
			}
			_ = n.sendDatagram(transport.UDPHeartbeat, nil)
		}
	}
}
