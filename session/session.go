package session

import (
	"net"
	"sync"
	"time"

	"github.com/opd-ai/reflector/transport"
)

// Session is one connected node as seen by the reflector.
//
// The reflector loop is the only caller of the mutating methods; the
// connection goroutines of an implementation may read state concurrently.
type Session interface {
	// ID returns the logical client id carried in every datagram envelope.
	ID() uint32

	// Callsign returns the node identity, empty until authentication completes.
	Callsign() string

	// SetCallsign marks the session authenticated as callsign.
	SetCallsign(callsign string)

	// Authenticated reports whether a callsign has been assigned.
	Authenticated() bool

	// RemoteEndpoint returns the remote host and the learned UDP port (0 if unknown).
	RemoteEndpoint() (net.IP, uint16)

	// SetLearnedPort records the UDP source port observed on the first valid datagram.
	SetLearnedPort(port uint16)

	NextRxSeq() uint16
	SetNextRxSeq(seq uint16)

	// CheckRxSeq classifies an inbound sequence number and advances the
	// expected one unless it is stale.
	CheckRxSeq(seq uint16) (SeqResult, uint16)

	// RxStats returns cumulative accepted, lost and stale datagram counts.
	RxStats() (received, lost, stale uint64)

	// SendReliable queues msg on the control connection without blocking.
	SendReliable(msg transport.Message) error

	// SendUnreliable sends one datagram stamped with this session's id and
	// next outbound sequence number.
	SendUnreliable(typ transport.UDPMsgType, payload []byte) error

	// SetBlocked blocks audio from this session for the given number of ticks.
	// Zero unblocks.
	SetBlocked(ticks uint)
	IsBlocked() bool

	// Tick advances per-session countdowns once per reflector tick.
	Tick()

	// UnreliableReceived stamps the arrival of an accepted datagram.
	UnreliableReceived()

	// Reject sends an Error with reason and closes the connection.
	Reject(reason string)

	// Close tears down the connection. The reflector learns about it through
	// the normal disconnect path.
	Close() error
}

// Base holds the transport independent state of a session. Concrete sessions
// embed it and add the reliable channel.
type Base struct {
	mu sync.Mutex

	id       uint32
	callsign string
	remoteIP net.IP
	udpPort  uint16

	rx    SequenceTracker
	txSeq uint16

	blockTicks uint
	lastRx     time.Time

	sender transport.DatagramSender
}

// NewBase creates session state for a node connecting from remoteIP.
func NewBase(id uint32, remoteIP net.IP, sender transport.DatagramSender) *Base {
	return &Base{
		id:       id,
		remoteIP: remoteIP,
		sender:   sender,
	}
}

func (b *Base) ID() uint32 {
	return b.id
}

func (b *Base) Callsign() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.callsign
}

func (b *Base) SetCallsign(callsign string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callsign = callsign
}

func (b *Base) Authenticated() bool {
	return b.Callsign() != ""
}

func (b *Base) RemoteEndpoint() (net.IP, uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remoteIP, b.udpPort
}

func (b *Base) SetLearnedPort(port uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.udpPort = port
}

func (b *Base) NextRxSeq() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rx.Expected()
}

func (b *Base) SetNextRxSeq(seq uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rx.SetExpected(seq)
}

func (b *Base) CheckRxSeq(seq uint16) (SeqResult, uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rx.Check(seq)
}

func (b *Base) RxStats() (received, lost, stale uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rx.Stats()
}

// SendUnreliable returns ErrEndpointUnknown until the UDP port is learned.
func (b *Base) SendUnreliable(typ transport.UDPMsgType, payload []byte) error {
	b.mu.Lock()
	if b.udpPort == 0 {
		b.mu.Unlock()
		return ErrEndpointUnknown
	}
	addr := &net.UDPAddr{IP: b.remoteIP, Port: int(b.udpPort)}
	d := &transport.Datagram{
		Type:     typ,
		ClientID: b.id,
		Seq:      b.txSeq,
		Payload:  payload,
	}
	b.txSeq++
	b.mu.Unlock()

	return b.sender.Send(d, addr)
}

func (b *Base) SetBlocked(ticks uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blockTicks = ticks
}

func (b *Base) IsBlocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockTicks > 0
}

// BlockRemaining returns the ticks left before the block expires.
func (b *Base) BlockRemaining() uint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockTicks
}

// Tick counts the block down by one.
func (b *Base) Tick() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.blockTicks > 0 {
		b.blockTicks--
	}
}

func (b *Base) UnreliableReceived() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastRx = time.Now()
}

// LastUnreliableRx returns when the last accepted datagram arrived.
// The zero time means none has arrived yet.
func (b *Base) LastUnreliableRx() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRx
}
