package transport

import (
	"context"
	"net"
)

// DatagramSender writes envelopes on the unreliable channel.
// This abstraction lets sessions be tested without a bound socket.
type DatagramSender interface {
	// Send sends a datagram to the specified address.
	Send(d *Datagram, addr *net.UDPAddr) error
}

// DatagramSource delivers inbound datagrams to a handler until ctx is done.
type DatagramSource interface {
	Serve(ctx context.Context, handler DatagramHandler) error
}

var (
	_ DatagramSender = (*UDPTransport)(nil)
	_ DatagramSource = (*UDPTransport)(nil)
)
