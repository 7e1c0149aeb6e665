package reflector

import (
	"net"

	"github.com/opd-ai/reflector/session"
)

// event is anything the loop goroutine handles. Producers never touch
// reflector state directly.
type event interface {
	eventName() string
}

type connectedEvent struct {
	conn net.Conn
}

type disconnectedEvent struct {
	conn net.Conn
	err  error
}

type authenticatedEvent struct {
	session  session.Session
	callsign string
}

type datagramEvent struct {
	data []byte
	addr *net.UDPAddr
}

func (connectedEvent) eventName() string     { return "connected" }
func (disconnectedEvent) eventName() string  { return "disconnected" }
func (authenticatedEvent) eventName() string { return "authenticated" }
func (datagramEvent) eventName() string      { return "datagram" }

// post hands ev to the loop. It blocks while the queue is full and fails
// once the loop has stopped.
func (r *Reflector) post(ev event) error {
	select {
	case <-r.done:
		return ErrNotRunning
	default:
	}

	select {
	case r.events <- ev:
		return nil
	case <-r.done:
		return ErrNotRunning
	}
}
