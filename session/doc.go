// Package session holds per-node state for the reflector: the Session
// contract, the embeddable Base implementation, inbound sequence tracking and
// the Registry that owns every live session.
//
// # Sequence Tracking
//
// Sequence numbers are 16-bit and wrap. Classify computes the forward
// distance seq - expected with unsigned wraparound and splits the space in
// half:
//
//	diff == 0            in order
//	0 < diff <= 0x7fff   diff frames lost, frame accepted
//	diff > 0x7fff        stale, frame rejected
//
// Only accepted frames advance the expected number, so a replayed or late
// datagram can never move a session backwards.
//
// # Registry
//
// The Registry indexes sessions by logical client id (used by the datagram
// demultiplexer) and by reliable connection (used on disconnect). Ids start
// at 1, skip 0 and skip ids still in use after a wrap. Fan-out helpers only
// address authenticated sessions and never return per-peer errors:
//
//	reg := session.NewRegistry(factory)
//	s := reg.Register(conn)
//	reg.BroadcastExcept(s, &transport.NodeJoined{Callsign: s.Callsign()})
//
// The Registry is owned by a single goroutine and performs no locking.
package session
