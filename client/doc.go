// Package client implements both ends of a node connection.
//
// Session is the reflector side: one TCP control connection plus the shared
// UDP socket, satisfying session.Session. Node is the link-node side used by
// the probe tool and by end-to-end tests.
//
// # Handshake
//
//	node                              reflector
//	ProtoVer{2, x}        ------->
//	                      <-------    AuthChallenge{20 random bytes}
//	AuthResponse{callsign,
//	  HMAC-BLAKE2b(key, challenge)}
//	                      ------->    Hooks.Authenticated
//	                      <-------    AuthOk, ServerInfo{client id, nodes}
//
// A wrong protocol major version, a failed digest, an invalid callsign or a
// message out of handshake order is answered with an Error message and the
// connection is closed. After authentication, unexpected or undecodable
// control messages are logged and dropped.
//
// # Liveness
//
// Each side sends a reliable Heartbeat every 10 seconds and closes the
// connection when nothing arrives for 15 seconds. Once the reflector has
// learned a node's UDP port it also sends an unreliable Heartbeat every 15
// seconds and closes the session when no datagram arrived for 60 seconds.
//
// # Backpressure
//
// Session.SendReliable never blocks: messages go to a bounded queue drained
// by a writer goroutine. A node that cannot keep up overflows the queue and
// is disconnected.
package client
