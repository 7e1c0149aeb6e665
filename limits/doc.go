// Package limits provides centralized size constants and validation functions
// for the reflector protocol. Every byte slice that arrives from the network is
// checked against one of these limits before it is parsed.
//
// # Size Hierarchy
//
//   - DatagramHeaderSize (8 bytes): the fixed unreliable channel envelope
//     (message type, logical client id, sequence number).
//
//   - MaxDatagramSize (1500 bytes): the largest datagram read from or written to
//     the audio socket. MaxAudioPayload is what remains after the header.
//
//   - MaxControlFrame (64 KiB): the largest length-prefixed frame accepted on the
//     reliable control connection. The length prefix is validated before the
//     body is allocated.
//
//   - MaxCallsignLength (32 bytes): the longest node identity accepted during
//     authentication.
//
// # Validation Functions
//
//	if err := limits.ValidateDatagram(buf[:n]); err != nil {
//	    // drop: ErrMessageEmpty or ErrMessageTooLarge
//	}
//
//	if err := limits.ValidateCallsign(callsign); err != nil {
//	    // reject the handshake: ErrInvalidCallsign
//	}
//
// All errors wrap one of the exported sentinels so callers classify them with
// errors.Is.
package limits
