// Package limits provides centralized size limits for the reflector protocol.
// This ensures consistent validation across the transport, client and reflector packages.
package limits

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MaxDatagramSize is the largest UDP datagram the reflector reads or writes.
	// Audio frames are small (tens to a few hundred bytes), so anything above a
	// typical Ethernet MTU is treated as hostile.
	MaxDatagramSize = 1500

	// DatagramHeaderSize is the fixed size of the unreliable channel envelope:
	// message type (2) + logical client id (4) + sequence number (2).
	DatagramHeaderSize = 8

	// MaxAudioPayload is the maximum encoded audio payload carried by one datagram.
	MaxAudioPayload = MaxDatagramSize - DatagramHeaderSize

	// MaxControlFrame is the largest reliable channel frame accepted from a peer.
	// Node lists are the largest messages, so this leaves room for a few thousand
	// callsigns.
	MaxControlFrame = 64 * 1024

	// MaxCallsignLength bounds the human identity a node may claim.
	MaxCallsignLength = 32
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")

	// ErrInvalidCallsign indicates a callsign that is empty, too long or
	// contains characters outside the accepted set.
	ErrInvalidCallsign = errors.New("invalid callsign")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	return validateLength("message", uint64(len(message)), uint64(maxSize))
}

// ValidateDatagram validates a raw datagram read from the network.
func ValidateDatagram(data []byte) error {
	return ValidateMessageSize(data, MaxDatagramSize)
}

// ValidateControlFrame validates the announced length of a reliable frame
// before any memory is allocated for it.
func ValidateControlFrame(length uint32) error {
	return validateLength("frame", uint64(length), MaxControlFrame)
}

func validateLength(what string, size, maxSize uint64) error {
	if size == 0 {
		return ErrMessageEmpty
	}
	if size > maxSize {
		return fmt.Errorf("%w: %s size %d exceeds limit %d", ErrMessageTooLarge, what, size, maxSize)
	}
	return nil
}

// ValidateCallsign checks that a callsign is non-empty, bounded, and made of
// upper case letters, digits, '-' and '/'.
func ValidateCallsign(callsign string) error {
	if callsign == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCallsign)
	}
	if len(callsign) > MaxCallsignLength {
		return fmt.Errorf("%w: length %d exceeds limit %d", ErrInvalidCallsign, len(callsign), MaxCallsignLength)
	}
	if i := strings.IndexFunc(callsign, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '/')
	}); i >= 0 {
		return fmt.Errorf("%w: unexpected character %q", ErrInvalidCallsign, callsign[i])
	}
	return nil
}
