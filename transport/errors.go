package transport

import "errors"

// Unreliable channel errors.
var (
	// ErrMalformedDatagram indicates a datagram that cannot hold the envelope.
	ErrMalformedDatagram = errors.New("malformed datagram")

	// ErrPayloadTooLarge indicates a payload that does not fit one datagram.
	ErrPayloadTooLarge = errors.New("datagram payload too large")
)

// Reliable channel errors.
var (
	// ErrMalformedMessage indicates a control message that cannot be decoded.
	ErrMalformedMessage = errors.New("malformed control message")

	// ErrUnknownMessageType indicates a control message type this build does not know.
	ErrUnknownMessageType = errors.New("unknown control message type")

	// ErrFrameTooLarge indicates a length prefix above the control frame limit.
	ErrFrameTooLarge = errors.New("control frame too large")
)
