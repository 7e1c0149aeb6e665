package client

import "errors"

var (
	// ErrRejected indicates the reflector answered the handshake with an Error message.
	ErrRejected = errors.New("rejected by reflector")

	// ErrUnexpectedMessage indicates a message that does not fit the handshake step.
	ErrUnexpectedMessage = errors.New("unexpected control message")

	// ErrNodeClosed indicates a send on a closed Node.
	ErrNodeClosed = errors.New("node closed")
)

// Reasons carried in Error messages sent to a node before disconnecting it.
const (
	ReasonAccessDenied       = "Access denied"
	ReasonProtocolError      = "Protocol error"
	ReasonAlreadyConnected   = "Already connected"
	ReasonUnsupportedVersion = "Unsupported protocol version"
)
