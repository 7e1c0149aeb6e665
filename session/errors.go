package session

import "errors"

var (
	// ErrSessionNotFound indicates a lookup or removal for a connection that is not registered.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEndpointUnknown indicates an unreliable send before the UDP port was learned.
	ErrEndpointUnknown = errors.New("UDP endpoint not learned yet")

	// ErrSendQueueFull indicates the bounded reliable queue overflowed.
	ErrSendQueueFull = errors.New("reliable send queue full")

	// ErrSessionClosed indicates a send on a session that has already been closed.
	ErrSessionClosed = errors.New("session closed")

	// ErrIndexMismatch indicates the id and connection indices disagree.
	ErrIndexMismatch = errors.New("session indices out of sync")
)
