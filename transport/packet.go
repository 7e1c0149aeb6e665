package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/reflector/limits"
)

// UDPMsgType identifies the message carried by a datagram on the unreliable channel.
type UDPMsgType uint16

const (
	// UDPHeartbeat keeps the UDP path alive and confirms endpoint learning.
	UDPHeartbeat UDPMsgType = 1

	// UDPAudio carries one encoded audio frame.
	UDPAudio UDPMsgType = 101

	// UDPFlushSamples marks the end of a transmission.
	UDPFlushSamples UDPMsgType = 102

	// UDPAllSamplesFlushed acknowledges a flush.
	UDPAllSamplesFlushed UDPMsgType = 103
)

// String returns a human readable name for log fields.
func (t UDPMsgType) String() string {
	switch t {
	case UDPHeartbeat:
		return "heartbeat"
	case UDPAudio:
		return "audio"
	case UDPFlushSamples:
		return "flush_samples"
	case UDPAllSamplesFlushed:
		return "all_samples_flushed"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(t))
	}
}

// Known reports whether the reflector recognizes this message type.
func (t UDPMsgType) Known() bool {
	switch t {
	case UDPHeartbeat, UDPAudio, UDPFlushSamples, UDPAllSamplesFlushed:
		return true
	}
	return false
}

// Datagram is one message on the unreliable channel.
//
// Wire format (big endian):
//
//	[type (2)][logical client id (4)][sequence number (2)][payload (variable)]
type Datagram struct {
	Type     UDPMsgType
	ClientID uint32
	Seq      uint16
	Payload  []byte
}

// Serialize converts a datagram to a byte slice for transmission.
func (d *Datagram) Serialize() ([]byte, error) {
	if len(d.Payload) > limits.MaxAudioPayload {
		return nil, fmt.Errorf("%w: payload %d bytes exceeds %d", ErrPayloadTooLarge, len(d.Payload), limits.MaxAudioPayload)
	}

	result := make([]byte, limits.DatagramHeaderSize+len(d.Payload))
	binary.BigEndian.PutUint16(result[0:2], uint16(d.Type))
	binary.BigEndian.PutUint32(result[2:6], d.ClientID)
	binary.BigEndian.PutUint16(result[6:8], d.Seq)
	copy(result[limits.DatagramHeaderSize:], d.Payload)

	return result, nil
}

// ParseDatagram converts a byte slice to a Datagram structure.
// The payload is copied so the caller may reuse its read buffer.
func ParseDatagram(data []byte) (*Datagram, error) {
	if err := limits.ValidateDatagram(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDatagram, err)
	}
	if len(data) < limits.DatagramHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the %d byte header",
			ErrMalformedDatagram, len(data), limits.DatagramHeaderSize)
	}

	d := &Datagram{
		Type:     UDPMsgType(binary.BigEndian.Uint16(data[0:2])),
		ClientID: binary.BigEndian.Uint32(data[2:6]),
		Seq:      binary.BigEndian.Uint16(data[6:8]),
		Payload:  make([]byte, len(data)-limits.DatagramHeaderSize),
	}
	copy(d.Payload, data[limits.DatagramHeaderSize:])

	return d, nil
}
