package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MsgType identifies a message on the reliable control channel.
type MsgType uint16

const (
	MsgTypeHeartbeat     MsgType = 1
	MsgTypeProtoVer      MsgType = 5
	MsgTypeAuthChallenge MsgType = 10
	MsgTypeAuthResponse  MsgType = 11
	MsgTypeAuthOk        MsgType = 12
	MsgTypeError         MsgType = 13
	MsgTypeServerInfo    MsgType = 100
	MsgTypeNodeList      MsgType = 101
	MsgTypeNodeJoined    MsgType = 102
	MsgTypeNodeLeft      MsgType = 103
	MsgTypeTalkerStart   MsgType = 104
	MsgTypeTalkerStop    MsgType = 105
)

// msgTypeHeaderSize is the type field at the start of every encoded message.
const msgTypeHeaderSize = 2

var msgTypeNames = map[MsgType]string{
	MsgTypeHeartbeat:     "heartbeat",
	MsgTypeProtoVer:      "proto_ver",
	MsgTypeAuthChallenge: "auth_challenge",
	MsgTypeAuthResponse:  "auth_response",
	MsgTypeAuthOk:        "auth_ok",
	MsgTypeError:         "error",
	MsgTypeServerInfo:    "server_info",
	MsgTypeNodeList:      "node_list",
	MsgTypeNodeJoined:    "node_joined",
	MsgTypeNodeLeft:      "node_left",
	MsgTypeTalkerStart:   "talker_start",
	MsgTypeTalkerStop:    "talker_stop",
}

func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint16(t))
}

// Message is a reliable channel message. Implementations are pointer types so
// that decoding and type switches agree.
type Message interface {
	Type() MsgType
}

// Protocol version spoken by this implementation.
const (
	ProtoMajor = 2
	ProtoMinor = 0
)

// Heartbeat keeps the control connection alive.
type Heartbeat struct{}

// ProtoVer is the first message a node sends after connecting.
type ProtoVer struct {
	Major uint16 `cbor:"major"`
	Minor uint16 `cbor:"minor"`
}

// AuthChallenge carries the random nonce the node must sign.
type AuthChallenge struct {
	Challenge []byte `cbor:"challenge"`
}

// AuthResponse carries the node identity and its digest over the challenge.
type AuthResponse struct {
	Callsign string `cbor:"callsign"`
	Digest   []byte `cbor:"digest"`
}

// AuthOk confirms a successful authentication.
type AuthOk struct{}

// Error reports a fatal condition; the sender closes the connection after it.
type Error struct {
	Message string `cbor:"message"`
}

// ServerInfo is sent once after authentication.
type ServerInfo struct {
	ClientID uint32   `cbor:"client_id"`
	Nodes    []string `cbor:"nodes"`
}

// NodeList lists the callsigns of all authenticated nodes.
type NodeList struct {
	Nodes []string `cbor:"nodes"`
}

type NodeJoined struct {
	Callsign string `cbor:"callsign"`
}

type NodeLeft struct {
	Callsign string `cbor:"callsign"`
}

type TalkerStart struct {
	Callsign string `cbor:"callsign"`
}

type TalkerStop struct {
	Callsign string `cbor:"callsign"`
}

func (*Heartbeat) Type() MsgType     { return MsgTypeHeartbeat }
func (*ProtoVer) Type() MsgType      { return MsgTypeProtoVer }
func (*AuthChallenge) Type() MsgType { return MsgTypeAuthChallenge }
func (*AuthResponse) Type() MsgType  { return MsgTypeAuthResponse }
func (*AuthOk) Type() MsgType        { return MsgTypeAuthOk }
func (*Error) Type() MsgType         { return MsgTypeError }
func (*ServerInfo) Type() MsgType    { return MsgTypeServerInfo }
func (*NodeList) Type() MsgType      { return MsgTypeNodeList }
func (*NodeJoined) Type() MsgType    { return MsgTypeNodeJoined }
func (*NodeLeft) Type() MsgType      { return MsgTypeNodeLeft }
func (*TalkerStart) Type() MsgType   { return MsgTypeTalkerStart }
func (*TalkerStop) Type() MsgType    { return MsgTypeTalkerStop }

// newMessage returns an empty message for t, or nil when t is unknown.
func newMessage(t MsgType) Message {
	switch t {
	case MsgTypeHeartbeat:
		return &Heartbeat{}
	case MsgTypeProtoVer:
		return &ProtoVer{}
	case MsgTypeAuthChallenge:
		return &AuthChallenge{}
	case MsgTypeAuthResponse:
		return &AuthResponse{}
	case MsgTypeAuthOk:
		return &AuthOk{}
	case MsgTypeError:
		return &Error{}
	case MsgTypeServerInfo:
		return &ServerInfo{}
	case MsgTypeNodeList:
		return &NodeList{}
	case MsgTypeNodeJoined:
		return &NodeJoined{}
	case MsgTypeNodeLeft:
		return &NodeLeft{}
	case MsgTypeTalkerStart:
		return &TalkerStart{}
	case MsgTypeTalkerStop:
		return &TalkerStop{}
	}
	return nil
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 4096,
		MaxMapPairs:      64,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// EncodeMessage produces [type (2)][CBOR body].
func EncodeMessage(m Message) ([]byte, error) {
	body, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}

	data := make([]byte, msgTypeHeaderSize+len(body))
	binary.BigEndian.PutUint16(data[:msgTypeHeaderSize], uint16(m.Type()))
	copy(data[msgTypeHeaderSize:], body)
	return data, nil
}

// DecodeMessage parses the output of EncodeMessage.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) < msgTypeHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedMessage, len(data))
	}

	t := MsgType(binary.BigEndian.Uint16(data[:msgTypeHeaderSize]))
	m := newMessage(t)
	if m == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, uint16(t))
	}

	if err := decMode.Unmarshal(data[msgTypeHeaderSize:], m); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedMessage, t, err)
	}
	return m, nil
}
