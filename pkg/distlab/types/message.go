// Package types holds the wire-level vocabulary shared by every layer
// of the laboratory: message framing, peer identity and the bank/mutex
// payload encodings.
package types

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// LocalID identifies a peer in [0, N). Zero is always the coordinator.
type LocalID int

// ParentID is the coordinator's fixed identity.
const ParentID LocalID = 0

// Role distinguishes the coordinator from a child for the handful of
// protocol steps that are asymmetric (only children multicast
// STARTED/DONE, only the coordinator drives transfers).
type Role int

const (
	RoleParent Role = iota
	RoleChild
)

func (r Role) String() string {
	if r == RoleParent {
		return "parent"
	}
	return "child"
}

// MessageType enumerates every frame that can cross a channel.
type MessageType uint16

const (
	Started MessageType = iota + 1
	Done
	Transfer
	Ack
	Stop
	BalanceReport
	CSRequest
	CSReply
	CSRelease
)

func (t MessageType) String() string {
	switch t {
	case Started:
		return "STARTED"
	case Done:
		return "DONE"
	case Transfer:
		return "TRANSFER"
	case Ack:
		return "ACK"
	case Stop:
		return "STOP"
	case BalanceReport:
		return "BALANCE_HISTORY"
	case CSRequest:
		return "CS_REQUEST"
	case CSReply:
		return "CS_REPLY"
	case CSRelease:
		return "CS_RELEASE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(t))
	}
}

const (
	// Magic is the fixed framing sentinel every header must carry.
	Magic uint16 = 0xC0DE

	// MaxPayload bounds a single message's payload, well above any
	// frame this protocol ever sends.
	MaxPayload = 4096

	headerSize = 2 + 2 + 2 + 2
)

// ErrBadMagic is returned by any receive path when a header's magic
// sentinel does not match Magic. It is always a fatal framing error.
var ErrBadMagic = errors.New("distlab: bad message magic")

// ErrPayloadTooLarge guards MaxPayload.
var ErrPayloadTooLarge = errors.New("distlab: payload exceeds maximum size")

// Header is the fixed-size frame prefix, bit-exact with spec §6:
// magic:u16, type:u16, payload_len:u16, logical_time:i16.
type Header struct {
	MagicValue  uint16
	Type        MessageType
	PayloadLen  uint16
	LogicalTime int16
}

// Message is a header paired with its opaque payload.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage builds a message with a valid magic and the given
// logical time already stamped; callers must not forge LogicalTime
// themselves — it is stamped by the IPC layer per the Lamport rules.
func NewMessage(t MessageType, logicalTime int16, payload []byte) (Message, error) {
	if len(payload) > MaxPayload {
		return Message{}, ErrPayloadTooLarge
	}
	return Message{
		Header: Header{
			MagicValue:  Magic,
			Type:        t,
			PayloadLen:  uint16(len(payload)),
			LogicalTime: logicalTime,
		},
		Payload: payload,
	}, nil
}

// EncodeHeader serializes h in the wire's little-endian layout.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(buf[0:2], h.MagicValue)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(h.Type))
	binary.LittleEndian.PutUint16(buf[4:6], h.PayloadLen)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(h.LogicalTime))
	return buf
}

// DecodeHeader parses a header previously produced by EncodeHeader.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != headerSize {
		return Header{}, fmt.Errorf("distlab: short header: %d bytes", len(buf))
	}
	h := Header{
		MagicValue:  binary.LittleEndian.Uint16(buf[0:2]),
		Type:        MessageType(binary.LittleEndian.Uint16(buf[2:4])),
		PayloadLen:  binary.LittleEndian.Uint16(buf[4:6]),
		LogicalTime: int16(binary.LittleEndian.Uint16(buf[6:8])),
	}
	if h.MagicValue != Magic {
		return Header{}, ErrBadMagic
	}
	return h, nil
}

// HeaderSize reports the fixed header width in bytes.
func HeaderSize() int {
	return headerSize
}
