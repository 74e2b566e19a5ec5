// Package packet implements the node's binary wire format: a fixed 10-byte
// header followed by an opaque payload, checksummed with CRC-8/Bluetooth.
package packet

import (
	"encoding/binary"
	"fmt"
)

// Method is the one-byte packet type selector. Every frame starts with one
// of these so a stream scanner can resynchronise after corruption.
type Method uint8

const (
	MethodACK       Method = 0x20
	MethodData      Method = 0x21
	MethodCommand   Method = 0x22
	MethodHeartbeat Method = 0x23
	MethodDebug     Method = 0x24
	MethodInfo      Method = 0x25
	MethodError     Method = 0x26
)

func (m Method) String() string {
	switch m {
	case MethodACK:
		return "ACK"
	case MethodData:
		return "DATA"
	case MethodCommand:
		return "COMMAND"
	case MethodHeartbeat:
		return "HEARTBEAT"
	case MethodDebug:
		return "DEBUG"
	case MethodInfo:
		return "INFO"
	case MethodError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(m))
	}
}

// Tracked reports whether packets of this method carry a meaningful
// sequence number and participate in ACK/retransmit bookkeeping.
func (m Method) Tracked() bool {
	switch m {
	case MethodData, MethodCommand, MethodInfo, MethodDebug, MethodError:
		return true
	default:
		return false
	}
}

const (
	// HeaderSize is the fixed size, in bytes, of every packet header.
	HeaderSize = 10
	// NodeIdentitySize is the width of the ASCII node label field.
	NodeIdentitySize = 4
	// MaxBufferSize bounds the payload a transport will admit; frames
	// exceeding it are rejected at the transport boundary.
	MaxBufferSize = 512
)

var validMethods = map[Method]bool{
	MethodACK:       true,
	MethodData:      true,
	MethodCommand:   true,
	MethodHeartbeat: true,
	MethodDebug:     true,
	MethodInfo:      true,
	MethodError:     true,
}

// VerifyFlag reports whether b is one of the seven recognised method codes.
func VerifyFlag(b byte) bool {
	return validMethods[Method(b)]
}

// Packet is a framed message moving between the node and its peer.
type Packet struct {
	Method       Method
	NodeIdentity [NodeIdentitySize]byte
	Sequence     uint16
	Checksum     uint8
	Payload      []byte
}

// New builds a packet carrying payload, stamping its checksum immediately.
func New(method Method, payload []byte) *Packet {
	p := &Packet{Method: method}
	p.SetPayload(payload)
	return p
}

// SetPayload replaces the payload and recomputes the checksum over it.
func (p *Packet) SetPayload(payload []byte) {
	p.Payload = payload
	p.Checksum = CRC8(payload)
}

// SetNodeIdentity copies up to NodeIdentitySize bytes of name into the
// packet's node identity field, zero-padding on the right.
func (p *Packet) SetNodeIdentity(name string) {
	var id [NodeIdentitySize]byte
	copy(id[:], name)
	p.NodeIdentity = id
}

// PayloadSize returns the length of Payload in bytes.
func (p *Packet) PayloadSize() uint16 {
	return uint16(len(p.Payload))
}

// Serialize writes the header in big-endian order followed by the raw
// payload bytes. No trailing null byte is appended; the caller's transport
// is responsible for on-wire framing.
func Serialize(p *Packet) []byte {
	size := p.PayloadSize()
	buf := make([]byte, HeaderSize+int(size))

	buf[0] = byte(p.Method)
	copy(buf[1:5], p.NodeIdentity[:])
	binary.BigEndian.PutUint16(buf[5:7], p.Sequence)
	buf[7] = p.Checksum
	binary.BigEndian.PutUint16(buf[8:10], size)
	copy(buf[HeaderSize:], p.Payload)

	return buf
}

// DeserializeHeader parses the fixed 10-byte header. It never rejects
// content; it is the caller's job to call VerifyFlag/VerifyGoodPacket
// before trusting the result.
func DeserializeHeader(header []byte) (*Packet, error) {
	if len(header) != HeaderSize {
		return nil, fmt.Errorf("packet: header must be %d bytes, got %d", HeaderSize, len(header))
	}

	p := &Packet{Method: Method(header[0])}
	copy(p.NodeIdentity[:], header[1:5])
	p.Sequence = binary.BigEndian.Uint16(header[5:7])
	p.Checksum = header[7]
	size := binary.BigEndian.Uint16(header[8:10])
	// Payload is allocated to its final length up front so PendingPayload
	// can report how many bytes a transport still needs to read.
	p.Payload = make([]byte, size)

	return p, nil
}

// PendingPayload returns how many payload bytes remain unread after a
// header-only DeserializeHeader call.
func (p *Packet) PendingPayload() int {
	return len(p.Payload)
}

// DeserializePayload copies exactly len(p.Payload) bytes from buf into the
// packet's payload. It does not verify the checksum.
func (p *Packet) DeserializePayload(buf []byte) error {
	if len(buf) < len(p.Payload) {
		return fmt.Errorf("packet: need %d payload bytes, got %d", len(p.Payload), len(buf))
	}
	copy(p.Payload, buf[:len(p.Payload)])
	return nil
}

// VerifyGoodPacket reports whether the packet's method is recognised and
// its checksum matches its payload.
func VerifyGoodPacket(p *Packet) bool {
	return VerifyFlag(byte(p.Method)) && CRC8(p.Payload) == p.Checksum
}
