// Package transport defines the point-to-point/wireless transport
// contract (C3) and the frame scanner shared by its concrete
// implementations (C4). Grounded on
// original_source/arduino/lib/Network/ProtocolBase.h for the contract
// shape, and on the peek/read-until-flag scan in
// SerialProtocol.cpp/WifiProtocol.cpp/BluetoothProtocol.cpp for framing.
package transport

import (
	"errors"

	"github.com/librescoot/mayako-node/pkg/packet"
)

// ErrNotConnected is returned by WritePacket when the transport has no
// live connection. ReadPacket never returns it; an unconnected read
// simply yields (nil, nil), matching the original's checkConnection
// early-return.
var ErrNotConnected = errors.New("transport: not connected")

// Transport is the contract the rest of the node programs against; the
// node never imports a concrete transport package directly outside of
// wiring code in cmd/mayako-node.
type Transport interface {
	// Init opens the underlying connection (opens the serial port,
	// binds the UDP socket, ...).
	Init() error
	// Destroy releases the underlying connection.
	Destroy() error
	// WritePacket sends one packet. When Connected() is false it sends
	// nothing and returns ErrNotConnected.
	WritePacket(p *packet.Packet) error
	// ReadPacket polls for one fully-framed packet. A nil, nil result
	// means no complete packet is available yet; callers are expected
	// to call it again on their own schedule (the node's tick).
	ReadPacket() (*packet.Packet, error)
	// Connected reports the transport's current link status.
	Connected() bool
	// Name identifies the transport for logging and metrics labels.
	Name() string
}

// frameScanner accumulates raw bytes from a transport and extracts
// complete packets from them, discarding bytes ahead of a recognised
// method flag exactly as the original peek/read loops do, generalized
// to a persistent buffer so it can be fed arbitrarily sized reads
// instead of one byte at a time.
type frameScanner struct {
	buf []byte
}

// feed appends newly read bytes to the pending buffer.
func (s *frameScanner) feed(data []byte) {
	s.buf = append(s.buf, data...)
}

// next attempts to extract one complete, framed packet. It returns
// (nil, false) when the buffer holds no complete frame yet. Bytes
// preceding a recognised method flag, and a header whose declared
// payload never completes validation, are discarded one byte at a time
// so the scanner can resynchronise after corruption.
func (s *frameScanner) next() (*packet.Packet, bool) {
	for len(s.buf) > 0 {
		if !packet.VerifyFlag(s.buf[0]) {
			s.buf = s.buf[1:]
			continue
		}
		if len(s.buf) < packet.HeaderSize {
			return nil, false
		}

		p, err := packet.DeserializeHeader(s.buf[:packet.HeaderSize])
		if err != nil {
			s.buf = s.buf[1:]
			continue
		}

		total := packet.HeaderSize + p.PendingPayload()
		if total > packet.HeaderSize+packet.MaxBufferSize {
			// Declared payload size can't possibly be ours; drop the
			// flag byte and keep scanning instead of waiting forever.
			s.buf = s.buf[1:]
			continue
		}
		if len(s.buf) < total {
			return nil, false
		}

		if err := p.DeserializePayload(s.buf[packet.HeaderSize:total]); err != nil {
			s.buf = s.buf[1:]
			continue
		}

		s.buf = s.buf[total:]
		return p, true
	}
	return nil, false
}
