package transport

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"

	"github.com/librescoot/mayako-node/pkg/packet"
)

// DefaultTimeout bounds how long a single ReadPacket poll blocks waiting
// for bytes, mirroring NET::TIMEOUT_DEFAULT from the original firmware.
const DefaultTimeout = 50 * time.Millisecond

// PointToPoint is the always-present serial transport (C4). Grounded on
// SerialProtocol.cpp, implemented with github.com/tarm/serial as the
// teacher's pkg/usock already does for its own UART link.
type PointToPoint struct {
	cfg       *serial.Config
	port      *serial.Port
	connected bool
	scanner   frameScanner
	readBuf   []byte
}

// NewPointToPoint configures (but does not yet open) a serial transport
// on device at the given baud rate.
func NewPointToPoint(device string, baud int) *PointToPoint {
	return &PointToPoint{
		cfg: &serial.Config{
			Name:        device,
			Baud:        baud,
			ReadTimeout: DefaultTimeout,
		},
		readBuf: make([]byte, 256),
	}
}

func (t *PointToPoint) Name() string { return "serial" }

func (t *PointToPoint) Init() error {
	port, err := serial.OpenPort(t.cfg)
	if err != nil {
		return fmt.Errorf("transport: open serial port %s: %w", t.cfg.Name, err)
	}
	t.port = port
	t.connected = true
	return nil
}

func (t *PointToPoint) Destroy() error {
	t.connected = false
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

func (t *PointToPoint) Connected() bool { return t.connected }

// WritePacket serializes p and writes it whole. No trailing null byte
// is sent; Go's byte slices need no terminator the way the C-string
// based original did.
func (t *PointToPoint) WritePacket(p *packet.Packet) error {
	if !t.connected {
		return ErrNotConnected
	}
	_, err := t.port.Write(packet.Serialize(p))
	return err
}

// ReadPacket polls the serial port once and feeds whatever arrived into
// the frame scanner, returning a complete packet if one is ready.
func (t *PointToPoint) ReadPacket() (*packet.Packet, error) {
	if !t.connected {
		return nil, nil
	}

	n, err := t.port.Read(t.readBuf)
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("transport: serial read: %w", err)
	}
	if n > 0 {
		t.scanner.feed(t.readBuf[:n])
	}

	p, ok := t.scanner.next()
	if !ok {
		return nil, nil
	}
	return p, nil
}
