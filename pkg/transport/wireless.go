package transport

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/librescoot/mayako-node/pkg/packet"
)

const (
	// MaxPayloadSize bounds a single UDP datagram's packet bytes,
	// generalizing BluetoothProtocol.cpp's maxPayloadSize = mtu -
	// BLE_ATT_OVERHEAD chunking to the wireless transport this node
	// actually ships: a UDP socket, per WifiProtocol.cpp's client_ip/
	// client_port credential model (see SPEC_FULL.md §4.3).
	MaxPayloadSize = 512 - 20 // leaves headroom under a conservative path MTU

	// ChunkPause separates successive chunk writes, mirroring
	// NET::BLE_CHUNK_TIMEOUT so a slow peer's receive buffer is not
	// overrun by back-to-back datagrams.
	ChunkPause = 5 * time.Millisecond
)

// Credentials names the peer a wireless transport sends to.
type Credentials struct {
	ClientIP   string
	ClientPort int
}

// ErrNoActiveProfile is returned by WritePacket when no peer credentials
// have been set, mirroring WifiProtocol::writePacket's hasActiveProfile
// guard.
var ErrNoActiveProfile = errors.New("transport: no active wireless profile")

// Wireless is the optional, promotable transport (C4). It maps the
// original's BLE/WiFi link onto a UDP socket: bind locally, chunk
// outbound writes to MaxPayloadSize, and scan inbound datagrams with the
// shared frame scanner.
type Wireless struct {
	localAddr string
	conn      *net.UDPConn
	creds     Credentials
	hasCreds  bool
	connected bool
	scanner   frameScanner
	readBuf   []byte
}

// NewWireless configures a wireless transport bound to localAddr
// (host:port, usually ":0" to pick an ephemeral port).
func NewWireless(localAddr string) *Wireless {
	return &Wireless{
		localAddr: localAddr,
		readBuf:   make([]byte, 2048),
	}
}

func (t *Wireless) Name() string { return "wireless" }

func (t *Wireless) Init() error {
	addr, err := net.ResolveUDPAddr("udp", t.localAddr)
	if err != nil {
		return fmt.Errorf("transport: resolve wireless bind address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("transport: bind wireless socket: %w", err)
	}
	t.conn = conn
	t.connected = true
	return nil
}

func (t *Wireless) Destroy() error {
	t.connected = false
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *Wireless) Connected() bool { return t.connected }

// SetCredentials points the transport at a peer. Call with the zero
// value to clear it (e.g. when the active wireless profile is deleted).
func (t *Wireless) SetCredentials(c Credentials) {
	t.creds = c
	t.hasCreds = c.ClientIP != ""
}

// WritePacket chunks the serialized packet into MaxPayloadSize pieces
// and sends each as its own datagram, pausing ChunkPause between
// writes, per BluetoothProtocol::writePacket's chunk loop.
func (t *Wireless) WritePacket(p *packet.Packet) error {
	if !t.connected {
		return ErrNotConnected
	}
	if !t.hasCreds {
		return ErrNoActiveProfile
	}

	dst, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", t.creds.ClientIP, t.creds.ClientPort))
	if err != nil {
		return fmt.Errorf("transport: resolve wireless peer: %w", err)
	}

	data := packet.Serialize(p)
	for i := 0; i < len(data); i += MaxPayloadSize {
		end := i + MaxPayloadSize
		if end > len(data) {
			end = len(data)
		}
		if _, err := t.conn.WriteToUDP(data[i:end], dst); err != nil {
			return fmt.Errorf("transport: wireless write: %w", err)
		}
		if end < len(data) {
			time.Sleep(ChunkPause)
		}
	}
	return nil
}

// ReadPacket polls the UDP socket once with a short deadline and feeds
// whatever arrived into the frame scanner.
func (t *Wireless) ReadPacket() (*packet.Packet, error) {
	if !t.connected {
		return nil, nil
	}

	t.conn.SetReadDeadline(time.Now().Add(DefaultTimeout))
	n, _, err := t.conn.ReadFromUDP(t.readBuf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return t.drain()
		}
		return nil, fmt.Errorf("transport: wireless read: %w", err)
	}
	if n > 0 {
		t.scanner.feed(t.readBuf[:n])
	}
	return t.drain()
}

func (t *Wireless) drain() (*packet.Packet, error) {
	p, ok := t.scanner.next()
	if !ok {
		return nil, nil
	}
	return p, nil
}
