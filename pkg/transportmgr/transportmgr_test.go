package transportmgr

import (
	"errors"
	"testing"
	"time"

	"github.com/librescoot/mayako-node/pkg/integrity"
	"github.com/librescoot/mayako-node/pkg/packet"
	"github.com/librescoot/mayako-node/pkg/relay"
)

// fakeTransport is an in-memory stand-in for a real transport, letting
// tests drive Connected()/ReadPacket() deterministically.
type fakeTransport struct {
	name      string
	connected bool
	inbox     []*packet.Packet
	written   []*packet.Packet
	failAfter int // WritePacket fails starting at the call numbered failAfter (0 = never)
	writeCalls int
}

func (t *fakeTransport) Init() error    { return nil }
func (t *fakeTransport) Destroy() error { return nil }
func (t *fakeTransport) Name() string   { return t.name }
func (t *fakeTransport) Connected() bool { return t.connected }

func (t *fakeTransport) WritePacket(p *packet.Packet) error {
	t.writeCalls++
	if t.failAfter != 0 && t.writeCalls >= t.failAfter {
		return errors.New("write failed")
	}
	t.written = append(t.written, p)
	return nil
}

func (t *fakeTransport) ReadPacket() (*packet.Packet, error) {
	if len(t.inbox) == 0 {
		return nil, nil
	}
	p := t.inbox[0]
	t.inbox = t.inbox[1:]
	return p, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeTransport, *fakeTransport) {
	t.Helper()
	p2p := &fakeTransport{name: "serial", connected: true}
	wireless := &fakeTransport{name: "wireless", connected: false}

	rel := relay.New()
	mw := integrity.New(rel, nil)

	m := New(p2p, wireless, mw, rel, "NODE")
	return m, p2p, wireless
}

func TestPromotionAndDemotion(t *testing.T) {
	m, p2p, wireless := newTestManager(t)
	base := time.Now()

	if m.ActiveName() != p2p.Name() {
		t.Fatalf("initial active = %q, want %q", m.ActiveName(), p2p.Name())
	}

	wireless.connected = true
	m.UpgradeProtocol(base)
	if m.ActiveName() != wireless.Name() {
		t.Fatalf("active after wireless connects = %q, want %q", m.ActiveName(), wireless.Name())
	}

	wireless.connected = false
	m.UpgradeProtocol(base.Add(UpgradeInterval + time.Millisecond))
	if m.ActiveName() != p2p.Name() {
		t.Fatalf("active after wireless disconnects = %q, want %q", m.ActiveName(), p2p.Name())
	}
}

func TestUpgradeProtocolRespectsInterval(t *testing.T) {
	m, p2p, wireless := newTestManager(t)
	base := time.Now()

	wireless.connected = true
	m.UpgradeProtocol(base)
	if m.ActiveName() != wireless.Name() {
		t.Fatalf("active = %q, want %q", m.ActiveName(), wireless.Name())
	}

	wireless.connected = false
	m.UpgradeProtocol(base.Add(10 * time.Millisecond)) // well within UpgradeInterval
	if m.ActiveName() != wireless.Name() {
		t.Fatalf("active changed before UpgradeInterval elapsed: got %q", m.ActiveName())
	}
}

func TestWriteOutgoingStampsFreshPackets(t *testing.T) {
	m, p2p, _ := newTestManager(t)

	m.relay.Info([]byte(`{"ok":true}`))
	if err := m.WriteOutgoing(); err != nil {
		t.Fatalf("WriteOutgoing: %v", err)
	}

	if len(p2p.written) != 1 {
		t.Fatalf("written packets = %d, want 1", len(p2p.written))
	}
	if p2p.written[0].NodeIdentity != [4]byte{'N', 'O', 'D', 'E'} {
		t.Errorf("NodeIdentity = %v, want NODE", p2p.written[0].NodeIdentity)
	}
}

func TestWriteOutgoingRequeuesOnTransportError(t *testing.T) {
	m, p2p, _ := newTestManager(t)
	m.integrity.EnableAckPackets() // so outSeq actually advances per packet
	p2p.failAfter = 2              // second WritePacket call fails

	m.relay.Info([]byte(`{"a":1}`))
	m.relay.Info([]byte(`{"b":2}`))
	m.relay.Info([]byte(`{"c":3}`))

	if err := m.WriteOutgoing(); err == nil {
		t.Fatal("WriteOutgoing: want error from failing transport, got nil")
	}
	if len(p2p.written) != 1 {
		t.Fatalf("written packets = %d, want 1 (before the failure)", len(p2p.written))
	}
	if m.queue.len() != 2 {
		t.Fatalf("queue depth after failure = %d, want 2 requeued packets", m.queue.len())
	}

	p2p.failAfter = 0
	if err := m.WriteOutgoing(); err != nil {
		t.Fatalf("WriteOutgoing retry: %v", err)
	}
	if len(p2p.written) != 3 {
		t.Fatalf("written packets after retry = %d, want 3", len(p2p.written))
	}
	if m.queue.len() != 0 {
		t.Fatalf("queue depth after retry = %d, want 0", m.queue.len())
	}

	seqs := map[uint16]int{}
	for _, p := range p2p.written {
		seqs[p.Sequence]++
	}
	for seq, count := range seqs {
		if count != 1 {
			t.Errorf("sequence %d written %d times, want 1 (no re-stamping on retry)", seq, count)
		}
	}
}

func TestReadIncomingExtractsCommandPayload(t *testing.T) {
	m, p2p, _ := newTestManager(t)

	cmd := packet.New(packet.MethodCommand, []byte(`{"cmd_name":"IDENTIFY"}`))
	p2p.inbox = append(p2p.inbox, cmd)

	out, err := m.ReadIncoming(time.Now())
	if err != nil {
		t.Fatalf("ReadIncoming: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("commands = %d, want 1", len(out))
	}
	if string(out[0]) != `{"cmd_name":"IDENTIFY"}` {
		t.Errorf("payload = %s, want the original command body", out[0])
	}
}

func TestReadIncomingIgnoresNonCommandDeliveries(t *testing.T) {
	m, p2p, _ := newTestManager(t)

	info := packet.New(packet.MethodInfo, []byte(`{}`))
	p2p.inbox = append(p2p.inbox, info)

	out, err := m.ReadIncoming(time.Now())
	if err != nil {
		t.Fatalf("ReadIncoming: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("commands = %d, want 0 for a non-command delivery", len(out))
	}
}

func TestSendHeartbeatRespectsCadence(t *testing.T) {
	m, p2p, _ := newTestManager(t)
	base := time.Now()

	m.SendHeartbeat(base)
	m.SendHeartbeat(base.Add(time.Millisecond))
	if err := m.WriteOutgoing(); err != nil {
		t.Fatalf("WriteOutgoing: %v", err)
	}

	heartbeats := 0
	for _, p := range p2p.written {
		if p.Method == packet.MethodHeartbeat {
			heartbeats++
		}
	}
	if heartbeats != 1 {
		t.Fatalf("heartbeats written = %d, want 1 within the cadence window", heartbeats)
	}
}
