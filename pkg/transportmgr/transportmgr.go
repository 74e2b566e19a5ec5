// Package transportmgr owns the point-to-point and optional wireless
// transports, performs promotion/demotion between them, drains the
// outbound queue and drives the integrity middleware (C6). Grounded on
// original_source/arduino/lib/Network/NetworkManager.cpp/.h.
package transportmgr

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/librescoot/mayako-node/pkg/integrity"
	"github.com/librescoot/mayako-node/pkg/packet"
	"github.com/librescoot/mayako-node/pkg/relay"
	"github.com/librescoot/mayako-node/pkg/transport"
)

// UpgradeInterval is the cadence at which UpgradeProtocol re-evaluates
// promotion/demotion, matching NET::TIMEOUT_WIRELESS_UPGRADE (1s).
const UpgradeInterval = 1 * time.Second

// HeartbeatInterval is the cadence at which SendHeartbeat fires,
// matching NET::HEARTBEAT_INTERVAL (1s).
const HeartbeatInterval = 1 * time.Second

// Metrics receives transport-manager observability signals. Nil is
// valid; every call site guards against it.
type Metrics interface {
	SetOutboundQueueDepth(n int)
	SetActiveTransport(name string)
	SetLastPeerHeartbeat(t time.Time)
	SetPendingRetx(n int)
	SetOutOfOrder(n int)
}

// outboundItem is a packet waiting to be written, paired with whether it
// has already been sequence-stamped (a resend) or still needs
// integrity.ProcessOutgoing to run on it (a fresh enqueue).
type outboundItem struct {
	packet  *packet.Packet
	stamped bool
}

// outboundQueue is the mutex-guarded FIFO the relay and the integrity
// middleware's Resender both push onto. It implements relay.Queue and
// integrity.Resender.
type outboundQueue struct {
	mu    sync.Mutex
	items []outboundItem
}

func (q *outboundQueue) Push(p *packet.Packet) {
	q.mu.Lock()
	q.items = append(q.items, outboundItem{packet: p})
	q.mu.Unlock()
}

func (q *outboundQueue) Resend(p *packet.Packet) {
	q.mu.Lock()
	q.items = append(q.items, outboundItem{packet: p, stamped: true})
	q.mu.Unlock()
}

func (q *outboundQueue) drain() []outboundItem {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}

// requeue puts items back at the front of the queue, ahead of anything
// enqueued since drain, so a transport error partway through a write batch
// doesn't silently drop the rest of it.
func (q *outboundQueue) requeue(items []outboundItem) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(items, q.items...)
	q.mu.Unlock()
}

func (q *outboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

var (
	_ relay.Queue        = (*outboundQueue)(nil)
	_ integrity.Resender = (*outboundQueue)(nil)
)

// Manager owns the always-present point-to-point transport and an
// optional wireless transport, and mediates all I/O through the
// integrity middleware.
type Manager struct {
	nodeIdentity string

	pointToPoint transport.Transport
	wireless     transport.Transport // nil if no wireless link is configured
	active       transport.Transport

	integrity *integrity.Middleware
	relay     *relay.Relay
	queue     *outboundQueue
	metrics   Metrics

	lastUpgrade   time.Time
	lastHeartbeat time.Time
}

// New wires a manager around its collaborators. wireless may be nil.
func New(pointToPoint, wireless transport.Transport, mw *integrity.Middleware, rel *relay.Relay, nodeIdentity string) *Manager {
	m := &Manager{
		nodeIdentity: nodeIdentity,
		pointToPoint: pointToPoint,
		wireless:     wireless,
		active:       pointToPoint,
		integrity:    mw,
		relay:        rel,
		queue:        &outboundQueue{},
	}
	rel.SetQueue(m.queue)
	mw.SetResender(m.queue)
	return m
}

// SetMetrics attaches an observability sink. Optional.
func (m *Manager) SetMetrics(metrics Metrics) { m.metrics = metrics }

// Init opens the point-to-point transport (always) and the wireless
// transport (if configured).
func (m *Manager) Init() error {
	if err := m.pointToPoint.Init(); err != nil {
		return err
	}
	if m.wireless != nil {
		if err := m.wireless.Init(); err != nil {
			return err
		}
	}
	if m.metrics != nil {
		m.metrics.SetActiveTransport(m.active.Name())
	}
	return nil
}

// Destroy releases both transports.
func (m *Manager) Destroy() error {
	if m.wireless != nil {
		if err := m.wireless.Destroy(); err != nil {
			return err
		}
	}
	return m.pointToPoint.Destroy()
}

// ActiveName reports the currently active transport's name.
func (m *Manager) ActiveName() string { return m.active.Name() }

// UpgradeProtocol promotes to wireless when it reports a live
// connection and demotes back to point-to-point once it drops, per
// spec.md §4.5. It is a no-op before UpgradeInterval has elapsed since
// the previous call.
func (m *Manager) UpgradeProtocol(now time.Time) {
	if !m.lastUpgrade.IsZero() && now.Sub(m.lastUpgrade) < UpgradeInterval {
		return
	}
	m.lastUpgrade = now

	switch {
	case m.wireless != nil && m.wireless.Connected() && m.active != m.wireless:
		m.active = m.wireless
	case m.active != m.pointToPoint && !m.wirelessStillUp():
		m.active = m.pointToPoint
	default:
		return
	}

	if m.metrics != nil {
		m.metrics.SetActiveTransport(m.active.Name())
	}
}

func (m *Manager) wirelessStillUp() bool {
	return m.wireless != nil && m.wireless.Connected()
}

// ReadIncoming polls the active transport once, runs the result through
// the integrity middleware, and returns the payloads of any emitted
// COMMAND packets. HEARTBEAT packets update liveness but produce no
// output; everything else is discarded.
func (m *Manager) ReadIncoming(now time.Time) ([]json.RawMessage, error) {
	raw, err := m.active.ReadPacket()
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	var commands []json.RawMessage
	for _, p := range m.integrity.ProcessIncoming(raw) {
		switch p.Method {
		case packet.MethodCommand:
			commands = append(commands, json.RawMessage(p.Payload))
		case packet.MethodHeartbeat:
			if m.metrics != nil {
				m.metrics.SetLastPeerHeartbeat(now)
			}
		}
	}
	return commands, nil
}

// WriteOutgoing drains the outbound queue, stamping each fresh packet via
// the integrity middleware before handing it to the active transport.
// Draining is non-blocking and unbounded per call. A write failure partway
// through the batch requeues everything from that item onward instead of
// dropping it. The failed item goes back marked stamped, so a retried write
// never re-runs ProcessOutgoing and assigns it a second sequence number;
// the items after it were never stamped and are stamped when first written.
func (m *Manager) WriteOutgoing() error {
	items := m.queue.drain()
	for i, item := range items {
		p := item.packet
		if !item.stamped {
			p = m.integrity.ProcessOutgoing(p, m.nodeIdentity)
			items[i] = outboundItem{packet: p, stamped: true}
		}
		if err := m.active.WritePacket(p); err != nil {
			m.queue.requeue(items[i:])
			return err
		}
	}
	if m.metrics != nil {
		m.metrics.SetOutboundQueueDepth(m.queue.len())
		m.metrics.SetPendingRetx(m.integrity.PendingRetxCount())
		m.metrics.SetOutOfOrder(m.integrity.OutOfOrderCount())
	}
	return nil
}

// Enqueue pushes a freshly-built packet (not yet sequence-stamped) onto
// the outbound queue, for producers other than the relay — the record
// loop's DATA packets, per SPEC_FULL.md §5 step 5.
func (m *Manager) Enqueue(p *packet.Packet) {
	m.queue.Push(p)
}

// SendHeartbeat enqueues a heartbeat packet via the relay on cadence.
// It is a no-op before HeartbeatInterval has elapsed since the previous
// call.
func (m *Manager) SendHeartbeat(now time.Time) {
	if !m.lastHeartbeat.IsZero() && now.Sub(m.lastHeartbeat) < HeartbeatInterval {
		return
	}
	m.lastHeartbeat = now
	m.relay.Heartbeat()
}
