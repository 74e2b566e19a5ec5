// Package integrity implements the sliding-sequence reliability layer
// sitting between the transport manager and the rest of the node (C5):
// checksum admission, ACK generation, reorder buffering, gap recovery and
// outbound sequence stamping with selective-retransmit bookkeeping.
//
// Grounded on original_source/arduino/lib/Network/IntegrityMiddleware.cpp,
// re-derived from its ordering description rather than its brittle
// else-if chain (the source's HEARTBEAT branch is only reachable after
// earlier branches have already excluded HEARTBEAT, which the upstream
// spec flags as fragile). Two behaviors are intentionally changed from
// the source: a peer-requested retransmit (ACK retry=true) re-sends the
// stored outbound packet instead of emitting a second ACK, and the
// sequence space wraps at 2^16 rather than 2^16+1.
package integrity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/librescoot/mayako-node/pkg/packet"
)

// OutOfOrderMax bounds how many ahead-of-expected packets are buffered
// before the receiver jumps the gap instead of continuing to wait.
const OutOfOrderMax = 5

// RetxMaxAge bounds how long an outbound packet is kept for possible
// resend before it is evicted regardless of ACK state. The source has no
// such bound; an unbounded pending_retx would grow forever against a
// peer that never ACKs.
const RetxMaxAge = 5 * time.Second

// AckSender is the minimal collaborator the middleware needs to emit ACK
// packets; pkg/relay.Relay satisfies it.
type AckSender interface {
	Ack(payload []byte)
}

// Resender re-enqueues an already-sequenced outbound packet for another
// trip over the wire. pkg/transportmgr's outbound queue satisfies it.
type Resender interface {
	Resend(p *packet.Packet)
}

type retxEntry struct {
	packet *packet.Packet
	sentAt time.Time
}

// Metrics receives counts of the two lossy/remedial events the
// reliability layer exposes for observability (A3). Nil is valid; every
// call site guards against it.
type Metrics interface {
	IncRetransmits()
	IncGapJumps()
}

// Middleware holds all sequence-tracking state for one transport
// session. It is not safe for concurrent use and holds no lock; callers
// serialize access (the node drives it only from its event-loop
// goroutine, and the transport manager's mutex guards its outbound queue,
// not this state).
type Middleware struct {
	relay    AckSender
	resender Resender
	metrics  Metrics
	now      func() time.Time

	ackEnabled bool

	expectedInSeq uint16
	outOfOrder    map[uint16]*packet.Packet

	outSeq      uint16
	pendingRetx map[uint16]*retxEntry
}

// SetMetrics attaches an observability sink. Optional.
func (m *Middleware) SetMetrics(metrics Metrics) { m.metrics = metrics }

// SetResender attaches the resend collaborator. Exists because
// pkg/transportmgr's outbound queue (the natural Resender) is itself
// constructed after the middleware that needs to reference it; New may be
// called with a nil resender and wired up afterward.
func (m *Middleware) SetResender(resender Resender) { m.resender = resender }

// New builds a middleware with ACK/sequencing disabled by default,
// matching NET::SEND_ACK_PACKETS = false in the source.
func New(relay AckSender, resender Resender) *Middleware {
	return &Middleware{
		relay:       relay,
		resender:    resender,
		now:         time.Now,
		outOfOrder:  make(map[uint16]*packet.Packet),
		pendingRetx: make(map[uint16]*retxEntry),
	}
}

// EnableAckPackets turns on checksum/sequence admission and outbound
// retransmit tracking.
func (m *Middleware) EnableAckPackets() { m.ackEnabled = true }

// DisableAckPackets reverts to pass-through mode: every inbound packet
// is delivered unchanged, and outbound trackable packets are stamped with
// the current outbound sequence without advancing it or keeping them for
// resend.
func (m *Middleware) DisableAckPackets() { m.ackEnabled = false }

type ackPayload struct {
	SeqNum uint16 `json:"seq_num"`
	Retry  bool   `json:"retry"`
}

func (m *Middleware) sendAck(seq uint16, retry bool) {
	body, err := json.Marshal(ackPayload{SeqNum: seq, Retry: retry})
	if err != nil {
		return
	}
	m.relay.Ack(body)
}

// ProcessIncoming admits, reorders and ACKs one freshly-decoded packet,
// returning zero or more packets in delivery order (§4.4 steps 1-6).
func (m *Middleware) ProcessIncoming(p *packet.Packet) []*packet.Packet {
	if !m.ackEnabled {
		return []*packet.Packet{p}
	}

	if !packet.VerifyGoodPacket(p) {
		m.sendAck(p.Sequence, true)
		return nil
	}

	if p.Method == packet.MethodACK {
		m.processAcknowledgement(p)
		return nil
	}

	if p.Method == packet.MethodHeartbeat {
		return []*packet.Packet{p}
	}

	m.sendAck(p.Sequence, false)

	return m.admitTrackable(p)
}

// admitTrackable applies the order decision to a valid, non-ACK,
// non-heartbeat packet. It recurses once after a gap jump so the packet
// that tipped the buffer over the limit is itself still considered
// against the post-jump expectedInSeq, instead of being silently lost.
func (m *Middleware) admitTrackable(p *packet.Packet) []*packet.Packet {
	switch sequenceOrder(p.Sequence, m.expectedInSeq) {
	case orderBehind:
		return nil
	case orderEqual:
		out := []*packet.Packet{p}
		m.expectedInSeq = incrementSequence(m.expectedInSeq)
		out = append(out, m.drainOutOfOrder()...)
		return out
	default: // ahead
		if len(m.outOfOrder) < OutOfOrderMax {
			m.requestMissingPackets(p)
			return nil
		}
		out := m.jumpGap()
		return append(out, m.admitTrackable(p)...)
	}
}

type seqOrder int

const (
	orderBehind seqOrder = iota
	orderEqual
	orderAhead
)

// sequenceOrder classifies incoming relative to expected using RFC 1982
// serial-number arithmetic (the half-space rule disambiguates wrap).
func sequenceOrder(incoming, expected uint16) seqOrder {
	if incoming == expected {
		return orderEqual
	}
	// "behind": incoming < expected and the gap, measured mod 2^16, is
	// less than half the sequence space.
	if incoming < expected && (expected-incoming) < 0x8000 {
		return orderBehind
	}
	if incoming > expected && (incoming-expected) >= 0x8000 {
		return orderBehind
	}
	return orderAhead
}

// incrementSequence wraps at 2^16 (a deliberate deviation from the
// source's 2^16+1 wrap; see package doc).
func incrementSequence(seq uint16) uint16 {
	return seq + 1
}

// drainOutOfOrder repeatedly delivers the buffered packet at
// expectedInSeq and advances past it, bounded by OutOfOrderMax
// iterations. Callers must leave expectedInSeq pointing at the next
// sequence not yet delivered before calling this — it never pre-
// increments its own starting point.
func (m *Middleware) drainOutOfOrder() []*packet.Packet {
	var out []*packet.Packet
	for i := 0; i < OutOfOrderMax; i++ {
		p, ok := m.outOfOrder[m.expectedInSeq]
		if !ok {
			break
		}
		delete(m.outOfOrder, m.expectedInSeq)
		out = append(out, p)
		m.expectedInSeq = incrementSequence(m.expectedInSeq)
	}
	return out
}

// requestMissingPackets emits a retry ACK for every sequence between
// expectedInSeq and the newly arrived packet's sequence, then buffers it.
func (m *Middleware) requestMissingPackets(p *packet.Packet) {
	s := m.expectedInSeq
	for s != p.Sequence {
		m.sendAck(s, true)
		s = incrementSequence(s)
	}
	m.outOfOrder[p.Sequence] = p
}

// jumpGap is reached once the reorder buffer is full: it skips forward
// to the lowest buffered sequence above expectedInSeq, delivers it, and
// drains whatever follows it consecutively. Everything strictly between
// is permanently lost from the receiver's perspective. expectedInSeq is
// left one past the last delivered sequence, the same "next expected"
// convention drainOutOfOrder and the orderEqual branch use, so a packet
// that arrives immediately after the jump is recognised as in-order
// instead of being re-buffered as ahead.
func (m *Middleware) jumpGap() []*packet.Packet {
	if m.metrics != nil {
		m.metrics.IncGapJumps()
	}
	candidate := incrementSequence(m.expectedInSeq)
	for {
		p, ok := m.outOfOrder[candidate]
		if ok {
			delete(m.outOfOrder, candidate)
			m.expectedInSeq = incrementSequence(candidate)
			out := []*packet.Packet{p}
			out = append(out, m.drainOutOfOrder()...)
			return out
		}
		candidate = incrementSequence(candidate)
	}
}

func (m *Middleware) processAcknowledgement(p *packet.Packet) {
	var ack ackPayload
	if err := json.Unmarshal(p.Payload, &ack); err != nil {
		return
	}

	if ack.Retry {
		m.resendPending(ack.SeqNum)
	} else {
		delete(m.pendingRetx, ack.SeqNum)
	}
}

// resendPending re-sends the stored outbound packet for seq, if any —
// the deviation from the source documented in the package doc: the
// source re-emits a second ACK instead of touching the original packet.
func (m *Middleware) resendPending(seq uint16) {
	entry, ok := m.pendingRetx[seq]
	if !ok {
		return
	}
	if m.metrics != nil {
		m.metrics.IncRetransmits()
	}
	m.resender.Resend(entry.packet)
}

// ProcessOutgoing stamps identity and, for trackable methods, assigns
// the current outbound sequence. With ACK enabled it also advances the
// sequence and records the packet for possible resend.
func (m *Middleware) ProcessOutgoing(p *packet.Packet, nodeIdentity string) *packet.Packet {
	p.SetNodeIdentity(nodeIdentity)

	if p.Method == packet.MethodACK || p.Method == packet.MethodHeartbeat {
		return p
	}

	p.Sequence = m.outSeq

	if m.ackEnabled {
		m.evictStaleRetx()
		m.pendingRetx[p.Sequence] = &retxEntry{packet: p, sentAt: m.now()}
		m.outSeq = incrementSequence(m.outSeq)
	}

	return p
}

// evictStaleRetx drops any pendingRetx entry older than RetxMaxAge,
// bounding the map's growth against a peer that never ACKs (the source
// has no such bound).
func (m *Middleware) evictStaleRetx() {
	now := m.now()
	for seq, entry := range m.pendingRetx {
		if now.Sub(entry.sentAt) > RetxMaxAge {
			delete(m.pendingRetx, seq)
		}
	}
}

// PendingRetxCount reports how many outbound packets are still awaiting
// ACK confirmation. Exposed for metrics.
func (m *Middleware) PendingRetxCount() int { return len(m.pendingRetx) }

// OutOfOrderCount reports how many inbound packets are buffered ahead of
// expectedInSeq. Exposed for metrics.
func (m *Middleware) OutOfOrderCount() int { return len(m.outOfOrder) }

func (m *Middleware) String() string {
	return fmt.Sprintf("integrity(expected=%d out=%d ooo=%d retx=%d)",
		m.expectedInSeq, m.outSeq, len(m.outOfOrder), len(m.pendingRetx))
}
