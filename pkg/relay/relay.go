// Package relay implements the process-wide sink for outbound control
// packets (C2): info, debug, error, ack and heartbeat. Grounded on
// original_source/arduino/lib/Network/PacketRelay.cpp and
// original_source/arduino/lib/Utils/Logger.cpp, collapsed into the single
// component the spec describes, generalized from a hand-rolled C++
// singleton into an explicit dependency passed at construction time
// (spec.md §9, "Singletons (relay, logger) -> explicit dependency").
package relay

import (
	"log"
	"sync"

	"github.com/librescoot/mayako-node/pkg/packet"
)

// Queue is the minimal contract the relay needs from its outbound sink.
// pkg/transportmgr's outboundQueue satisfies this.
type Queue interface {
	Push(p *packet.Packet)
}

// Relay pushes control packets onto a queue assigned once, on first write.
// Re-assigning the queue after that is a no-op, which prevents a subsystem
// from silently losing its log destination if it is re-wired later.
type Relay struct {
	mu        sync.Mutex
	queue     Queue
	debugging bool
}

// New creates a relay with no queue assigned yet.
func New() *Relay {
	return &Relay{}
}

// SetQueue assigns the outbound queue. Only the first call takes effect.
func (r *Relay) SetQueue(q Queue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queue == nil {
		r.queue = q
	}
}

// EnableDebugMode turns on emission of DEBUG packets.
func (r *Relay) EnableDebugMode() {
	r.mu.Lock()
	r.debugging = true
	r.mu.Unlock()
}

// DisableDebugMode suppresses DEBUG packets (the default).
func (r *Relay) DisableDebugMode() {
	r.mu.Lock()
	r.debugging = false
	r.mu.Unlock()
}

func (r *Relay) push(method packet.Method, payload []byte) {
	r.mu.Lock()
	q := r.queue
	r.mu.Unlock()
	if q == nil {
		return
	}
	q.Push(packet.New(method, payload))
}

// Info emits an INFO packet. Used for command replies.
func (r *Relay) Info(payload []byte) {
	r.push(packet.MethodInfo, payload)
}

// Debug emits a DEBUG packet when debug mode is enabled; always mirrored
// to the local operator log regardless of debug mode, matching the
// teacher's habit of logging locally in addition to whatever it streams.
func (r *Relay) Debug(payload []byte) {
	r.mu.Lock()
	enabled := r.debugging
	r.mu.Unlock()

	log.Printf("debug: %s", payload)
	if !enabled {
		return
	}
	r.push(packet.MethodDebug, payload)
}

// Error emits an ERROR packet and logs it locally.
func (r *Relay) Error(payload []byte) {
	log.Printf("error: %s", payload)
	r.push(packet.MethodError, payload)
}

// Ack emits an ACK packet carrying a {"seq_num":...,"retry":...} payload.
func (r *Relay) Ack(payload []byte) {
	r.push(packet.MethodACK, payload)
}

// Heartbeat emits a HEARTBEAT packet with an empty JSON body.
func (r *Relay) Heartbeat() {
	r.push(packet.MethodHeartbeat, []byte("{}"))
}
