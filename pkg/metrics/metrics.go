// Package metrics exposes the node's observability surface (A3) over
// Prometheus, grounded on github.com/prometheus/client_golang, the
// metrics stack carried over from the runZeroInc example repos since
// none of spec.md's Non-goals exclude ambient observability.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the node's counters and gauges. A zero-value Metrics
// is not usable; always construct with New.
type Metrics struct {
	outboundQueueDepth prometheus.Gauge
	activeTransport    *prometheus.GaugeVec
	retransmits        prometheus.Counter
	gapJumps           prometheus.Counter
	pendingRetx        prometheus.Gauge
	outOfOrder         prometheus.Gauge
	lastPeerHeartbeat  prometheus.Gauge

	transports []string
}

// New registers every node metric against reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests) or
// prometheus.DefaultRegisterer for production use. transports lists the
// transport names that will ever be reported active, so their gauge
// series exist (at 0) even before the first promotion.
func New(reg prometheus.Registerer, transports []string) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		outboundQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mayako_outbound_queue_depth",
			Help: "Number of packets currently queued for transmission.",
		}),
		activeTransport: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mayako_active_transport",
			Help: "1 for the currently active transport, 0 for others.",
		}, []string{"transport"}),
		retransmits: factory.NewCounter(prometheus.CounterOpts{
			Name: "mayako_retransmits_total",
			Help: "Outbound packets resent in response to a peer retry request.",
		}),
		gapJumps: factory.NewCounter(prometheus.CounterOpts{
			Name: "mayako_gap_jumps_total",
			Help: "Times the reorder buffer overflowed and the receiver jumped a sequence gap.",
		}),
		pendingRetx: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mayako_pending_retx",
			Help: "Outbound packets awaiting peer ACK confirmation.",
		}),
		outOfOrder: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mayako_out_of_order_buffered",
			Help: "Inbound packets buffered ahead of the expected sequence.",
		}),
		lastPeerHeartbeat: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mayako_last_peer_heartbeat_unix_seconds",
			Help: "Unix timestamp of the most recently observed peer heartbeat.",
		}),
		transports: transports,
	}

	for _, name := range transports {
		m.activeTransport.WithLabelValues(name).Set(0)
	}

	return m
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler { return promhttp.Handler() }

// SetOutboundQueueDepth records the outbound queue's current length.
func (m *Metrics) SetOutboundQueueDepth(n int) {
	m.outboundQueueDepth.Set(float64(n))
}

// SetActiveTransport marks name as active and every other known
// transport as inactive.
func (m *Metrics) SetActiveTransport(name string) {
	for _, t := range m.transports {
		v := 0.0
		if t == name {
			v = 1.0
		}
		m.activeTransport.WithLabelValues(t).Set(v)
	}
}

// IncRetransmits counts one outbound packet resent on peer request.
func (m *Metrics) IncRetransmits() { m.retransmits.Inc() }

// IncGapJumps counts one reorder-buffer overflow jump.
func (m *Metrics) IncGapJumps() { m.gapJumps.Inc() }

// SetPendingRetx records the current size of pending_retx.
func (m *Metrics) SetPendingRetx(n int) { m.pendingRetx.Set(float64(n)) }

// SetOutOfOrder records the current size of out_of_order.
func (m *Metrics) SetOutOfOrder(n int) { m.outOfOrder.Set(float64(n)) }

// SetLastPeerHeartbeat records the time a HEARTBEAT packet was last
// observed from the peer. Absence of updates is the only signal; the
// transport is never torn down on account of it (spec.md §9).
func (m *Metrics) SetLastPeerHeartbeat(t time.Time) {
	m.lastPeerHeartbeat.Set(float64(t.Unix()))
}
