package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sbn-project/sbn/internal/sbn/ids"
)

// Metrics implements the narrow Metrics interfaces declared by the send,
// recv, and state packages, backed by Prometheus collectors. A process
// normally constructs one Metrics and shares it across every Engine it
// runs.
type Metrics struct {
	SendTotal        *prometheus.CounterVec
	RecvTotal        *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers the SBN metric collectors against
// the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		SendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sbn_send_total",
			Help: "The total number of frames sent per protocol, by outcome",
		}, []string{"protocol", "outcome"}),
		RecvTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sbn_recv_total",
			Help: "The total number of frames received per protocol, by outcome",
		}, []string{"protocol", "outcome"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sbn_peer_state_transitions_total",
			Help: "The total number of peer lifecycle state transitions, by from/to state",
		}, []string{"from", "to"}),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	prometheus.MustRegister(m.SendTotal)
	prometheus.MustRegister(m.RecvTotal)
	prometheus.MustRegister(m.TransitionsTotal)
}

// RecordSend implements send.Metrics.
func (m *Metrics) RecordSend(protocolID uint8, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.SendTotal.WithLabelValues(strconv.Itoa(int(protocolID)), outcome).Inc()
}

// RecordRecv implements recv.Metrics.
func (m *Metrics) RecordRecv(protocolID uint8, outcome string) {
	m.RecvTotal.WithLabelValues(strconv.Itoa(int(protocolID)), outcome).Inc()
}

// RecordTransition implements state.Metrics.
func (m *Metrics) RecordTransition(from, to ids.PeerState) {
	m.TransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
}
