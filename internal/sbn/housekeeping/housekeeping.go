// Package housekeeping periodically snapshots an Engine's peer/host
// tables and publishes the result two ways: as Prometheus gauges, and as
// a cached JSON document the debug HTTP surface (internal/sbn/httpdebug)
// serves read-only. This mirrors the housekeeping-telemetry packet
// spec.md §6 describes, minus the fixed-size wire encoding a real
// spacecraft bus would require — the JSON document is this engine's own
// operator-facing substitute for that packet.
package housekeeping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sbn-project/sbn/internal/kv"
	"github.com/sbn-project/sbn/internal/sbn/engine"
)

// SnapshotKey is the kv.KV key the latest published snapshot is stored
// under, shared by every debug-HTTP replica reading from a common cache.
const SnapshotKey = "sbn:housekeeping:snapshot"

// Config configures one Publisher.
type Config struct {
	// Interval is advisory: the caller (cmd/root.go) owns the actual
	// scheduling via gocron. Publisher itself performs one Publish per
	// call and does not run its own ticker.
	Interval time.Duration
}

// Publisher gathers Engine.Snapshot() on demand and exports it.
type Publisher struct {
	cfg    Config
	engine *engine.Engine
	store  kv.KV

	peerCount *prometheus.GaugeVec
	hostCount *prometheus.GaugeVec
	sentCount *prometheus.GaugeVec
	recvCount *prometheus.GaugeVec
	missCount *prometheus.GaugeVec
}

// New builds a Publisher bound to eng, caching published snapshots in
// store for the debug HTTP surface to read back.
func New(cfg Config, eng *engine.Engine, store kv.KV) *Publisher {
	p := &Publisher{
		cfg:    cfg,
		engine: eng,
		store:  store,
		peerCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sbn_housekeeping_peer_count",
			Help: "Number of peers configured in the engine's peer table.",
		}, nil),
		hostCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sbn_housekeeping_host_count",
			Help: "Number of hosts configured in the engine's host table.",
		}, nil),
		sentCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sbn_housekeeping_peer_sent_total",
			Help: "Messages sent to this peer since its last reset.",
		}, []string{"peer"}),
		recvCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sbn_housekeeping_peer_recv_total",
			Help: "Messages received from this peer since its last reset.",
		}, []string{"peer"}),
		missCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sbn_housekeeping_peer_miss_total",
			Help: "Sequence gaps detected from this peer since its last reset.",
		}, []string{"peer"}),
	}
	registerOrReuse(&p.peerCount)
	registerOrReuse(&p.hostCount)
	registerOrReuse(&p.sentCount)
	registerOrReuse(&p.recvCount)
	registerOrReuse(&p.missCount)
	return p
}

// registerOrReuse registers *gv with the default registerer, swapping in
// the already-registered collector instead of panicking when a Publisher
// is constructed more than once in the same process (e.g. in tests).
func registerOrReuse(gv **prometheus.GaugeVec) {
	if err := prometheus.Register(*gv); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.GaugeVec); ok {
				*gv = existing
				return
			}
		}
		slog.Error("failed to register housekeeping metric", "error", err)
	}
}

// Snapshot is the JSON-serializable document cached for the debug HTTP
// surface, mirroring engine.Snapshot's fields.
type Snapshot struct {
	PeerCount int            `json:"peer_count"`
	HostCount int            `json:"host_count"`
	Peers     []PeerSnapshot `json:"peers"`
}

// PeerSnapshot is one peer's housekeeping counters in JSON form.
type PeerSnapshot struct {
	Name         string `json:"name"`
	ProcessorId  uint32 `json:"processor_id"`
	State        string `json:"state"`
	SentCount    uint64 `json:"sent_count"`
	RecvCount    uint64 `json:"recv_count"`
	MissCount    uint64 `json:"miss_count"`
	LastSent     int64  `json:"last_sent"`
	LastReceived int64  `json:"last_received"`

	// StatusBlob is the base64 encoding of the peer's transport-reported
	// module-status blob, matching encoding/json's default []byte
	// handling. Omitted entirely when the transport has none to report.
	StatusBlob []byte `json:"status_blob,omitempty"`
}

// Publish gathers the current Engine snapshot, records it as Prometheus
// gauges, and stores its JSON encoding in the kv cache for the debug
// HTTP surface.
func (p *Publisher) Publish(ctx context.Context) {
	snap := p.engine.Snapshot()

	p.peerCount.WithLabelValues().Set(float64(snap.PeerCount))
	p.hostCount.WithLabelValues().Set(float64(snap.HostCount))

	doc := Snapshot{PeerCount: snap.PeerCount, HostCount: snap.HostCount, Peers: make([]PeerSnapshot, 0, len(snap.Peers))}
	for _, peer := range snap.Peers {
		p.sentCount.WithLabelValues(peer.Name).Set(float64(peer.SentCount))
		p.recvCount.WithLabelValues(peer.Name).Set(float64(peer.RecvCount))
		p.missCount.WithLabelValues(peer.Name).Set(float64(peer.MissCount))

		doc.Peers = append(doc.Peers, PeerSnapshot{
			Name:         peer.Name,
			ProcessorId:  uint32(peer.ProcessorId),
			State:        peer.State.String(),
			SentCount:    peer.SentCount,
			RecvCount:    peer.RecvCount,
			MissCount:    peer.MissCount,
			LastSent:     peer.LastSent,
			LastReceived: peer.LastReceived,
			StatusBlob:   peer.StatusBlob,
		})
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		slog.Error("failed to encode housekeeping snapshot", "error", err)
		return
	}
	if err := p.store.Set(ctx, SnapshotKey, encoded); err != nil {
		slog.Error("failed to cache housekeeping snapshot", "error", err)
	}
}

// Latest returns the most recently cached snapshot document, or an error
// if none has been published yet.
func (p *Publisher) Latest(ctx context.Context) ([]byte, error) {
	data, err := p.store.Get(ctx, SnapshotKey)
	if err != nil {
		return nil, fmt.Errorf("no housekeeping snapshot published yet: %w", err)
	}
	return data, nil
}
