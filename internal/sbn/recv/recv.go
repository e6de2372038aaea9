// Package recv implements the per-peer receive pipeline: poll the
// transport, unframe, sequence-check against gaps, and inject in-order
// application messages onto the local bus.
package recv

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sbn-project/sbn/internal/sbn/bus"
	"github.com/sbn-project/sbn/internal/sbn/ids"
	"github.com/sbn-project/sbn/internal/sbn/peertable"
	"github.com/sbn-project/sbn/internal/sbn/subscription"
	"github.com/sbn-project/sbn/internal/sbn/transport"
	"github.com/sbn-project/sbn/internal/sbn/wire"
)

// deferredEntry parks an out-of-order AppMessage until the gap ahead of
// it is filled.
type deferredEntry struct {
	envelope wire.AppEnvelope
	valid    bool
}

// Retransmitter is the narrow capability the receive pipeline needs from
// the send pipeline to answer a detected gap.
type Retransmitter interface {
	SendRetransmitRequest(ctx context.Context, peer *peertable.PeerRecord, gapAfter, gapTo uint16) error
	Retransmit(ctx context.Context, peer *peertable.PeerRecord, gapAfter, gapTo uint16) error
}

// ReceiveNotifier is the narrow capability the receive pipeline needs
// from the state machine: record that something arrived from a peer.
type ReceiveNotifier interface {
	OnReceive(ctx context.Context, peer *peertable.PeerRecord, localSubs map[ids.MessageId]ids.QoS)
}

// Metrics is the narrow counters interface the pipeline reports receive
// outcomes through; nil is a valid no-op implementation.
type Metrics interface {
	RecordRecv(protocolID uint8, outcome string)
}

// Pipeline is the receive-side path for one engine.
type Pipeline struct {
	Bus           bus.Bus
	Transports    map[uint8]transport.Transport
	PeerByID      func(ids.ProcessorId) *peertable.PeerRecord
	PipeByID      func(ids.ProcessorId) bus.Pipe
	LocalSubs     func() map[ids.MessageId]ids.QoS
	Retransmitter Retransmitter
	State         ReceiveNotifier
	Metrics       Metrics

	deferred map[ids.ProcessorId]deferredEntry
}

// New constructs a Pipeline.
func New(b bus.Bus, transports map[uint8]transport.Transport) *Pipeline {
	return &Pipeline{Bus: b, Transports: transports, deferred: make(map[ids.ProcessorId]deferredEntry)}
}

// PollPeer performs one receive attempt for peer through its configured
// transport and processes the result if anything arrived.
func (p *Pipeline) PollPeer(ctx context.Context, peer *peertable.PeerRecord) {
	tr, ok := p.Transports[peer.ProtocolId]
	if !ok {
		return
	}

	msgType, cpuID, payload, err := tr.Recv(ctx, peer.Handle())
	if err != nil {
		if errors.Is(err, transport.ErrEmpty) {
			return
		}
		peer.Lock()
		peer.RecvErrCount++
		peer.Unlock()
		p.recordMetric(peer.ProtocolId, "error")
		slog.Debug("transport recv failed", "peer", peer.Name, "error", err)
		return
	}

	// The frame's source may differ from the peer instance that was
	// polled -- datagram links can multiplex several peers over one
	// socket -- so always re-resolve by CpuId.
	source := p.PeerByID(cpuID)
	if source == nil {
		p.recordMetric(peer.ProtocolId, "unknown_sender")
		slog.Debug("dropping frame from unconfigured sender", "cpu_id", cpuID)
		return
	}

	p.handleFrame(ctx, source, msgType, payload)
}

func (p *Pipeline) recordMetric(protocolID uint8, outcome string) {
	if p.Metrics != nil {
		p.Metrics.RecordRecv(protocolID, outcome)
	}
}

func (p *Pipeline) handleFrame(ctx context.Context, peer *peertable.PeerRecord, msgType ids.MsgType, payload []byte) {
	peer.Lock()
	peer.RecvCount++
	peer.Unlock()

	if p.State != nil {
		var subs map[ids.MessageId]ids.QoS
		if p.LocalSubs != nil {
			subs = p.LocalSubs()
		}
		p.State.OnReceive(ctx, peer, subs)
	}

	switch msgType {
	case ids.MsgAnnounce, ids.MsgHeartbeat:
		p.recordMetric(peer.ProtocolId, "ok")

	case ids.MsgSubscribe, ids.MsgUnsubscribe:
		p.handleSubscription(peer, msgType, payload)

	case ids.MsgAppMessage:
		p.handleAppMessage(ctx, peer, payload)

	case ids.MsgRetransmitRequest:
		p.handleRetransmitRequest(ctx, peer, payload)

	default:
		slog.Debug("dropping frame of unknown type", "peer", peer.Name, "type", msgType)
	}
}

func (p *Pipeline) handleSubscription(peer *peertable.PeerRecord, msgType ids.MsgType, payload []byte) {
	id, qos, err := wire.DecodeSubscription(payload)
	if err != nil {
		p.recordMetric(peer.ProtocolId, "truncated")
		return
	}
	pipe := p.pipeFor(peer)
	if pipe == nil {
		return
	}
	if err := subscription.HandleIncoming(peer, pipe, msgType, id, qos); err != nil {
		slog.Debug("failed to apply incoming subscription", "peer", peer.Name, "error", err)
	}
	p.recordMetric(peer.ProtocolId, "ok")
}

func (p *Pipeline) pipeFor(peer *peertable.PeerRecord) bus.Pipe {
	if p.PipeByID == nil {
		return nil
	}
	return p.PipeByID(peer.ProcessorId)
}

// handleAppMessage implements the gap-detection state table: an
// in-sequence message is injected and advances NextRxSeq; a leading
// message is parked in DeferredBuf with (GapAfter, GapTo) recorded and a
// retransmit requested; a lagging message is a duplicate.
func (p *Pipeline) handleAppMessage(ctx context.Context, peer *peertable.PeerRecord, payload []byte) {
	env, err := wire.DecodeAppEnvelope(payload)
	if err != nil {
		p.recordMetric(peer.ProtocolId, "truncated")
		return
	}

	peer.Lock()
	expected := peer.NextRxSeq
	peer.Unlock()

	switch {
	case env.Sequence == expected:
		p.inject(peer, env)
		p.drainDeferredChain(ctx, peer)

	case seqLeads(env.Sequence, expected):
		peer.Lock()
		peer.GapAfter = expected - 1
		peer.GapTo = env.Sequence - 1
		peer.HasGap = true
		peer.Unlock()
		p.deferred[peer.ProcessorId] = deferredEntry{envelope: env, valid: true}
		if p.Retransmitter != nil {
			if err := p.Retransmitter.SendRetransmitRequest(ctx, peer, expected-1, env.Sequence-1); err != nil {
				slog.Debug("failed to request retransmit", "peer", peer.Name, "error", err)
			}
		}
		p.recordMetric(peer.ProtocolId, "gap")

	default:
		peer.Lock()
		peer.MissCount++
		peer.Unlock()
		p.recordMetric(peer.ProtocolId, "duplicate")
	}
}

// seqLeads reports whether seq is strictly ahead of expected, accounting
// for 16-bit wraparound.
func seqLeads(seq, expected uint16) bool {
	return int16(seq-expected) > 0
}

func (p *Pipeline) inject(peer *peertable.PeerRecord, env wire.AppEnvelope) {
	if err := p.Bus.Publish(bus.Message{ID: env.MessageId, Payload: env.Payload}); err != nil {
		slog.Debug("failed to publish received message", "peer", peer.Name, "error", err)
		return
	}
	peer.Lock()
	peer.NextRxSeq = env.Sequence + 1
	peer.InOrderCount++
	peer.Unlock()
	p.recordMetric(peer.ProtocolId, "ok")
}

// drainDeferredChain injects any parked message(s) that are now
// contiguous with NextRxSeq after a gap fill.
func (p *Pipeline) drainDeferredChain(ctx context.Context, peer *peertable.PeerRecord) {
	for {
		entry, ok := p.deferred[peer.ProcessorId]
		if !ok || !entry.valid {
			return
		}
		peer.Lock()
		expected := peer.NextRxSeq
		peer.Unlock()
		if entry.envelope.Sequence != expected {
			return
		}
		delete(p.deferred, peer.ProcessorId)
		peer.Lock()
		peer.HasGap = false
		peer.Unlock()
		p.inject(peer, entry.envelope)
	}
}

func (p *Pipeline) handleRetransmitRequest(ctx context.Context, peer *peertable.PeerRecord, payload []byte) {
	gapAfter, gapTo, err := wire.DecodeRetransmitRequest(payload)
	if err != nil {
		p.recordMetric(peer.ProtocolId, "truncated")
		return
	}
	if p.Retransmitter == nil {
		return
	}
	if err := p.Retransmitter.Retransmit(ctx, peer, gapAfter, gapTo); err != nil {
		slog.Debug("failed to retransmit gap range", "peer", peer.Name, "error", err)
	}
}
