// Package send implements the per-peer send pipeline: drain the local
// pipe, filter echo loops, remap the message id, frame, and hand off to
// the peer's transport, maintaining a retransmit ring on success.
package send

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sbn-project/sbn/internal/sbn/bus"
	"github.com/sbn-project/sbn/internal/sbn/ids"
	"github.com/sbn-project/sbn/internal/sbn/peertable"
	"github.com/sbn-project/sbn/internal/sbn/remap"
	"github.com/sbn-project/sbn/internal/sbn/sbnerrors"
	"github.com/sbn-project/sbn/internal/sbn/transport"
	"github.com/sbn-project/sbn/internal/sbn/wire"
)

// DefaultFairnessCap is how many messages a single DrainPeer pass will
// pull off one peer's pipe before yielding to the scheduler, so one busy
// peer cannot starve the others.
const DefaultFairnessCap = 100

// DefaultSentBufSize is the retransmit ring buffer length.
const DefaultSentBufSize = 64

// sentEntry is one retained frame, keyed by sequence number mod the ring
// size, for possible retransmission.
type sentEntry struct {
	seq     uint16
	payload []byte
	valid   bool
}

// Metrics is the narrow counters interface the pipeline reports send
// outcomes through; nil is a valid no-op implementation.
type Metrics interface {
	RecordSend(protocolID uint8, ok bool)
}

// Pipeline is the task-per-peer or scheduler-driven send path for one
// engine. A single process-wide mutex protects calls into transports
// that are not reentrant; acquire before Send, release on every exit
// path.
type Pipeline struct {
	Codec        *wire.Codec
	Transports   map[uint8]transport.Transport
	Remap        *remap.Table
	LocalAppName string
	FairnessCap  int
	SentBufSize  int
	Metrics      Metrics

	sendMu sync.Mutex

	ringsMu sync.Mutex
	rings   map[ids.ProcessorId][]sentEntry
}

// New constructs a Pipeline with the given codec and transport registry.
// Zero FairnessCap/SentBufSize fall back to the package defaults.
func New(codec *wire.Codec, transports map[uint8]transport.Transport, remapTable *remap.Table, localAppName string) *Pipeline {
	return &Pipeline{
		Codec:        codec,
		Transports:   transports,
		Remap:        remapTable,
		LocalAppName: localAppName,
		FairnessCap:  DefaultFairnessCap,
		SentBufSize:  DefaultSentBufSize,
		rings:        make(map[ids.ProcessorId][]sentEntry),
	}
}

func (p *Pipeline) cap() int {
	if p.FairnessCap <= 0 {
		return DefaultFairnessCap
	}
	return p.FairnessCap
}

func (p *Pipeline) ringSize() int {
	if p.SentBufSize <= 0 {
		return DefaultSentBufSize
	}
	return p.SentBufSize
}

func (p *Pipeline) ring(peerID ids.ProcessorId) []sentEntry {
	p.ringsMu.Lock()
	defer p.ringsMu.Unlock()
	r, ok := p.rings[peerID]
	if !ok {
		r = make([]sentEntry, p.ringSize())
		p.rings[peerID] = r
	}
	return r
}

// DrainPeer is the send-side half of one scheduler pass for peer: pull up
// to the fairness cap messages off pipe, filter/remap/frame/send each.
// Only meaningful while peer is Heartbeating; callers are expected to
// check that before calling.
func (p *Pipeline) DrainPeer(ctx context.Context, peer *peertable.PeerRecord, pipe bus.Pipe) {
	tr, ok := p.Transports[peer.ProtocolId]
	if !ok {
		return
	}

	for i := 0; i < p.cap(); i++ {
		msg, ok := pipe.Poll()
		if !ok {
			return
		}
		if strings.HasPrefix(msg.SenderApp, p.LocalAppName) {
			// Echo of a message SBN itself injected locally; never resend it.
			continue
		}

		id := msg.ID
		if p.Remap != nil {
			id = p.Remap.RemapMID(peer.ProcessorId, id)
			if id == 0 {
				continue
			}
		}

		p.sendAppMessage(ctx, tr, peer, id, msg.Payload)
	}
}

func (p *Pipeline) sendAppMessage(ctx context.Context, tr transport.Transport, peer *peertable.PeerRecord, id ids.MessageId, payload []byte) {
	peer.Lock()
	seq := peer.NextTxSeq
	peer.Unlock()

	envelope := wire.EncodeAppEnvelope(wire.AppEnvelope{MessageId: id, Sequence: seq, Payload: payload})

	p.sendMu.Lock()
	_, err := tr.Send(ctx, peer.Handle(), ids.MsgAppMessage, envelope)
	p.sendMu.Unlock()

	if err != nil {
		peer.Lock()
		peer.SendErrCount++
		peer.Unlock()
		p.recordMetric(peer.ProtocolId, false)
		return
	}

	ring := p.ring(peer.ProcessorId)
	ring[int(seq)%len(ring)] = sentEntry{seq: seq, payload: append([]byte(nil), envelope...), valid: true}

	peer.Lock()
	peer.SentCount++
	peer.NextTxSeq = seq + 1
	peer.Unlock()
	p.recordMetric(peer.ProtocolId, true)
}

func (p *Pipeline) recordMetric(protocolID uint8, ok bool) {
	if p.Metrics != nil {
		p.Metrics.RecordSend(protocolID, ok)
	}
}

// SendAnnounce implements state.ProtocolSender.
func (p *Pipeline) SendAnnounce(ctx context.Context, peer *peertable.PeerRecord) error {
	return p.sendControl(ctx, peer, ids.MsgAnnounce, nil)
}

// SendHeartbeat implements state.ProtocolSender.
func (p *Pipeline) SendHeartbeat(ctx context.Context, peer *peertable.PeerRecord) error {
	return p.sendControl(ctx, peer, ids.MsgHeartbeat, nil)
}

// SendControlFrame implements subscription.FrameSender.
func (p *Pipeline) SendControlFrame(ctx context.Context, peer *peertable.PeerRecord, msgType ids.MsgType, id ids.MessageId, qos ids.QoS) error {
	return p.sendControl(ctx, peer, msgType, wire.EncodeSubscription(id, qos))
}

// SendRetransmitRequest asks peer to resend the contiguous gap range.
func (p *Pipeline) SendRetransmitRequest(ctx context.Context, peer *peertable.PeerRecord, gapAfter, gapTo uint16) error {
	return p.sendControl(ctx, peer, ids.MsgRetransmitRequest, wire.EncodeRetransmitRequest(gapAfter, gapTo))
}

func (p *Pipeline) sendControl(ctx context.Context, peer *peertable.PeerRecord, msgType ids.MsgType, payload []byte) error {
	tr, ok := p.Transports[peer.ProtocolId]
	if !ok {
		return fmt.Errorf("%w: no transport registered for protocol %d", sbnerrors.ErrTransportFault, peer.ProtocolId)
	}

	p.sendMu.Lock()
	_, err := tr.Send(ctx, peer.Handle(), msgType, payload)
	p.sendMu.Unlock()

	if err != nil {
		peer.Lock()
		peer.SendErrCount++
		peer.Unlock()
		p.recordMetric(peer.ProtocolId, false)
		return fmt.Errorf("%w: %v", sbnerrors.ErrTransportFault, err)
	}
	return nil
}

// Retransmit resends the contiguous range (gapAfter, gapTo] from peer's
// retained SentBuf, used to answer a RetransmitRequest.
func (p *Pipeline) Retransmit(ctx context.Context, peer *peertable.PeerRecord, gapAfter, gapTo uint16) error {
	tr, ok := p.Transports[peer.ProtocolId]
	if !ok {
		return fmt.Errorf("%w: no transport registered for protocol %d", sbnerrors.ErrTransportFault, peer.ProtocolId)
	}

	ring := p.ring(peer.ProcessorId)
	var firstErr error
	for seq := gapAfter + 1; seq <= gapTo; seq++ {
		entry := ring[int(seq)%len(ring)]
		if !entry.valid || entry.seq != seq {
			continue
		}
		p.sendMu.Lock()
		_, err := tr.Send(ctx, peer.Handle(), ids.MsgAppMessage, entry.payload)
		p.sendMu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("%w: %v", sbnerrors.ErrTransportFault, firstErr)
	}
	return nil
}
