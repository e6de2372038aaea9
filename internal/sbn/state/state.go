// Package state implements the peer lifecycle state machine:
// Announcing/Heartbeating/Unreachable, driven by a periodic tick and by
// receive events.
package state

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sbn-project/sbn/internal/sbn/bus"
	"github.com/sbn-project/sbn/internal/sbn/ids"
	"github.com/sbn-project/sbn/internal/sbn/peertable"
	"github.com/sbn-project/sbn/internal/sbn/subscription"
	"github.com/sbn-project/sbn/internal/sbn/transport"
)

// ProtocolSender emits the bare liveness frames the state machine owns.
// Subscription frames go through subscription.FrameSender instead.
type ProtocolSender interface {
	SendAnnounce(ctx context.Context, peer *peertable.PeerRecord) error
	SendHeartbeat(ctx context.Context, peer *peertable.PeerRecord) error
}

// Config holds the timing parameters driving one Machine. LossThreshold
// should exceed HeartbeatInterval by a margin (suggested 3x) to tolerate
// jitter.
type Config struct {
	AnnounceInterval  time.Duration
	HeartbeatInterval time.Duration
	LossThreshold     time.Duration
	// MaxConsecutiveSendErrors is the ceiling on SendErrCount, while
	// Heartbeating, past which a peer is parked in Unreachable. The
	// transition table names no automatic trigger into Unreachable
	// beyond "terminal, requires ResetPeer" -- this is the chosen
	// concrete trigger; zero disables it (peers never go Unreachable
	// except by explicit caller action). SendErrCount counts every failed
	// send since the peer's last reset and a successful send does not
	// clear it, so the errors counted need not be consecutive.
	MaxConsecutiveSendErrors uint64
}

// Metrics is the narrow counters interface the state machine reports
// transitions through; nil is a valid no-op implementation.
type Metrics interface {
	RecordTransition(from, to ids.PeerState)
}

// Machine drives one engine's peer lifecycle transitions.
type Machine struct {
	cfg     Config
	now     func() time.Time
	sender  ProtocolSender
	mirror  *subscription.Mirror
	// Metrics receives transition counts; it may be replaced after New
	// (cmd wires the Prometheus collector this way). nil disables it.
	Metrics Metrics
}

// New constructs a Machine. now defaults to time.Now when nil, overridable
// in tests for deterministic tick behavior.
func New(cfg Config, sender ProtocolSender, mirror *subscription.Mirror, metrics Metrics, now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{cfg: cfg, now: now, sender: sender, mirror: mirror, Metrics: metrics}
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (m *Machine) transition(peer *peertable.PeerRecord, to ids.PeerState) {
	peer.Lock()
	from := peer.State
	peer.State = to
	peer.Unlock()
	if from == to {
		return
	}
	slog.Debug("peer state transition", "peer", peer.Name, "from", from, "to", to)
	if m.Metrics != nil {
		m.Metrics.RecordTransition(from, to)
	}
}

// Tick drives one periodic pass for peer: emits Announce/Heartbeat frames
// as their intervals elapse and detects heartbeat loss.
func (m *Machine) Tick(ctx context.Context, peer *peertable.PeerRecord, pipe bus.Pipe) {
	now := m.now()

	peer.Lock()
	st := peer.State
	lastSent := peer.LastSent
	lastReceived := peer.LastReceived
	sendErrs := peer.SendErrCount
	peer.Unlock()

	switch st {
	case ids.StateAnnouncing:
		if now.Sub(fromUnixNano(lastSent)) >= m.cfg.AnnounceInterval {
			if err := m.sender.SendAnnounce(ctx, peer); err == nil {
				peer.Lock()
				peer.LastSent = now.UnixNano()
				peer.Unlock()
			}
		}

	case ids.StateHeartbeating:
		if m.cfg.MaxConsecutiveSendErrors > 0 && sendErrs >= m.cfg.MaxConsecutiveSendErrors {
			m.transition(peer, ids.StateUnreachable)
			return
		}
		if now.Sub(fromUnixNano(lastReceived)) >= m.cfg.LossThreshold {
			m.transition(peer, ids.StateAnnouncing)
			subscription.ClearRemote(peer, pipe)
			return
		}
		if now.Sub(fromUnixNano(lastSent)) >= m.cfg.HeartbeatInterval {
			if err := m.sender.SendHeartbeat(ctx, peer); err == nil {
				peer.Lock()
				peer.LastSent = now.UnixNano()
				peer.Unlock()
			}
		}

	case ids.StateUnreachable:
		// Terminal until an operator reset.
	}
}

// OnReceive records that something arrived from peer and, if peer was
// Announcing, promotes it to Heartbeating and sends the batched local
// subscription set.
func (m *Machine) OnReceive(ctx context.Context, peer *peertable.PeerRecord, localSubs map[ids.MessageId]ids.QoS) {
	peer.Lock()
	now := m.now().UnixNano()
	peer.LastReceived = now
	wasAnnouncing := peer.State == ids.StateAnnouncing
	peer.Unlock()

	if !wasAnnouncing {
		return
	}
	m.transition(peer, ids.StateHeartbeating)
	if m.mirror != nil {
		m.mirror.BatchOnConnect(ctx, peer, localSubs)
	}
}

// Reset handles an operator reset command: invokes the transport's
// ResetPeer, clears mirrored-in subscriptions, and returns the peer to
// Announcing without reallocation.
func Reset(tr transport.Transport, peer *peertable.PeerRecord, hosts []*transport.HostHandle, pipe bus.Pipe) error {
	handle := peer.Handle()
	err := tr.ResetPeer(handle, hosts)
	subscription.ClearRemote(peer, pipe)
	peer.Reset()
	if err != nil && !errors.Is(err, transport.ErrNotImplemented) {
		return err
	}
	return nil
}
