// Package subscription implements the two-way mirroring between the
// local bus's subscription set and the Subscribe/Unsubscribe frames
// exchanged with Heartbeating peers.
package subscription

import (
	"context"
	"log/slog"

	"github.com/sbn-project/sbn/internal/sbn/bus"
	"github.com/sbn-project/sbn/internal/sbn/ids"
	"github.com/sbn-project/sbn/internal/sbn/peertable"
)

// FrameSender emits a Subscribe/Unsubscribe frame to one peer. The send
// pipeline supplies this so the mirror never has to know about framing
// or transports directly.
type FrameSender interface {
	SendControlFrame(ctx context.Context, peer *peertable.PeerRecord, msgType ids.MsgType, id ids.MessageId, qos ids.QoS) error
}

// Mirror ties a local Bus to a set of peers, keeping each peer's view of
// the local subscription set (outgoing) and the local bus's view of each
// peer's advertised subscriptions (incoming) synchronized.
type Mirror struct {
	LocalAppName string
	sender       FrameSender
	table        *peertable.Table
}

// NewMirror constructs a Mirror. localAppName is recorded as LocalAppName
// but not consulted by the Mirror; the Send Pipeline is what actually
// filters SBN's own echoes.
func NewMirror(sender FrameSender, table *peertable.Table, localAppName string) *Mirror {
	return &Mirror{LocalAppName: localAppName, sender: sender, table: table}
}

// WatchLocalBus registers the outgoing half of the mirror: whenever a
// MessageId gains its first or loses its last subscriber on the local
// bus, mirror that change out to every Heartbeating peer.
func (m *Mirror) WatchLocalBus(b bus.Bus) {
	b.Watch(func(id ids.MessageId, qos ids.QoS, added bool) {
		m.MirrorOut(context.Background(), id, qos, added)
	})
}

// MirrorOut sends a Subscribe (added) or Unsubscribe (!added) frame for
// id to every currently Heartbeating peer.
func (m *Mirror) MirrorOut(ctx context.Context, id ids.MessageId, qos ids.QoS, added bool) {
	msgType := ids.MsgUnsubscribe
	if added {
		msgType = ids.MsgSubscribe
	}
	for _, peer := range m.table.Peers() {
		peer.Lock()
		state := peer.State
		peer.Unlock()
		if state != ids.StateHeartbeating {
			continue
		}
		if err := m.sender.SendControlFrame(ctx, peer, msgType, id, qos); err != nil {
			slog.Debug("failed to mirror subscription", "peer", peer.Name, "id", id, "error", err)
		}
	}
}

// BatchOnConnect sends the full current local subscription set to peer,
// called when a peer transitions Announcing -> Heartbeating.
func (m *Mirror) BatchOnConnect(ctx context.Context, peer *peertable.PeerRecord, localSubs map[ids.MessageId]ids.QoS) {
	for id, qos := range localSubs {
		if err := m.sender.SendControlFrame(ctx, peer, ids.MsgSubscribe, id, qos); err != nil {
			slog.Debug("failed to send batched subscription", "peer", peer.Name, "id", id, "error", err)
		}
	}
}

// HandleIncoming applies a Subscribe/Unsubscribe frame received from
// peer to peer's per-peer pipe, mutating its mirrored-in set.
func HandleIncoming(peer *peertable.PeerRecord, pipe bus.Pipe, msgType ids.MsgType, id ids.MessageId, qos ids.QoS) error {
	peer.Lock()
	defer peer.Unlock()

	switch msgType {
	case ids.MsgSubscribe:
		peer.Subs[id] = qos
		return pipe.Subscribe(id, qos)
	case ids.MsgUnsubscribe:
		delete(peer.Subs, id)
		return pipe.Unsubscribe(id)
	default:
		return nil
	}
}

// ClearRemote drops every remembered remote subscription for peer and
// drains its pipe, called on transition back to Announcing.
func ClearRemote(peer *peertable.PeerRecord, pipe bus.Pipe) {
	peer.Lock()
	remoteIDs := make([]ids.MessageId, 0, len(peer.Subs))
	for id := range peer.Subs {
		remoteIDs = append(remoteIDs, id)
	}
	peer.Subs = make(map[ids.MessageId]ids.QoS)
	peer.Unlock()

	for _, id := range remoteIDs {
		_ = pipe.Unsubscribe(id)
	}
	pipe.Drain()
}
