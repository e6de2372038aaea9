package send_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbn-project/sbn/internal/sbn/bus"
	"github.com/sbn-project/sbn/internal/sbn/ids"
	"github.com/sbn-project/sbn/internal/sbn/peertable"
	"github.com/sbn-project/sbn/internal/sbn/remap"
	"github.com/sbn-project/sbn/internal/sbn/send"
	"github.com/sbn-project/sbn/internal/sbn/transport"
	"github.com/sbn-project/sbn/internal/sbn/transport/loopback"
	"github.com/sbn-project/sbn/internal/sbn/wire"
)

func newPeer(procID ids.ProcessorId) *peertable.PeerRecord {
	return &peertable.PeerRecord{Name: "peer", ProcessorId: procID, Subs: map[ids.MessageId]ids.QoS{}}
}

func TestDrainPeerFiltersEchoAndSendsOthers(t *testing.T) {
	t.Parallel()
	tr := loopback.New()
	host := &transport.HostHandle{NetNum: 1}
	require.NoError(t, tr.InitHost(host))

	peer := newPeer(2)
	peer.NetNum = 2
	handle := peer.Handle()
	require.NoError(t, tr.LoadEntry([]string{"1"}, handle))
	peer.PrivateState = handle.PrivateState

	b := bus.NewMemoryBus()
	pipe, err := b.CreatePipe("peer-pipe")
	require.NoError(t, err)
	require.NoError(t, pipe.Subscribe(0x0801, 0))

	require.NoError(t, b.Publish(bus.Message{ID: 0x0801, SenderApp: "SBN", Payload: []byte{1}}))
	require.NoError(t, b.Publish(bus.Message{ID: 0x0801, SenderApp: "OtherApp", Payload: []byte{2}}))

	pipeline := send.New(wire.NewCodec(256), map[uint8]transport.Transport{0: tr}, nil, "SBN")
	pipeline.DrainPeer(context.Background(), peer, pipe)

	assert.EqualValues(t, 1, peer.SentCount)
	assert.EqualValues(t, 1, peer.NextTxSeq)
}

func TestDrainPeerDropsOnRemapMiss(t *testing.T) {
	t.Parallel()
	tr := loopback.New()
	host := &transport.HostHandle{NetNum: 1}
	require.NoError(t, tr.InitHost(host))

	peer := newPeer(2)
	peer.NetNum = 2
	handle := peer.Handle()
	require.NoError(t, tr.LoadEntry([]string{"1"}, handle))
	peer.PrivateState = handle.PrivateState

	tbl, err := remap.New(nil, ids.PolicyDrop)
	require.NoError(t, err)

	b := bus.NewMemoryBus()
	pipe, err := b.CreatePipe("peer-pipe")
	require.NoError(t, err)
	require.NoError(t, pipe.Subscribe(0x0802, 0))
	require.NoError(t, b.Publish(bus.Message{ID: 0x0802, SenderApp: "App", Payload: []byte{1}}))

	pipeline := send.New(wire.NewCodec(256), map[uint8]transport.Transport{0: tr}, tbl, "SBN")
	pipeline.DrainPeer(context.Background(), peer, pipe)

	assert.EqualValues(t, 0, peer.SentCount)
}

func TestSendAnnounceAndHeartbeat(t *testing.T) {
	t.Parallel()
	tr := loopback.New()
	host := &transport.HostHandle{NetNum: 1}
	require.NoError(t, tr.InitHost(host))
	peer := newPeer(2)
	peer.NetNum = 2
	handle := peer.Handle()
	require.NoError(t, tr.LoadEntry([]string{"1"}, handle))
	peer.PrivateState = handle.PrivateState

	pipeline := send.New(wire.NewCodec(256), map[uint8]transport.Transport{0: tr}, nil, "SBN")
	require.NoError(t, pipeline.SendAnnounce(context.Background(), peer))
	require.NoError(t, pipeline.SendHeartbeat(context.Background(), peer))
}
