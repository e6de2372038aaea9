package subscription_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbn-project/sbn/internal/sbn/bus"
	"github.com/sbn-project/sbn/internal/sbn/ids"
	"github.com/sbn-project/sbn/internal/sbn/peertable"
	"github.com/sbn-project/sbn/internal/sbn/subscription"
	"github.com/sbn-project/sbn/internal/sbn/transport"
)

// noopTransport is the minimal transport.Transport needed to load a
// peertable.Table for these tests; nothing here ever sends a real frame.
type noopTransport struct{}

func (noopTransport) LoadEntry(_ []string, _ *transport.PeerHandle) error { return nil }
func (noopTransport) InitHost(*transport.HostHandle) error                { return nil }
func (noopTransport) InitPeer(*transport.PeerHandle) error                { return nil }
func (noopTransport) Send(context.Context, *transport.PeerHandle, ids.MsgType, []byte) (int, error) {
	return 0, nil
}
func (noopTransport) Recv(context.Context, *transport.PeerHandle) (ids.MsgType, ids.ProcessorId, []byte, error) {
	return 0, 0, nil, transport.ErrEmpty
}
func (noopTransport) VerifyPeer(*transport.PeerHandle, []*transport.HostHandle) transport.Validity {
	return transport.Valid
}
func (noopTransport) VerifyHost(*transport.HostHandle, []*transport.PeerHandle) transport.Validity {
	return transport.Valid
}
func (noopTransport) ReportStatus(*transport.PeerHandle, []*transport.HostHandle) ([]byte, error) {
	return nil, transport.ErrNotImplemented
}
func (noopTransport) ResetPeer(*transport.PeerHandle, []*transport.HostHandle) error {
	return transport.ErrNotImplemented
}

// recordedFrame is one SendControlFrame call captured by fakeSender.
type recordedFrame struct {
	peer    string
	msgType ids.MsgType
	id      ids.MessageId
	qos     ids.QoS
}

type fakeSender struct {
	frames []recordedFrame
}

func (s *fakeSender) SendControlFrame(_ context.Context, peer *peertable.PeerRecord, msgType ids.MsgType, id ids.MessageId, qos ids.QoS) error {
	s.frames = append(s.frames, recordedFrame{peer: peer.Name, msgType: msgType, id: id, qos: qos})
	return nil
}

// buildTable loads a table with two peers, "heartbeating" and
// "announcing" named for the state the test puts them in afterward.
func buildTable(t *testing.T) *peertable.Table {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "peers.dat")
	contents := "heartbeating,2,0,1,0,0;announcing,3,0,1,0,0!"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	tbl := peertable.NewTable(1, 1, 16, 16)
	require.NoError(t, peertable.Load(tbl, map[uint8]transport.Transport{0: noopTransport{}}, path))
	for _, p := range tbl.Peers() {
		if p.Name == "heartbeating" {
			p.Lock()
			p.State = ids.StateHeartbeating
			p.Unlock()
		}
	}
	return tbl
}

func TestMirrorOutOnlyReachesHeartbeatingPeers(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	tbl := buildTable(t)
	m := subscription.NewMirror(sender, tbl, "APP")

	m.MirrorOut(context.Background(), 0x1234, 2, true)

	require.Len(t, sender.frames, 1)
	assert.Equal(t, "heartbeating", sender.frames[0].peer)
	assert.Equal(t, ids.MsgSubscribe, sender.frames[0].msgType)
	assert.EqualValues(t, 2, sender.frames[0].qos)
}

func TestMirrorOutUnsubscribeSendsUnsubscribeFrame(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	tbl := buildTable(t)
	m := subscription.NewMirror(sender, tbl, "APP")

	m.MirrorOut(context.Background(), 0x1234, 0, false)

	require.Len(t, sender.frames, 1)
	assert.Equal(t, ids.MsgUnsubscribe, sender.frames[0].msgType)
}

// TestWatchLocalBusThreadsSubscriberQoS verifies the end-to-end path from
// a local bus.Pipe.Subscribe call through to the mirrored Subscribe frame
// carrying that same QoS, not a hardcoded default.
func TestWatchLocalBusThreadsSubscriberQoS(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	tbl := buildTable(t)
	m := subscription.NewMirror(sender, tbl, "APP")

	b := bus.NewMemoryBus()
	defer b.Close()
	m.WatchLocalBus(b)

	pipe, err := b.CreatePipe("local")
	require.NoError(t, err)

	require.NoError(t, pipe.Subscribe(0x55, 3))
	require.NoError(t, pipe.Unsubscribe(0x55))

	require.Len(t, sender.frames, 2)
	assert.Equal(t, ids.MsgSubscribe, sender.frames[0].msgType)
	assert.EqualValues(t, 3, sender.frames[0].qos)
	assert.Equal(t, ids.MsgUnsubscribe, sender.frames[1].msgType)
	assert.EqualValues(t, 3, sender.frames[1].qos)
}

func TestBatchOnConnectSendsEverySubscription(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	tbl := buildTable(t)
	m := subscription.NewMirror(sender, tbl, "APP")
	peer := tbl.Peers()[0]

	localSubs := map[ids.MessageId]ids.QoS{0x1: 0, 0x2: 1}
	m.BatchOnConnect(context.Background(), peer, localSubs)

	require.Len(t, sender.frames, 2)
	for _, f := range sender.frames {
		assert.Equal(t, ids.MsgSubscribe, f.msgType)
		assert.Equal(t, localSubs[f.id], f.qos)
	}
}

func TestHandleIncomingSubscribeUpdatesPeerAndPipe(t *testing.T) {
	t.Parallel()
	tbl := buildTable(t)
	peer := tbl.Peers()[0]
	b := bus.NewMemoryBus()
	defer b.Close()
	pipe, err := b.CreatePipe(peer.Name)
	require.NoError(t, err)

	require.NoError(t, subscription.HandleIncoming(peer, pipe, ids.MsgSubscribe, 0x77, 1))

	peer.Lock()
	qos, ok := peer.Subs[0x77]
	peer.Unlock()
	require.True(t, ok)
	assert.EqualValues(t, 1, qos)

	require.NoError(t, b.Publish(bus.Message{ID: 0x77, Payload: []byte("x")}))
	msg, ok := pipe.Poll()
	require.True(t, ok)
	assert.Equal(t, []byte("x"), msg.Payload)
}

func TestHandleIncomingUnsubscribeRemovesPeerAndPipeInterest(t *testing.T) {
	t.Parallel()
	tbl := buildTable(t)
	peer := tbl.Peers()[0]
	b := bus.NewMemoryBus()
	defer b.Close()
	pipe, err := b.CreatePipe(peer.Name)
	require.NoError(t, err)
	require.NoError(t, subscription.HandleIncoming(peer, pipe, ids.MsgSubscribe, 0x77, 1))

	require.NoError(t, subscription.HandleIncoming(peer, pipe, ids.MsgUnsubscribe, 0x77, 1))

	peer.Lock()
	_, ok := peer.Subs[0x77]
	peer.Unlock()
	assert.False(t, ok)

	require.NoError(t, b.Publish(bus.Message{ID: 0x77, Payload: []byte("x")}))
	_, ok = pipe.Poll()
	assert.False(t, ok)
}

func TestClearRemoteDropsSubsAndDrainsPipe(t *testing.T) {
	t.Parallel()
	tbl := buildTable(t)
	peer := tbl.Peers()[0]
	b := bus.NewMemoryBus()
	defer b.Close()
	pipe, err := b.CreatePipe(peer.Name)
	require.NoError(t, err)
	require.NoError(t, subscription.HandleIncoming(peer, pipe, ids.MsgSubscribe, 0x1, 0))
	require.NoError(t, b.Publish(bus.Message{ID: 0x1, Payload: []byte("queued")}))

	subscription.ClearRemote(peer, pipe)

	peer.Lock()
	assert.Empty(t, peer.Subs)
	peer.Unlock()

	_, ok := pipe.Poll()
	assert.False(t, ok)
}
