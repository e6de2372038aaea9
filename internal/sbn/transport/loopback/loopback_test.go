package loopback_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbn-project/sbn/internal/sbn/ids"
	"github.com/sbn-project/sbn/internal/sbn/transport"
	"github.com/sbn-project/sbn/internal/sbn/transport/loopback"
)

func TestSendRecvRoundTrip(t *testing.T) {
	t.Parallel()
	tr := loopback.New()

	host := &transport.HostHandle{NetNum: 1}
	require.NoError(t, tr.InitHost(host))

	peer := &transport.PeerHandle{Name: "peerA", ProcessorId: 2, NetNum: 2}
	require.NoError(t, tr.LoadEntry([]string{"1"}, peer))
	require.NoError(t, tr.InitPeer(peer))

	n, err := tr.Send(context.Background(), peer, ids.MsgHeartbeat, []byte{9, 9})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recvHost := &transport.PeerHandle{NetNum: 1}
	msgType, cpuID, payload, err := tr.Recv(context.Background(), recvHost)
	require.NoError(t, err)
	assert.Equal(t, ids.MsgHeartbeat, msgType)
	assert.Equal(t, ids.ProcessorId(2), cpuID)
	assert.Equal(t, []byte{9, 9}, payload)
}

func TestRecvEmptyReturnsErrEmpty(t *testing.T) {
	t.Parallel()
	tr := loopback.New()
	peer := &transport.PeerHandle{NetNum: 1}
	_, _, _, err := tr.Recv(context.Background(), peer)
	assert.ErrorIs(t, err, transport.ErrEmpty)
}
