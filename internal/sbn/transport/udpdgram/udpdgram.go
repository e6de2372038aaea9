// Package udpdgram implements a reference Transport over UDP datagrams.
// One UDPConn is opened per configured host; peers bound to that host
// share its socket, matching datagram multiplexing where an inbound
// frame's source CpuId may differ from whichever peer the engine polled.
package udpdgram

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sbn-project/sbn/internal/sbn/ids"
	"github.com/sbn-project/sbn/internal/sbn/sbnerrors"
	"github.com/sbn-project/sbn/internal/sbn/transport"
	"github.com/sbn-project/sbn/internal/sbn/wire"
)

// pollTimeout bounds how long a single non-blocking Recv call waits on
// the socket; short enough to keep the caller's scheduler pass snappy.
const pollTimeout = 2 * time.Millisecond

const sendTimeout = 50 * time.Millisecond

type hostState struct {
	conn *net.UDPConn
}

type peerState struct {
	remote *net.UDPAddr
}

// Transport is a UDP reference Transport. Codec is used to frame/unframe
// payloads on the wire; callers share one Transport per process-wide
// set of hosts it owns.
type Transport struct {
	Codec *wire.Codec

	mu    sync.Mutex
	hosts map[int]*hostState
}

// New returns a UDP transport using codec for framing.
func New(codec *wire.Codec) *Transport {
	return &Transport{Codec: codec, hosts: make(map[int]*hostState)}
}

// LoadEntry parses the single tail token as a "host:port" address: the
// local bind address for a host row, the remote address for a peer row.
func (t *Transport) LoadEntry(fields []string, target *transport.PeerHandle) error {
	if len(fields) < 1 {
		return fmt.Errorf("%w: udpdgram entry requires an address token", sbnerrors.ErrConfigInvalid)
	}
	addr, err := net.ResolveUDPAddr("udp", fields[0])
	if err != nil {
		return fmt.Errorf("%w: invalid udpdgram address %q: %v", sbnerrors.ErrConfigInvalid, fields[0], err)
	}
	target.PrivateState = peerState{remote: addr}
	return nil
}

func (t *Transport) InitHost(host *transport.HostHandle) error {
	ps, ok := host.PrivateState.(peerState)
	if !ok {
		return fmt.Errorf("%w: udpdgram host missing bind address", sbnerrors.ErrConfigInvalid)
	}
	conn, err := net.ListenUDP("udp", ps.remote)
	if err != nil {
		return fmt.Errorf("%w: %v", sbnerrors.ErrTransportFault, err)
	}
	t.mu.Lock()
	t.hosts[host.NetNum] = &hostState{conn: conn}
	t.mu.Unlock()
	host.PrivateState = hostState{conn: conn}
	return nil
}

func (t *Transport) InitPeer(peer *transport.PeerHandle) error {
	return nil
}

// BoundAddr returns the local address a host's socket is bound to,
// useful for tests and logging when a host binds to an ephemeral port
// (":0").
func (t *Transport) BoundAddr(netNum int) *net.UDPAddr {
	conn, ok := t.hostConn(netNum)
	if !ok {
		return nil
	}
	addr, _ := conn.LocalAddr().(*net.UDPAddr)
	return addr
}

func (t *Transport) hostConn(netNum int) (*net.UDPConn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.hosts[netNum]
	if !ok {
		return nil, false
	}
	return h.conn, true
}

func (t *Transport) Send(ctx context.Context, peer *transport.PeerHandle, msgType ids.MsgType, payload []byte) (int, error) {
	ps, ok := peer.PrivateState.(peerState)
	if !ok {
		return 0, fmt.Errorf("%w: udpdgram peer %q has no remote address", sbnerrors.ErrTransportFault, peer.Name)
	}
	conn, ok := t.hostConn(peer.NetNum)
	if !ok {
		return 0, fmt.Errorf("%w: udpdgram host for net_num %d not initialized", sbnerrors.ErrTransportFault, peer.NetNum)
	}

	framed, err := t.Codec.Pack(msgType, peer.ProcessorId, payload)
	if err != nil {
		return 0, err
	}

	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline {
		deadline = time.Now().Add(sendTimeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return 0, fmt.Errorf("%w: %v", sbnerrors.ErrTransportFault, err)
	}

	n, err := conn.WriteToUDP(framed, ps.remote)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", sbnerrors.ErrTransportFault, err)
	}
	return n, nil
}

func (t *Transport) Recv(ctx context.Context, peer *transport.PeerHandle) (ids.MsgType, ids.ProcessorId, []byte, error) {
	conn, ok := t.hostConn(peer.NetNum)
	if !ok {
		return 0, 0, nil, fmt.Errorf("%w: udpdgram host for net_num %d not initialized", sbnerrors.ErrTransportFault, peer.NetNum)
	}

	deadline := time.Now().Add(pollTimeout)
	if ctxDeadline, has := ctx.Deadline(); has && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, 0, nil, fmt.Errorf("%w: %v", sbnerrors.ErrTransportFault, err)
	}

	buf := make([]byte, t.Codec.MaxPayload+wire.HeaderSize)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		if ne, isNetErr := err.(net.Error); isNetErr && ne.Timeout() {
			return 0, 0, nil, transport.ErrEmpty
		}
		return 0, 0, nil, fmt.Errorf("%w: %v", sbnerrors.ErrTransportFault, err)
	}

	frame, err := t.Codec.Unpack(buf[:n])
	if err != nil {
		return 0, 0, nil, err
	}
	return frame.Type, frame.CpuId, frame.Payload, nil
}

func (t *Transport) VerifyPeer(*transport.PeerHandle, []*transport.HostHandle) transport.Validity {
	return transport.Valid
}

func (t *Transport) VerifyHost(*transport.HostHandle, []*transport.PeerHandle) transport.Validity {
	return transport.Valid
}

// ReportStatus fills a status blob with the text form of the local
// address the peer's host socket is bound to, e.g. "0.0.0.0:5000" --
// useful for confirming which interface/port an ephemeral (":0") bind
// actually landed on.
func (t *Transport) ReportStatus(peer *transport.PeerHandle, _ []*transport.HostHandle) ([]byte, error) {
	conn, ok := t.hostConn(peer.NetNum)
	if !ok {
		return nil, transport.ErrNotImplemented
	}
	return []byte(conn.LocalAddr().String()), nil
}

func (t *Transport) ResetPeer(peer *transport.PeerHandle, _ []*transport.HostHandle) error {
	conn, ok := t.hostConn(peer.NetNum)
	if !ok {
		return transport.ErrNotImplemented
	}
	buf := make([]byte, t.Codec.MaxPayload+wire.HeaderSize)
	for {
		if err := conn.SetReadDeadline(time.Now()); err != nil {
			return fmt.Errorf("%w: %v", sbnerrors.ErrTransportFault, err)
		}
		if _, _, err := conn.ReadFromUDP(buf); err != nil {
			return nil
		}
	}
}
