// Package loopback implements an in-process reference Transport: peers
// and hosts within the same binary exchange frames over buffered
// channels instead of a real link. It exists to exercise the engine in
// tests and demos without any real network stack.
package loopback

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"

	"github.com/sbn-project/sbn/internal/sbn/ids"
	"github.com/sbn-project/sbn/internal/sbn/sbnerrors"
	"github.com/sbn-project/sbn/internal/sbn/transport"
)

const socketBuffer = 64

type packet struct {
	msgType ids.MsgType
	cpuID   ids.ProcessorId
	payload []byte
}

// socket is the shared channel backing one NetNum "address" on the
// loopback fabric. A host's InitHost creates it; any peer whose tail
// token names that NetNum sends into it, and the owning host's Recv
// reads from it.
type socket struct {
	ch chan packet
}

// Transport is a loopback reference Transport. A single instance is
// meant to be shared by every host and peer wired into one process --
// its registry is what lets them find each other by NetNum.
type Transport struct {
	mu      sync.Mutex
	sockets map[int]*socket
}

// New returns a fresh loopback fabric.
func New() *Transport {
	return &Transport{sockets: make(map[int]*socket)}
}

type peerState struct {
	targetNetNum int
}

// LoadEntry parses the single tail token: the NetNum of the host this
// entry communicates with. Host rows and peer rows share the same
// format on the loopback fabric.
func (t *Transport) LoadEntry(fields []string, target *transport.PeerHandle) error {
	if len(fields) < 1 {
		return fmt.Errorf("%w: loopback entry requires a target net_num token", sbnerrors.ErrConfigInvalid)
	}
	netNum, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("%w: invalid loopback net_num %q", sbnerrors.ErrConfigInvalid, fields[0])
	}
	target.PrivateState = peerState{targetNetNum: netNum}
	return nil
}

func (t *Transport) socketFor(netNum int) *socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sockets[netNum]
	if !ok {
		s = &socket{ch: make(chan packet, socketBuffer)}
		t.sockets[netNum] = s
	}
	return s
}

func (t *Transport) InitHost(host *transport.HostHandle) error {
	t.socketFor(host.NetNum)
	return nil
}

func (t *Transport) InitPeer(peer *transport.PeerHandle) error {
	return nil
}

// Send writes a frame to the socket belonging to the peer's configured
// target NetNum.
func (t *Transport) Send(ctx context.Context, peer *transport.PeerHandle, msgType ids.MsgType, payload []byte) (int, error) {
	ps, ok := peer.PrivateState.(peerState)
	if !ok {
		return 0, fmt.Errorf("%w: loopback peer %q has no target configured", sbnerrors.ErrTransportFault, peer.Name)
	}
	s := t.socketFor(ps.targetNetNum)
	p := packet{msgType: msgType, cpuID: peer.ProcessorId, payload: append([]byte(nil), payload...)}
	select {
	case s.ch <- p:
		return len(payload), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
		return 0, fmt.Errorf("%w: loopback socket %d full", sbnerrors.ErrTransportFault, ps.targetNetNum)
	}
}

// Recv reads one frame from the socket belonging to peer's own NetNum --
// i.e. this peer's view of "the host it arrives on".
func (t *Transport) Recv(ctx context.Context, peer *transport.PeerHandle) (ids.MsgType, ids.ProcessorId, []byte, error) {
	s := t.socketFor(peer.NetNum)
	select {
	case p := <-s.ch:
		return p.msgType, p.cpuID, p.payload, nil
	default:
		return 0, 0, nil, transport.ErrEmpty
	}
}

func (t *Transport) VerifyPeer(*transport.PeerHandle, []*transport.HostHandle) transport.Validity {
	return transport.Valid
}

func (t *Transport) VerifyHost(*transport.HostHandle, []*transport.PeerHandle) transport.Validity {
	return transport.Valid
}

// ReportStatus fills a 4-byte status blob: the target socket's current
// queue depth and capacity, each as a big-endian uint16. Housekeeping
// stores this opaque; only a peer of this transport knows how to decode
// it.
func (t *Transport) ReportStatus(peer *transport.PeerHandle, _ []*transport.HostHandle) ([]byte, error) {
	ps, ok := peer.PrivateState.(peerState)
	if !ok {
		return nil, transport.ErrNotImplemented
	}
	s := t.socketFor(ps.targetNetNum)
	blob := make([]byte, 4)
	binary.BigEndian.PutUint16(blob[0:2], uint16(len(s.ch)))
	binary.BigEndian.PutUint16(blob[2:4], uint16(cap(s.ch)))
	return blob, nil
}

func (t *Transport) ResetPeer(peer *transport.PeerHandle, _ []*transport.HostHandle) error {
	ps, ok := peer.PrivateState.(peerState)
	if !ok {
		return nil
	}
	s := t.socketFor(ps.targetNetNum)
	for {
		select {
		case <-s.ch:
		default:
			return nil
		}
	}
}
