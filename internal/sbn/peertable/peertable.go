// Package peertable builds and holds the configured set of hosts (local
// endpoints) and peers (remote endpoints) that make up an engine's bus
// network, keyed by ProcessorId.
package peertable

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/sbn-project/sbn/internal/sbn/ids"
	"github.com/sbn-project/sbn/internal/sbn/sbnerrors"
	"github.com/sbn-project/sbn/internal/sbn/transport"
)

// PeerRecord is one configured remote node and its live protocol state.
type PeerRecord struct {
	Name         string
	ProcessorId  ids.ProcessorId
	SpacecraftId ids.SpacecraftId
	ProtocolId   uint8
	QoS          ids.QoS
	NetNum       int

	mu sync.Mutex

	State ids.PeerState

	SentCount      uint64
	RecvCount      uint64
	MissCount      uint64
	InOrderCount   uint64
	SendErrCount   uint64
	RecvErrCount   uint64
	LastSent       int64
	LastReceived   int64
	NextTxSeq      uint16
	NextRxSeq      uint16
	GapAfter       uint16
	GapTo          uint16
	HasGap         bool

	Subs map[ids.MessageId]ids.QoS

	PrivateState any
}

// Lock/Unlock let owning tasks serialize access to the mutable fields
// above; the table itself never mutates a PeerRecord after construction.
func (p *PeerRecord) Lock()   { p.mu.Lock() }
func (p *PeerRecord) Unlock() { p.mu.Unlock() }

// Handle returns the narrow transport-facing view of this peer.
func (p *PeerRecord) Handle() *transport.PeerHandle {
	return &transport.PeerHandle{
		Name:         p.Name,
		ProcessorId:  p.ProcessorId,
		SpacecraftId: p.SpacecraftId,
		ProtocolId:   p.ProtocolId,
		QoS:          p.QoS,
		NetNum:       p.NetNum,
		PrivateState: p.PrivateState,
	}
}

// Reset returns a peer to a clean Announcing state without reallocation,
// used both at session start and after an operator reset command.
func (p *PeerRecord) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.State = ids.StateAnnouncing
	p.SentCount, p.RecvCount, p.MissCount, p.InOrderCount = 0, 0, 0, 0
	p.SendErrCount, p.RecvErrCount = 0, 0
	p.LastSent, p.LastReceived = 0, 0
	p.NextTxSeq, p.NextRxSeq = 0, 0
	p.GapAfter, p.GapTo, p.HasGap = 0, 0, false
	p.Subs = make(map[ids.MessageId]ids.QoS)
}

// HostRecord is one configured local endpoint.
type HostRecord struct {
	ProtocolId   uint8
	NetNum       int
	PrivateState any

	RecvErrCount uint64
}

func (h *HostRecord) Handle() *transport.HostHandle {
	return &transport.HostHandle{ProtocolId: h.ProtocolId, NetNum: h.NetNum, PrivateState: h.PrivateState}
}

// Table is the bounded, sealed set of peers and hosts for one spacecraft.
type Table struct {
	LocalSpacecraftId ids.SpacecraftId
	LocalProcessorId  ids.ProcessorId

	maxPeers int
	maxHosts int

	peers []*PeerRecord
	hosts []*HostRecord
}

// NewTable creates an empty, bounded table for the given local identity.
func NewTable(localSpacecraft ids.SpacecraftId, localProcessor ids.ProcessorId, maxPeers, maxHosts int) *Table {
	return &Table{
		LocalSpacecraftId: localSpacecraft,
		LocalProcessorId:  localProcessor,
		maxPeers:          maxPeers,
		maxHosts:          maxHosts,
	}
}

// Load reads rows from the first of sources that opens successfully and
// populates the table. Opening the first successfully is sufficient; if
// none open, Load fails with ErrFatal.
func Load(table *Table, transports map[uint8]transport.Transport, sources ...string) error {
	var contents string
	var opened bool
	for _, path := range sources {
		b, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		contents = string(b)
		opened = true
		break
	}
	if !opened {
		return fmt.Errorf("%w: no peer table configuration source could be opened", sbnerrors.ErrFatal)
	}

	for _, row := range Tokenize(contents) {
		if err := table.admit(row, transports); err != nil {
			slog.Warn("dropping peer table row", "index", row.Index, "name", row.Name, "error", err)
		}
	}
	table.verify(transports)
	return nil
}

// verify runs each admitted peer/host's transport-level capability check
// (VerifyPeer/VerifyHost) now that the whole table is loaded, logging any
// entry whose counterpart the transport couldn't find. It never removes
// an entry: a transport that requires no such pairing trivially reports
// Valid, and a failing check is diagnostic only.
func (t *Table) verify(transports map[uint8]transport.Transport) {
	hostHandles := make([]*transport.HostHandle, 0, len(t.hosts))
	for _, h := range t.hosts {
		hostHandles = append(hostHandles, h.Handle())
	}
	peerHandles := make([]*transport.PeerHandle, 0, len(t.peers))
	for _, p := range t.peers {
		peerHandles = append(peerHandles, p.Handle())
	}

	for _, p := range t.peers {
		tr, ok := transports[p.ProtocolId]
		if !ok {
			continue
		}
		if tr.VerifyPeer(p.Handle(), hostHandles) != transport.Valid {
			slog.Warn("peer failed transport capability check", "peer", p.Name)
		}
	}
	for _, h := range t.hosts {
		tr, ok := transports[h.ProtocolId]
		if !ok {
			continue
		}
		if tr.VerifyHost(h.Handle(), peerHandles) != transport.Valid {
			slog.Warn("host failed transport capability check", "net_num", h.NetNum)
		}
	}
}

// admit applies the load rules for one row: spacecraft filtering, host-vs-
// peer classification, capacity enforcement, and the transport's
// LoadEntry callback.
func (t *Table) admit(row Row, transports map[uint8]transport.Transport) error {
	if ids.SpacecraftId(row.SpacecraftId) != t.LocalSpacecraftId {
		// Entries for other spacecraft are discarded silently, not an error.
		return nil
	}

	tr, ok := transports[row.ProtocolId]
	if !ok {
		return fmt.Errorf("%w: unknown protocol id %d", sbnerrors.ErrConfigInvalid, row.ProtocolId)
	}

	if ids.ProcessorId(row.ProcessorId) == t.LocalProcessorId {
		if len(t.hosts) >= t.maxHosts {
			return fmt.Errorf("%w: host table full", sbnerrors.ErrCapacityExceeded)
		}
		host := &HostRecord{ProtocolId: row.ProtocolId, NetNum: row.NetNum}
		handle := &transport.PeerHandle{ProcessorId: ids.ProcessorId(row.ProcessorId)}
		if err := tr.LoadEntry(row.Tail, handle); err != nil {
			return err
		}
		host.PrivateState = handle.PrivateState
		t.hosts = append(t.hosts, host)
		return nil
	}

	if len(t.peers) >= t.maxPeers {
		return fmt.Errorf("%w: peer table full", sbnerrors.ErrCapacityExceeded)
	}
	peer := &PeerRecord{
		Name:         row.Name,
		ProcessorId:  ids.ProcessorId(row.ProcessorId),
		SpacecraftId: ids.SpacecraftId(row.SpacecraftId),
		ProtocolId:   row.ProtocolId,
		QoS:          ids.QoS(row.QoS),
		NetNum:       row.NetNum,
		State:        ids.StateAnnouncing,
		Subs:         make(map[ids.MessageId]ids.QoS),
	}
	handle := peer.Handle()
	if err := tr.LoadEntry(row.Tail, handle); err != nil {
		return err
	}
	peer.PrivateState = handle.PrivateState
	t.peers = append(t.peers, peer)
	return nil
}

// Peers returns the sealed slice of configured peers.
func (t *Table) Peers() []*PeerRecord { return t.peers }

// Hosts returns the sealed slice of configured hosts.
func (t *Table) Hosts() []*HostRecord { return t.hosts }

// ByProcessorId performs the linear scan the receive path uses to
// associate an inbound frame with its PeerRecord. A bounded table makes
// linear scan acceptable; returns nil if the ProcessorId is unknown.
func (t *Table) ByProcessorId(id ids.ProcessorId) *PeerRecord {
	for _, p := range t.peers {
		if p.ProcessorId == id {
			return p
		}
	}
	return nil
}
