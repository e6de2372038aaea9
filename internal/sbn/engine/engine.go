// Package engine ties the wire codec, transports, peer table, remap
// table, subscription mirror, state machine, and send/receive pipelines
// into one runnable unit. Global mutable process state is deliberately
// avoided: every collaborator is an explicit field on Engine, constructed
// once and passed down, so more than one Engine can run in a process
// (e.g. in tests) without interference.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sbn-project/sbn/internal/sbn/bus"
	"github.com/sbn-project/sbn/internal/sbn/ids"
	"github.com/sbn-project/sbn/internal/sbn/peertable"
	"github.com/sbn-project/sbn/internal/sbn/recv"
	"github.com/sbn-project/sbn/internal/sbn/remap"
	"github.com/sbn-project/sbn/internal/sbn/sbnerrors"
	"github.com/sbn-project/sbn/internal/sbn/send"
	"github.com/sbn-project/sbn/internal/sbn/state"
	"github.com/sbn-project/sbn/internal/sbn/subscription"
	"github.com/sbn-project/sbn/internal/sbn/transport"
	"github.com/sbn-project/sbn/internal/sbn/wire"
)

// Config holds the tunables that shape one Engine's scheduling and
// pipeline behavior, independent of the peer/host table content itself.
type Config struct {
	LocalAppName string

	AnnounceInterval  time.Duration
	HeartbeatInterval time.Duration
	LossThreshold     time.Duration

	MaxConsecutiveSendErrors uint64
	FairnessCap              int

	// TickInterval drives the single-threaded cooperative scheduler's
	// period; unused by the task-per-peer scheduler, which instead polls
	// continuously with a short idle backoff.
	TickInterval time.Duration
	IdleBackoff  time.Duration

	// MaxStatusBytes bounds the opaque module-status blob Snapshot asks
	// each peer's transport to fill via ReportStatus.
	MaxStatusBytes int
}

func (c Config) maxStatusBytes() int {
	if c.MaxStatusBytes <= 0 {
		return 64
	}
	return c.MaxStatusBytes
}

func (c Config) tickInterval() time.Duration {
	if c.TickInterval <= 0 {
		return 100 * time.Millisecond
	}
	return c.TickInterval
}

func (c Config) idleBackoff() time.Duration {
	if c.IdleBackoff <= 0 {
		return 5 * time.Millisecond
	}
	return c.IdleBackoff
}

// Engine is one federated bus instance: a bounded peer/host table, a set
// of pluggable transports keyed by protocol id, and the send/receive
// pipelines and state machine that drive traffic across it.
type Engine struct {
	cfg Config

	Table      *peertable.Table
	Transports map[uint8]transport.Transport
	Bus        bus.Bus

	Codec    *wire.Codec
	Remap    *remap.Table
	Mirror   *subscription.Mirror
	State    *state.Machine
	Send     *send.Pipeline
	Recv     *recv.Pipeline
	PeerPipe func(ids.ProcessorId) bus.Pipe
	LocalSub func() map[ids.MessageId]ids.QoS

	pipes map[ids.ProcessorId]bus.Pipe
}

// New wires together one Engine from its already-loaded peer table and
// transport registry. The caller is responsible for Table.Load having
// run first; New binds every collaborator package to the others via the
// narrow interfaces each defines. Per-peer bus.Pipes are not allocated
// here but on first reference (see pipeFor).
func New(cfg Config, table *peertable.Table, transports map[uint8]transport.Transport, b bus.Bus, remapTable *remap.Table, codec *wire.Codec) *Engine {
	e := &Engine{
		cfg:        cfg,
		Table:      table,
		Transports: transports,
		Bus:        b,
		Codec:      codec,
		Remap:      remapTable,
		pipes:      make(map[ids.ProcessorId]bus.Pipe),
	}

	sendPipeline := send.New(codec, transports, remapTable, cfg.LocalAppName)
	sendPipeline.FairnessCap = cfg.FairnessCap
	e.Send = sendPipeline

	e.Mirror = subscription.NewMirror(sendPipeline, table, cfg.LocalAppName)
	e.Mirror.WatchLocalBus(b)

	e.State = state.New(state.Config{
		AnnounceInterval:         cfg.AnnounceInterval,
		HeartbeatInterval:        cfg.HeartbeatInterval,
		LossThreshold:            cfg.LossThreshold,
		MaxConsecutiveSendErrors: cfg.MaxConsecutiveSendErrors,
	}, sendPipeline, e.Mirror, nil, nil)

	recvPipeline := recv.New(b, transports)
	recvPipeline.PeerByID = table.ByProcessorId
	recvPipeline.PipeByID = e.pipeFor
	recvPipeline.Retransmitter = sendPipeline
	recvPipeline.State = e.State
	recvPipeline.LocalSubs = e.localSubs
	e.Recv = recvPipeline
	e.PeerPipe = e.pipeFor

	return e
}

// pipeFor lazily allocates the per-peer bus.Pipe that holds traffic
// bound outward to that peer, created on first reference rather than at
// table-load time so tests can construct an Engine against a table that
// was populated without a live Bus.
func (e *Engine) pipeFor(id ids.ProcessorId) bus.Pipe {
	if p, ok := e.pipes[id]; ok {
		return p
	}
	peer := e.Table.ByProcessorId(id)
	if peer == nil {
		return nil
	}
	p, err := e.Bus.CreatePipe(peer.Name)
	if err != nil {
		slog.Error("failed to create peer pipe", "peer", peer.Name, "error", err)
		return nil
	}
	e.pipes[id] = p
	return p
}

// localSubs returns the current snapshot of the local application's
// subscription set, used to batch onto a peer that just came up. Callers
// supply the real host-bus query via LocalSub; a nil LocalSub yields an
// empty set, meaning batching sends nothing until wired to a real host
// bus adapter.
func (e *Engine) localSubs() map[ids.MessageId]ids.QoS {
	if e.LocalSub == nil {
		return nil
	}
	return e.LocalSub()
}

// tickPeer runs one scheduling pass for a single peer: the state machine
// tick (which may emit Announce/Heartbeat and detect loss), followed by
// a send drain while Heartbeating and a receive poll in any state other
// than Unreachable.
func (e *Engine) tickPeer(ctx context.Context, peer *peertable.PeerRecord) {
	pipe := e.pipeFor(peer.ProcessorId)
	e.State.Tick(ctx, peer, pipe)

	peer.Lock()
	st := peer.State
	peer.Unlock()

	if st == ids.StateUnreachable {
		return
	}

	if pipe != nil && st == ids.StateHeartbeating {
		e.Send.DrainPeer(ctx, peer, pipe)
	}

	e.Recv.PollPeer(ctx, peer)
}

// RunCooperative drives every configured peer from a single goroutine on
// a fixed tick, matching a single-threaded target where task-per-peer
// concurrency isn't available. It returns when ctx is canceled.
func (e *Engine) RunCooperative(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, peer := range e.Table.Peers() {
				e.tickPeer(ctx, peer)
			}
		}
	}
}

// RunConcurrent drives each configured peer from its own goroutine via
// an errgroup, appropriate when transports and the host bus tolerate
// concurrent access. A canceled ctx stops every peer task; the first
// non-context error returned by a peer task cancels the rest.
func (e *Engine) RunConcurrent(ctx context.Context) error {
	peers := e.Table.Peers()
	if len(peers) == 0 {
		return fmt.Errorf("%w: engine has no configured peers", sbnerrors.ErrFatal)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			return e.runPeerLoop(gctx, peer)
		})
	}
	return g.Wait()
}

func (e *Engine) runPeerLoop(ctx context.Context, peer *peertable.PeerRecord) error {
	backoff := e.cfg.idleBackoff()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		e.tickPeer(ctx, peer)
		time.Sleep(backoff)
	}
}

// ResetPeer implements the operator-facing reset command for one peer:
// invokes the transport's ResetPeer, clears mirrored subscriptions, and
// returns it to Announcing.
func (e *Engine) ResetPeer(peer *peertable.PeerRecord) error {
	tr, ok := e.Transports[peer.ProtocolId]
	if !ok {
		return fmt.Errorf("%w: no transport registered for protocol %d", sbnerrors.ErrTransportFault, peer.ProtocolId)
	}
	hosts := make([]*transport.HostHandle, 0, len(e.Table.Hosts()))
	for _, h := range e.Table.Hosts() {
		hosts = append(hosts, h.Handle())
	}
	pipe := e.pipeFor(peer.ProcessorId)
	return state.Reset(tr, peer, hosts, pipe)
}

// ResetAll resets every configured peer, used by the operator "reset
// all" command to return every peer to a clean Announcing state
// regardless of how a transport's underlying link was left.
func (e *Engine) ResetAll() []error {
	var errs []error
	for _, peer := range e.Table.Peers() {
		if err := e.ResetPeer(peer); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", peer.Name, err))
		}
	}
	return errs
}

// PeerSnapshot is a read-only copy of one peer's housekeeping counters,
// safe to hold after the owning PeerRecord's lock has been released.
type PeerSnapshot struct {
	Name         string          `json:"name"`
	ProcessorId  ids.ProcessorId `json:"processor_id"`
	SpacecraftId ids.SpacecraftId `json:"spacecraft_id"`
	State        ids.PeerState   `json:"state"`

	SentCount    uint64 `json:"sent_count"`
	RecvCount    uint64 `json:"recv_count"`
	MissCount    uint64 `json:"miss_count"`
	InOrderCount uint64 `json:"in_order_count"`
	SendErrCount uint64 `json:"send_err_count"`
	RecvErrCount uint64 `json:"recv_err_count"`
	LastSent     int64  `json:"last_sent"`
	LastReceived int64  `json:"last_received"`

	// StatusBlob is the peer's transport-opaque module-status report,
	// truncated to Config.MaxStatusBytes. Nil when the transport doesn't
	// implement ReportStatus.
	StatusBlob []byte `json:"status_blob,omitempty"`
}

// Snapshot is the housekeeping telemetry document spec.md §6 describes:
// PeerCount, HostCount, and a per-peer counter/state snapshot, gathered
// under each peer's own lock so the housekeeping publisher never races
// the send/receive pipelines.
type Snapshot struct {
	PeerCount int            `json:"peer_count"`
	HostCount int            `json:"host_count"`
	Peers     []PeerSnapshot `json:"peers"`
}

// Snapshot gathers the current housekeeping telemetry document. It is
// read-only: no peer or table state is mutated.
func (e *Engine) Snapshot() Snapshot {
	peers := e.Table.Peers()
	hostRecords := e.Table.Hosts()
	hosts := make([]*transport.HostHandle, 0, len(hostRecords))
	for _, h := range hostRecords {
		hosts = append(hosts, h.Handle())
	}

	snap := Snapshot{
		PeerCount: len(peers),
		HostCount: len(hostRecords),
		Peers:     make([]PeerSnapshot, 0, len(peers)),
	}
	for _, peer := range peers {
		peer.Lock()
		ps := PeerSnapshot{
			Name:         peer.Name,
			ProcessorId:  peer.ProcessorId,
			SpacecraftId: peer.SpacecraftId,
			State:        peer.State,
			SentCount:    peer.SentCount,
			RecvCount:    peer.RecvCount,
			MissCount:    peer.MissCount,
			InOrderCount: peer.InOrderCount,
			SendErrCount: peer.SendErrCount,
			RecvErrCount: peer.RecvErrCount,
			LastSent:     peer.LastSent,
			LastReceived: peer.LastReceived,
		}
		handle := peer.Handle()
		peer.Unlock()

		ps.StatusBlob = e.reportStatus(peer.ProtocolId, handle, hosts)
		snap.Peers = append(snap.Peers, ps)
	}
	return snap
}

// reportStatus asks the transport registered for protocolId to fill a
// module-status blob for peer, truncating it to the configured maximum.
// A transport that returns ErrNotImplemented, or isn't registered at
// all, yields a nil blob rather than an error -- status reporting is
// advisory telemetry, never a reason to fail a snapshot.
func (e *Engine) reportStatus(protocolId uint8, peer *transport.PeerHandle, hosts []*transport.HostHandle) []byte {
	tr, ok := e.Transports[protocolId]
	if !ok {
		return nil
	}
	blob, err := tr.ReportStatus(peer, hosts)
	if err != nil {
		if !errors.Is(err, transport.ErrNotImplemented) {
			slog.Debug("failed to report peer status", "peer", peer.Name, "error", err)
		}
		return nil
	}
	if max := e.cfg.maxStatusBytes(); len(blob) > max {
		blob = blob[:max]
	}
	return blob
}

// DumpTables implements the operator "dump tables" command. It is the
// same document Snapshot() produces; the separate method exists so the
// operator surface and the housekeeping publisher can evolve their own
// views of engine state independently even though they coincide today.
func (e *Engine) DumpTables() Snapshot {
	return e.Snapshot()
}
