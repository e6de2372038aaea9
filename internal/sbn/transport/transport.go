// Package transport defines the capability surface every SBN link module
// implements. The engine drives transports through this single interface
// and never reaches into a transport's private state; a transport keeps
// its own per-peer state behind PrivateState, a boxed value the engine
// only ever round-trips.
package transport

import (
	"context"
	"errors"

	"github.com/sbn-project/sbn/internal/sbn/ids"
)

// ErrEmpty is returned by Recv when no message is currently available.
// Callers must treat it as a clean no-op, not a fault.
var ErrEmpty = errors.New("transport: no message available")

// ErrNotImplemented is returned by capability-check and maintenance
// operations a transport chooses not to support.
var ErrNotImplemented = errors.New("transport: not implemented")

// Validity is the result of a VerifyPeer/VerifyHost capability check.
type Validity int

const (
	Valid Validity = iota
	NotValid
)

// PeerHandle is the subset of a PeerRecord a transport needs to operate:
// identity fields plus a boxed slot for its own private state. The
// engine owns the PeerRecord; transports see it only through this
// narrow view so engine-owned counters can't be mutated by a module.
type PeerHandle struct {
	Name         string
	ProcessorId  ids.ProcessorId
	SpacecraftId ids.SpacecraftId
	ProtocolId   uint8
	QoS          ids.QoS
	NetNum       int

	// PrivateState is opaque to the engine; only the owning transport
	// type-asserts it.
	PrivateState any
}

// HostHandle is the local-endpoint analogue of PeerHandle.
type HostHandle struct {
	ProtocolId   uint8
	NetNum       int
	PrivateState any
}

// Transport is the capability set a link module implements.
// Send and Recv are non-blocking unless a transport documents otherwise;
// callers poll, they do not assume delivery ordering across transports.
type Transport interface {
	// LoadEntry parses the transport-specific tail tokens from a
	// configuration row into target.PrivateState. Returns
	// sbnerrors.ErrConfigInvalid on a malformed row.
	LoadEntry(fields []string, target *PeerHandle) error

	// InitHost opens listening resources for a local endpoint.
	InitHost(host *HostHandle) error

	// InitPeer prepares per-peer transport state, e.g. resolving a
	// remote address.
	InitPeer(peer *PeerHandle) error

	// Send transmits one framed message and returns the number of bytes
	// written, or an error. Never blocks indefinitely.
	Send(ctx context.Context, peer *PeerHandle, msgType ids.MsgType, payload []byte) (int, error)

	// Recv attempts one receive. ErrEmpty means nothing was available.
	Recv(ctx context.Context, peer *PeerHandle) (msgType ids.MsgType, cpuID ids.ProcessorId, payload []byte, err error)

	// VerifyPeer checks that a matching host exists for peer among
	// hosts. Transports with no pairing requirement may always return
	// Valid.
	VerifyPeer(peer *PeerHandle, hosts []*HostHandle) Validity

	// VerifyHost is the host-side analogue of VerifyPeer.
	VerifyHost(host *HostHandle, peers []*PeerHandle) Validity

	// ReportStatus fills a fixed-size status blob for housekeeping
	// telemetry. May return ErrNotImplemented.
	ReportStatus(peer *PeerHandle, hosts []*HostHandle) ([]byte, error)

	// ResetPeer forces the transport side of a peer to a clean state
	// (reopen socket, flush queues). May return ErrNotImplemented.
	ResetPeer(peer *PeerHandle, hosts []*HostHandle) error
}

// ProtocolId identifies a transport implementation in the engine's
// registry, a map keyed by ProtocolId.
type ProtocolId = uint8

// Factory constructs a fresh Transport instance. The engine's registry
// holds constructed instances, not factories; nothing in this module
// consumes a Factory.
type Factory func() Transport
