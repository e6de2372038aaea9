// Package ids holds the small value types shared by every SBN component:
// processor/spacecraft/message identifiers and the protocol's message
// types. Keeping them in one leaf package avoids import cycles between
// wire, peertable, remap, state, send and recv.
package ids

import "encoding/json"

// ProcessorId uniquely names a node (host or peer) on the software bus
// network.
type ProcessorId uint32

// SpacecraftId identifies the spacecraft a processor belongs to. Only
// entries matching the local spacecraft are admitted into the peer table.
type SpacecraftId uint32

// MessageId is the identifier the local bus uses to classify messages.
type MessageId uint32

// QoS is an 8-bit quality-of-service hint propagated to the transport.
type QoS uint8

// MsgType is the wire-frame message type.
type MsgType uint8

const (
	MsgAnnounce          MsgType = 0xA0
	MsgHeartbeat         MsgType = 0xA1
	MsgSubscribe         MsgType = 0x01
	MsgUnsubscribe       MsgType = 0x02
	MsgAppMessage        MsgType = 0x03
	MsgRetransmitRequest MsgType = 0x04
)

func (t MsgType) String() string {
	switch t {
	case MsgAnnounce:
		return "Announce"
	case MsgHeartbeat:
		return "Heartbeat"
	case MsgSubscribe:
		return "Subscribe"
	case MsgUnsubscribe:
		return "Unsubscribe"
	case MsgAppMessage:
		return "AppMessage"
	case MsgRetransmitRequest:
		return "RetransmitRequest"
	default:
		return "Unknown"
	}
}

// PeerState is the lifecycle state of a PeerRecord.
type PeerState uint8

const (
	StateAnnouncing PeerState = iota
	StateHeartbeating
	StateUnreachable
)

func (s PeerState) String() string {
	switch s {
	case StateAnnouncing:
		return "Announcing"
	case StateHeartbeating:
		return "Heartbeating"
	case StateUnreachable:
		return "Unreachable"
	default:
		return "Unknown"
	}
}

// MarshalJSON renders a PeerState by name rather than its numeric value,
// for the housekeeping and debug HTTP surfaces.
func (s PeerState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// DefaultPolicy controls RemapTable behavior on a miss.
type DefaultPolicy uint8

const (
	PolicyPassThrough DefaultPolicy = iota
	PolicyDrop
)
