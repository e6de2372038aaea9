// Package wire implements the SBN frame codec: a fixed
// prefix of MsgSize/MsgType/CpuId followed by an opaque payload, with
// CCSDS-style secondary-header timestamp/command fields byte-swapped on
// AppMessage frames so every peer observes them in its own host order.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/sbn-project/sbn/internal/sbn/ids"
	"github.com/sbn-project/sbn/internal/sbn/sbnerrors"
)

// HeaderSize is the fixed prefix length: MsgSize(2) + MsgType(1) + CpuId(4).
const HeaderSize = 2 + 1 + 4

// Frame is a decoded SBN wire frame.
type Frame struct {
	Type    ids.MsgType
	CpuId   ids.ProcessorId
	Payload []byte
}

// SecondaryHeaderWidth is the width, in bytes, of the CCSDS-like
// timestamp subseconds field embedded in AppMessage payloads. The source
// supports 4 (CDS, 1/65536s ticks) or 6 (CDS, sub-microsecond) byte
// subseconds fields; it is a per-deployment constant, not per-message.
type SecondaryHeaderWidth int

const (
	SubsecondsWidth4 SecondaryHeaderWidth = 4
	SubsecondsWidth6 SecondaryHeaderWidth = 6
)

// secondary header byte offsets within an AppMessage payload, matching a
// CCSDS primary header (6 bytes) followed by a CCSDS secondary header:
// 4 bytes seconds, then `width` bytes subseconds, then (for command
// packets) a 2-byte command-secondary-header function code field.
const (
	primaryHeaderLen  = 6
	secondsOffset     = primaryHeaderLen
	secondsLen        = 4
	cmdFunctionCodeLen = 2
)

// Codec packs and unpacks SBN frames for a fixed payload capacity and
// secondary-header width.
type Codec struct {
	MaxPayload   int
	HeaderWidth  SecondaryHeaderWidth
	// IsCommandPacket reports whether a payload's CCSDS primary header
	// marks it as a command packet (vs. telemetry), which changes
	// whether the command-secondary-header function code field follows
	// the timestamp. The wire codec does not own CCSDS header semantics
	// (that belongs to the command-packet handler) so this is supplied
	// by the caller; nil means "never a command packet", i.e. only
	// timestamp fields are swapped.
	IsCommandPacket func(payload []byte) bool
}

// NewCodec returns a Codec with the given payload capacity and default
// 4-byte subseconds width.
func NewCodec(maxPayload int) *Codec {
	return &Codec{MaxPayload: maxPayload, HeaderWidth: SubsecondsWidth4}
}

// Pack frames msg into the wire format. For MsgAppMessage, the embedded
// CCSDS secondary-header seconds/subseconds (and, for command packets,
// the function code) are byte-swapped to big-endian in a copy of
// payload -- never in the caller's buffer, which may be aliased by other
// local subscribers of the same message.
func (c *Codec) Pack(msgType ids.MsgType, cpuID ids.ProcessorId, payload []byte) ([]byte, error) {
	if len(payload) > c.MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", sbnerrors.ErrPayloadOverflow, len(payload), c.MaxPayload)
	}

	body := payload
	if msgType == ids.MsgAppMessage && len(payload) > 0 {
		body = append([]byte(nil), payload...)
		c.swapSecondaryHeader(body, hostToWire)
	}

	out := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(body)))
	out[2] = byte(msgType)
	binary.BigEndian.PutUint32(out[3:7], uint32(cpuID))
	copy(out[HeaderSize:], body)
	return out, nil
}

// Unpack reverses Pack. A zero MsgSize is legal and yields an empty
// payload (used by heartbeats).
func (c *Codec) Unpack(raw []byte) (Frame, error) {
	if len(raw) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: have %d bytes, need %d", sbnerrors.ErrTruncatedFrame, len(raw), HeaderSize)
	}

	msgSize := int(binary.BigEndian.Uint16(raw[0:2]))
	msgType := ids.MsgType(raw[2])
	cpuID := ids.ProcessorId(binary.BigEndian.Uint32(raw[3:7]))

	if msgSize > c.MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d > %d", sbnerrors.ErrPayloadOverflow, msgSize, c.MaxPayload)
	}
	if len(raw) < HeaderSize+msgSize {
		return Frame{}, fmt.Errorf("%w: have %d bytes, need %d", sbnerrors.ErrTruncatedFrame, len(raw), HeaderSize+msgSize)
	}

	payload := append([]byte(nil), raw[HeaderSize:HeaderSize+msgSize]...)
	if msgType == ids.MsgAppMessage && len(payload) > 0 {
		c.swapSecondaryHeader(payload, wireToHost)
	}

	return Frame{Type: msgType, CpuId: cpuID, Payload: payload}, nil
}

type swapDirection int

const (
	hostToWire swapDirection = iota
	wireToHost
)

// swapSecondaryHeader reverses the byte order of the embedded CCSDS
// seconds/subseconds fields (and, for command packets, the function
// code) in place. Byte-swapping is its own inverse, so both directions
// share one implementation; the direction only matters for documenting
// intent at call sites.
func (c *Codec) swapSecondaryHeader(payload []byte, _ swapDirection) {
	width := int(c.HeaderWidth)
	need := secondsOffset + secondsLen + width
	if len(payload) < need {
		return
	}
	reverse(payload[secondsOffset : secondsOffset+secondsLen])
	reverse(payload[secondsOffset+secondsLen : secondsOffset+secondsLen+width])

	if c.IsCommandPacket != nil && c.IsCommandPacket(payload) {
		fcOffset := need
		if len(payload) >= fcOffset+cmdFunctionCodeLen {
			reverse(payload[fcOffset : fcOffset+cmdFunctionCodeLen])
		}
	}
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
