package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/sbn-project/sbn/internal/sbn/ids"
	"github.com/sbn-project/sbn/internal/sbn/sbnerrors"
)

// AppEnvelope is the application-message sub-header carried inside an
// AppMessage frame's payload: the local-bus MessageId the message
// classifies under, plus the Sequence the receive pipeline uses for gap
// detection. GapAfter and GapTo travel on the wire but neither pipeline
// sets or reads them.
type AppEnvelope struct {
	MessageId ids.MessageId
	Sequence  uint16
	GapAfter  uint16
	GapTo     uint16
	Payload   []byte
}

const appEnvelopeHeaderLen = 4 + 2 + 2 + 2

// EncodeAppEnvelope serializes an AppEnvelope for framing as an
// AppMessage's payload.
func EncodeAppEnvelope(e AppEnvelope) []byte {
	out := make([]byte, appEnvelopeHeaderLen+len(e.Payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(e.MessageId))
	binary.BigEndian.PutUint16(out[4:6], e.Sequence)
	binary.BigEndian.PutUint16(out[6:8], e.GapAfter)
	binary.BigEndian.PutUint16(out[8:10], e.GapTo)
	copy(out[appEnvelopeHeaderLen:], e.Payload)
	return out
}

// DecodeAppEnvelope reverses EncodeAppEnvelope.
func DecodeAppEnvelope(raw []byte) (AppEnvelope, error) {
	if len(raw) < appEnvelopeHeaderLen {
		return AppEnvelope{}, fmt.Errorf("%w: app envelope too short", sbnerrors.ErrTruncatedFrame)
	}
	return AppEnvelope{
		MessageId: ids.MessageId(binary.BigEndian.Uint32(raw[0:4])),
		Sequence:  binary.BigEndian.Uint16(raw[4:6]),
		GapAfter:  binary.BigEndian.Uint16(raw[6:8]),
		GapTo:     binary.BigEndian.Uint16(raw[8:10]),
		Payload:   append([]byte(nil), raw[appEnvelopeHeaderLen:]...),
	}, nil
}

// EncodeSubscription serializes a Subscribe/Unsubscribe frame payload.
func EncodeSubscription(id ids.MessageId, qos ids.QoS) []byte {
	out := make([]byte, 5)
	binary.BigEndian.PutUint32(out[0:4], uint32(id))
	out[4] = byte(qos)
	return out
}

// DecodeSubscription reverses EncodeSubscription.
func DecodeSubscription(raw []byte) (ids.MessageId, ids.QoS, error) {
	if len(raw) < 5 {
		return 0, 0, fmt.Errorf("%w: subscription frame too short", sbnerrors.ErrTruncatedFrame)
	}
	return ids.MessageId(binary.BigEndian.Uint32(raw[0:4])), ids.QoS(raw[4]), nil
}

// EncodeRetransmitRequest serializes the contiguous gap range being
// requested.
func EncodeRetransmitRequest(gapAfter, gapTo uint16) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out[0:2], gapAfter)
	binary.BigEndian.PutUint16(out[2:4], gapTo)
	return out
}

// DecodeRetransmitRequest reverses EncodeRetransmitRequest.
func DecodeRetransmitRequest(raw []byte) (gapAfter, gapTo uint16, err error) {
	if len(raw) < 4 {
		return 0, 0, fmt.Errorf("%w: retransmit request frame too short", sbnerrors.ErrTruncatedFrame)
	}
	return binary.BigEndian.Uint16(raw[0:2]), binary.BigEndian.Uint16(raw[2:4]), nil
}
