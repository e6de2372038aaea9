// Package sbnerrors enumerates the distinct error kinds the bus surfaces.
// Every non-Fatal kind here is meant to be counted and absorbed by the
// caller, never propagated across the peer boundary; Fatal is the single
// exception that aborts engine construction.
package sbnerrors

import "errors"

var (
	// ErrConfigInvalid marks a peer/host table row that failed to parse.
	ErrConfigInvalid = errors.New("sbn: config row invalid")
	// ErrCapacityExceeded marks a row or subscription dropped because a
	// bounded table was already full.
	ErrCapacityExceeded = errors.New("sbn: capacity exceeded")
	// ErrTransportFault wraps a Send/Recv failure reported by a transport.
	ErrTransportFault = errors.New("sbn: transport fault")
	// ErrTruncatedFrame means fewer than the header bytes were available.
	ErrTruncatedFrame = errors.New("sbn: truncated frame")
	// ErrPayloadOverflow means MsgSize exceeded the maximum payload capacity.
	ErrPayloadOverflow = errors.New("sbn: payload overflow")
	// ErrUnknownSender means an inbound frame named an unconfigured CpuId.
	ErrUnknownSender = errors.New("sbn: unknown sender")
	// ErrFatal means no configuration file was openable, or a scheduling
	// task could not be created during init. The enclosing application
	// must terminate.
	ErrFatal = errors.New("sbn: fatal initialization error")
)
