// Package bus defines the local publish-subscribe contract the engine
// bridges onto the network. The host bus itself -- pipe creation,
// enqueue/dequeue, last-sender query -- is an external collaborator;
// this package only states the shape of that contract plus an in-memory
// reference implementation good enough to drive tests and the loopback
// transport without a real host bus present.
package bus

import "github.com/sbn-project/sbn/internal/sbn/ids"

// Message is one message moving across the local bus.
type Message struct {
	ID        ids.MessageId
	QoS       ids.QoS
	Payload   []byte
	SenderApp string
}

// Pipe is a named queue on the local bus. The engine creates one per
// configured peer: the sink for messages bound outward to it.
type Pipe interface {
	Name() string

	// Subscribe/Unsubscribe mutate this pipe's interest set.
	Subscribe(id ids.MessageId, qos ids.QoS) error
	Unsubscribe(id ids.MessageId) error

	// Poll performs one non-blocking receive. ok is false if nothing is
	// queued.
	Poll() (msg Message, ok bool)

	// Drain discards any currently queued messages, used when a peer
	// transitions back to Announcing.
	Drain()

	Close() error
}

// Bus is the local publish-subscribe facility an SBN instance bridges.
type Bus interface {
	// CreatePipe allocates a new Pipe with no initial subscriptions.
	CreatePipe(name string) (Pipe, error)

	// Publish delivers msg to every pipe currently subscribed to msg.ID.
	Publish(msg Message) error

	// Watch registers a callback invoked whenever any pipe's interest in
	// a MessageId transitions between zero and nonzero subscriber count
	// -- the trigger for outgoing subscription mirroring. added is true
	// when the first subscriber appeared, false when the last one left.
	// qos is the QoS the triggering Subscribe/Unsubscribe call was made
	// with, for the Subscribe frame spec §4.5 requires mirroring at the
	// local QoS.
	Watch(fn func(id ids.MessageId, qos ids.QoS, added bool))

	Close() error
}
