package bus

import (
	"sync"

	"github.com/sbn-project/sbn/internal/sbn/ids"
)

const pipeBuffer = 256

// NewMemoryBus returns an in-memory reference Bus implementation: good
// enough to exercise the send/receive pipelines and the loopback
// transport in tests without a real host bus.
func NewMemoryBus() Bus {
	return &memoryBus{
		pipes:     make(map[*memoryPipe]struct{}),
		watchers:  nil,
		subCounts: make(map[ids.MessageId]int),
	}
}

type memoryBus struct {
	mu        sync.Mutex
	pipes     map[*memoryPipe]struct{}
	watchers  []func(ids.MessageId, ids.QoS, bool)
	subCounts map[ids.MessageId]int
}

func (b *memoryBus) CreatePipe(name string) (Pipe, error) {
	p := &memoryPipe{
		name: name,
		bus:  b,
		subs: make(map[ids.MessageId]ids.QoS),
		ch:   make(chan Message, pipeBuffer),
	}
	b.mu.Lock()
	b.pipes[p] = struct{}{}
	b.mu.Unlock()
	return p, nil
}

func (b *memoryBus) Publish(msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for p := range b.pipes {
		p.mu.Lock()
		_, subscribed := p.subs[msg.ID]
		p.mu.Unlock()
		if !subscribed {
			continue
		}
		select {
		case p.ch <- msg:
		default:
			// Pipe is full; the sender's own retransmit/backpressure
			// handling is responsible for recovering lost application
			// traffic, matching the bounded-ring-buffer behavior
			// elsewhere in the engine.
		}
	}
	return nil
}

func (b *memoryBus) Watch(fn func(ids.MessageId, ids.QoS, bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchers = append(b.watchers, fn)
}

func (b *memoryBus) Close() error { return nil }

func (b *memoryBus) notify(id ids.MessageId, qos ids.QoS, added bool) {
	b.mu.Lock()
	watchers := append(([]func(ids.MessageId, ids.QoS, bool))(nil), b.watchers...)
	b.mu.Unlock()
	for _, w := range watchers {
		w(id, qos, added)
	}
}

// adjustSubCount applies delta to id's aggregate subscriber count and,
// on a zero<->nonzero transition, notifies watchers with the QoS of the
// Subscribe/Unsubscribe call that caused the transition.
func (b *memoryBus) adjustSubCount(id ids.MessageId, delta int, qos ids.QoS) {
	b.mu.Lock()
	before := b.subCounts[id]
	b.subCounts[id] = before + delta
	after := b.subCounts[id]
	b.mu.Unlock()

	if before == 0 && after > 0 {
		b.notify(id, qos, true)
	} else if before > 0 && after == 0 {
		b.notify(id, qos, false)
	}
}

type memoryPipe struct {
	name string
	bus  *memoryBus

	mu   sync.Mutex
	subs map[ids.MessageId]ids.QoS
	ch   chan Message
}

func (p *memoryPipe) Name() string { return p.name }

func (p *memoryPipe) Subscribe(id ids.MessageId, qos ids.QoS) error {
	p.mu.Lock()
	_, already := p.subs[id]
	p.subs[id] = qos
	p.mu.Unlock()
	if !already {
		p.bus.adjustSubCount(id, 1, qos)
	}
	return nil
}

func (p *memoryPipe) Unsubscribe(id ids.MessageId) error {
	p.mu.Lock()
	qos, present := p.subs[id]
	delete(p.subs, id)
	p.mu.Unlock()
	if present {
		p.bus.adjustSubCount(id, -1, qos)
	}
	return nil
}

func (p *memoryPipe) Poll() (Message, bool) {
	select {
	case msg := <-p.ch:
		return msg, true
	default:
		return Message{}, false
	}
}

func (p *memoryPipe) Drain() {
	for {
		select {
		case <-p.ch:
		default:
			return
		}
	}
}

func (p *memoryPipe) Close() error {
	p.mu.Lock()
	unsubs := make(map[ids.MessageId]ids.QoS, len(p.subs))
	for id, qos := range p.subs {
		unsubs[id] = qos
	}
	p.subs = nil
	p.mu.Unlock()

	for id, qos := range unsubs {
		p.bus.adjustSubCount(id, -1, qos)
	}

	p.bus.mu.Lock()
	delete(p.bus.pipes, p)
	p.bus.mu.Unlock()
	return nil
}
