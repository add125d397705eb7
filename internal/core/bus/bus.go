// Package bus implements the single-writer, multi-reader broadcast channel
// carrying snapshots and notification events from the core to its
// subscribers (websocket hub, MQTT bridge, log sinks).
package bus

import (
	"sync"
	"sync/atomic"

	"watchpost.core/internal/core/domain"
)

// Subscription is one reader's view of the bus. Snapshots are delivered in
// publish order; when the buffer fills the oldest snapshot is dropped, since
// only the latest state matters. Events get the same bounded treatment — a
// missed toast is tolerable, a blocked publisher is not.
type Subscription struct {
	snapshots chan domain.Snapshot
	events    chan domain.NotificationEvent
	bus       *Bus
	closed    bool
}

func (s *Subscription) Snapshots() <-chan domain.Snapshot       { return s.snapshots }
func (s *Subscription) Events() <-chan domain.NotificationEvent { return s.events }

// Close detaches the subscription from the bus and closes its channels.
func (s *Subscription) Close() { s.bus.unsubscribe(s) }

// Bus fans out to N subscribers without back-pressuring the publisher.
type Bus struct {
	mu          sync.Mutex
	subs        map[*Subscription]struct{}
	snapBuffer  int
	eventBuffer int
	closed      bool

	dropped atomic.Uint64
}

func New(snapBuffer, eventBuffer int) *Bus {
	if snapBuffer < 1 {
		snapBuffer = 1
	}
	if eventBuffer < 1 {
		eventBuffer = 1
	}
	return &Bus{
		subs:        make(map[*Subscription]struct{}),
		snapBuffer:  snapBuffer,
		eventBuffer: eventBuffer,
	}
}

func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		snapshots: make(chan domain.Snapshot, b.snapBuffer),
		events:    make(chan domain.NotificationEvent, b.eventBuffer),
		bus:       b,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.closed = true
		close(sub.snapshots)
		close(sub.events)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	delete(b.subs, sub)
	sub.closed = true
	close(sub.snapshots)
	close(sub.events)
}

// PublishSnapshot delivers to every subscriber, evicting the oldest buffered
// snapshot when a reader is behind. Never blocks.
func (b *Bus) PublishSnapshot(snap domain.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		for {
			select {
			case sub.snapshots <- snap:
			default:
				// Full: drop the oldest and retry once; the reader still
				// observes snapshots in publish order.
				select {
				case <-sub.snapshots:
					b.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// PublishEvent attempts delivery once per subscriber; a full event buffer
// drops the new event rather than stalling the publisher.
func (b *Bus) PublishEvent(ev domain.NotificationEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.events <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the total messages evicted or rejected for slow readers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close detaches all subscribers. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		delete(b.subs, sub)
		sub.closed = true
		close(sub.snapshots)
		close(sub.events)
	}
}
