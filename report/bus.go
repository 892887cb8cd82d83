// Package report carries report events from running tasks to reporters.
//
// A Bus fans events out to two kinds of subscribers. External subscribers
// (Subscribe) see every event except those in the admin area. Bridges
// (SubscribeAll) see everything, admin events included.
package report

import (
	"sync"
)

// Handler receives published events. Handlers may be called concurrently
// when siblings publish in parallel.
type Handler func(Event)

type subscription struct {
	id    int
	fn    Handler
	admin bool
}

// Bus is a typed publish/subscribe channel.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs []subscription
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers an external subscriber. Admin events are never
// delivered to it. The returned function removes the subscription.
func (b *Bus) Subscribe(fn Handler) func() {
	return b.add(fn, false)
}

// SubscribeAll registers a subscriber that also sees admin events.
func (b *Bus) SubscribeAll(fn Handler) func() {
	return b.add(fn, true)
}

func (b *Bus) add(fn Handler, admin bool) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs = append(b.subs, subscription{id: id, fn: fn, admin: admin})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers ev to the subscribers in subscription order.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if ev.Area == AreaAdmin && !s.admin {
			continue
		}
		s.fn(ev)
	}
}

// Process publishes a message received from a worker or an embedded report
// line. Only known, non-admin kinds are accepted.
func (b *Bus) Process(kind string, params []any) error {
	k, err := ParseKind(kind)
	if err != nil {
		return err
	}
	area, _ := k.Area()
	b.Publish(Event{Area: area, Kind: k, Params: params})
	return nil
}

// Message returns the typed publishing helpers of the bus.
func (b *Bus) Message() Message {
	return Message{bus: b}
}
