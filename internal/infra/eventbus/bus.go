// Package eventbus implements the Event Bus / Fan-out (spec §4.F): local
// subscription dispatch shared by the adapter's subscribeToEvents surface,
// plus a WebSocket push channel for external clients.
package eventbus

import (
	"log"
	"sync"

	"github.com/npcforge/npcforge/internal/domain"
)

type subscriber struct {
	id      uint64
	filter  domain.SubscriptionFilter
	handler func(domain.CombatEvent)
}

// Bus is the local subscriber registry. On each accepted event it invokes
// every matching handler; a panicking handler is caught and logged so it
// cannot affect other subscribers. One-shot subscriptions remove
// themselves after their first matching delivery.
type Bus struct {
	mu      sync.Mutex
	nextID  uint64
	entries map[uint64]*subscriber
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{entries: make(map[uint64]*subscriber)}
}

// Subscribe registers handler for events matching filter and returns an
// unsubscribe function.
func (b *Bus) Subscribe(filter domain.SubscriptionFilter, handler func(domain.CombatEvent)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.entries[id] = &subscriber{id: id, filter: filter, handler: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.entries, id)
		b.mu.Unlock()
	}
}

// Publish delivers ev to every matching subscriber.
func (b *Bus) Publish(ev domain.CombatEvent) {
	b.mu.Lock()
	matched := make([]*subscriber, 0, len(b.entries))
	var once []uint64
	for _, s := range b.entries {
		if s.filter.Matches(ev.Type) {
			matched = append(matched, s)
			if s.filter.Once {
				once = append(once, s.id)
			}
		}
	}
	for _, id := range once {
		delete(b.entries, id)
	}
	b.mu.Unlock()

	for _, s := range matched {
		invoke(s.handler, ev)
	}
}

// SubscriberCount returns the number of currently registered subscribers,
// used for tests and diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func invoke(handler func(domain.CombatEvent), ev domain.CombatEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("eventbus: subscriber handler panicked: %v", r)
		}
	}()
	handler(ev)
}
