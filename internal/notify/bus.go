// Package notify provides a small in-process broadcast bus so UI
// regions can react to state changes without coupling to the code that
// caused them.
package notify

import "sync"

// Event identifies a broadcast signal. Events carry no payload.
type Event string

// CalendarChanged is broadcast after a confirmed calendar-affecting
// action completes, telling calendar views their data may be stale.
const CalendarChanged Event = "calendar_changed"

// Bus is a publish/subscribe fanout for Events. Publishing never
// blocks: a subscriber that is not draining its channel misses events.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel func removes the
// subscription and closes the channel; calling it twice is a no-op.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 8)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Publish broadcasts an event to all current subscribers.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop rather than block the publisher.
		}
	}
}
