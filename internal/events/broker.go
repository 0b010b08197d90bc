// Package events fans run state transitions out to interested sinks.
package events

import (
	"context"
	"sync"

	"apphost/internal/constants"
	"apphost/internal/runstate"
)

const subscriberBufferCap = 128

// Broker is a runstate.Observer that keeps a bounded replay buffer and
// forwards every transition to its subscribers. Slow subscribers drop events
// rather than block the tracker.
type Broker struct {
	mu       sync.Mutex
	subs     map[uint64]chan runstate.Event
	nextID   uint64
	replay   []runstate.Event
	capacity int
	closed   bool
}

// NewBroker creates a broker replaying up to capacity events. A non-positive
// capacity uses constants.EventBufferSize.
func NewBroker(capacity int) *Broker {
	if capacity <= 0 {
		capacity = constants.EventBufferSize
	}
	return &Broker{subs: make(map[uint64]chan runstate.Event), capacity: capacity}
}

func (b *Broker) OnTransition(e runstate.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.replay = appendReplay(b.replay, e, b.capacity)
	for _, sub := range b.subs {
		select {
		case sub <- e:
		default:
		}
	}
}

// Subscribe returns the buffered history and a channel of subsequent events.
// The channel is closed when ctx is done or the broker is closed.
func (b *Broker) Subscribe(ctx context.Context) ([]runstate.Event, <-chan runstate.Event) {
	ch := make(chan runstate.Event, subscriberBufferCap)

	b.mu.Lock()
	replay := append([]runstate.Event(nil), b.replay...)
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return replay, ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()
	return replay, ch
}

// History returns the buffered events.
func (b *Broker) History() []runstate.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]runstate.Event(nil), b.replay...)
}

// Close closes every subscriber channel. Later transitions are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *Broker) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func appendReplay(replay []runstate.Event, e runstate.Event, capacity int) []runstate.Event {
	if len(replay) < capacity {
		return append(replay, e)
	}
	copy(replay, replay[1:])
	replay[len(replay)-1] = e
	return replay
}
