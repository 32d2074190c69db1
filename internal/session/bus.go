package session

import (
	"sync"

	"github.com/joeblew999/casemap/internal/engine"
	"github.com/joeblew999/casemap/internal/metrics"
)

// Event is either an engine command for the browser or a view update.
type Event struct {
	Command engine.Command
	View    *View
}

// subscriberBuffer bounds how far a stream may fall behind before it is dropped.
const subscriberBuffer = 256

// Bus fans session events out to its stream subscribers. A subscriber
// whose buffer is full is dropped and its channel closed; the stream
// reconnects and is rebuilt from the replay.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

// Publish sends e to all subscribers without blocking.
func (b *Bus) Publish(e Event) {
	var slow []chan Event
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			slow = append(slow, ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range slow {
		if b.remove(ch) {
			metrics.StreamDropsTotal.Inc()
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. It is safe to
// call for a subscriber that was already dropped.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.remove(ch)
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops every subscriber.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *Bus) remove(ch chan Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; !ok {
		return false
	}
	delete(b.subs, ch)
	close(ch)
	return true
}
