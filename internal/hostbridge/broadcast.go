package hostbridge

import "sync"

// event is one server-sent event fanned out to connected UI clients.
type event struct {
	name string
	data []byte
}

// broadcaster fans events out to all subscribed listeners.
type broadcaster struct {
	mu        sync.RWMutex
	listeners map[chan event]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{listeners: make(map[chan event]struct{})}
}

// Subscribe returns a channel receiving broadcast events. The caller
// must call Unsubscribe when done to prevent goroutine leaks.
func (b *broadcaster) Subscribe() chan event {
	ch := make(chan event, 16)
	b.mu.Lock()
	b.listeners[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener channel and closes it.
func (b *broadcaster) Unsubscribe(ch chan event) {
	b.mu.Lock()
	delete(b.listeners, ch)
	b.mu.Unlock()
	close(ch)
}

// Broadcast sends an event to all listeners. Non-blocking: a listener
// with a full channel misses the event.
func (b *broadcaster) Broadcast(ev event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broadcaster) listenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
