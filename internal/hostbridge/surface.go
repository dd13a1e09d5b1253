// Package hostbridge exposes a controller's webview surface over HTTP
// for development. Outbound frames stream to the browser as
// server-sent events; inbound frames arrive as POSTs. The bridge
// stands in for the editor host that owns real webview panels.
package hostbridge

import (
	"context"
	"sync"
)

// BridgeSurface adapts the HTTP bridge to the webview.Surface contract.
// Each browser session of the dev host gets the same shared surface;
// a rebuild of the UI assets disposes it and binds a fresh one.
type BridgeSurface struct {
	frames *broadcaster

	mu       sync.Mutex
	msgFns   map[int]func([]byte)
	dispFns  map[int]func()
	nextID   int
	disposed bool
}

// NewBridgeSurface creates a surface whose outbound frames are fanned
// out through the given broadcaster.
func newBridgeSurface(frames *broadcaster) *BridgeSurface {
	return &BridgeSurface{
		frames:  frames,
		msgFns:  make(map[int]func([]byte)),
		dispFns: make(map[int]func()),
	}
}

// PostMessage streams one frame to all connected clients. A disposed
// surface rejects the frame.
func (s *BridgeSurface) PostMessage(_ context.Context, payload []byte) (bool, error) {
	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		return false, nil
	}

	s.frames.Broadcast(event{name: "message", data: payload})
	return true, nil
}

// OnMessage subscribes to frames posted by the UI.
func (s *BridgeSurface) OnMessage(fn func(payload []byte)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.msgFns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.msgFns, id)
	}
}

// OnDispose subscribes to destruction of the surface.
func (s *BridgeSurface) OnDispose(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.dispFns[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.dispFns, id)
	}
}

// deliver plays one inbound frame to all message listeners.
func (s *BridgeSurface) deliver(payload []byte) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	fns := make([]func([]byte), 0, len(s.msgFns))
	for _, fn := range s.msgFns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
}

// dispose marks the surface dead and fires dispose listeners once.
func (s *BridgeSurface) dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	fns := make([]func(), 0, len(s.dispFns))
	for _, fn := range s.dispFns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
