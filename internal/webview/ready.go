package webview

import (
	"context"
	"sync"
	"time"
)

// readyGate tracks whether the remote UI has completed its bootstrap
// handshake. Outbound requests and notifications wait on the gate so that
// nothing is posted into a surface that is still parsing scripts and
// rendering for the first time.
type readyGate struct {
	mu        sync.Mutex
	ready     bool
	readyCh   chan struct{}
	loadStart time.Time
}

func newReadyGate() *readyGate {
	return &readyGate{
		readyCh:   make(chan struct{}),
		loadStart: time.Now(),
	}
}

// WhenReady blocks until the UI has signaled readiness or ctx is done.
// Returns immediately if the gate is already open. The wait survives
// Reset: a rebind replaces the generation and the wait carries over to
// the new one, resolving when that generation's load completes.
func (g *readyGate) WhenReady(ctx context.Context) error {
	for {
		g.mu.Lock()
		ready := g.ready
		ch := g.readyCh
		g.mu.Unlock()
		if ready {
			return nil
		}

		select {
		case <-ch:
			// Opened, or replaced by Reset; re-check.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// MarkReady opens the gate. Calling it more than once is a no-op.
func (g *readyGate) MarkReady() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ready {
		return
	}
	g.ready = true
	close(g.readyCh)
}

// Reset closes the gate again with a fresh load-start timestamp. Called on
// every rebind to a different or recreated surface. Waiters parked on the
// replaced generation are woken so they re-park on the new one; a send
// queued before a rebind therefore releases once the new surface
// announces readiness.
func (g *readyGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.ready {
		// MarkReady never ran on this generation, so its channel is
		// still open; close it to wake waiters into a re-check.
		close(g.readyCh)
	}
	g.ready = false
	g.readyCh = make(chan struct{})
	g.loadStart = time.Now()
}

// Chan returns the channel backing the current readiness generation. It
// closes when MarkReady opens the generation or Reset replaces it; after a
// close, re-check Ready and re-fetch before waiting again.
func (g *readyGate) Chan() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.readyCh
}

// Ready reports whether the gate is currently open.
func (g *readyGate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

// LoadStart returns the start of the current load cycle.
func (g *readyGate) LoadStart() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loadStart
}
