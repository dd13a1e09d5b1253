package webview

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSurface is an in-memory Surface standing in for a host webview. It
// records every posted frame and lets tests play the UI side by emitting
// frames back at the controller.
type fakeSurface struct {
	mu       sync.Mutex
	writes   [][]byte
	msgFns   map[int]func([]byte)
	dispFns  map[int]func()
	nextID   int
	ack      bool
	postErr  error
	blocking bool
	delay    time.Duration

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		msgFns:  make(map[int]func([]byte)),
		dispFns: make(map[int]func()),
		ack:     true,
	}
}

func (s *fakeSurface) PostMessage(ctx context.Context, payload []byte) (bool, error) {
	cur := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		max := s.maxInflight.Load()
		if cur <= max || s.maxInflight.CompareAndSwap(max, cur) {
			break
		}
	}

	if s.blocking {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	ack, postErr := s.ack, s.postErr
	if postErr == nil {
		s.writes = append(s.writes, payload)
	}
	s.mu.Unlock()
	return ack, postErr
}

func (s *fakeSurface) OnMessage(fn func(payload []byte)) func() {
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

func (s *fakeSurface) OnDispose(fn func()) func() {
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

func (s *fakeSurface) listenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgFns)
}

// emit plays a UI-originated frame into every registered listener.
func (s *fakeSurface) emit(t *testing.T, msg *Message) {
	t.Helper()
	payload, err := msg.Encode()
	require.NoError(t, err)
	s.emitRaw(payload)
}

func (s *fakeSurface) emitRaw(payload []byte) {
	s.mu.Lock()
	fns := make([]func([]byte), 0, len(s.msgFns))
	for _, fn := range s.msgFns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
}

func (s *fakeSurface) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

// written decodes all recorded frames.
func (s *fakeSurface) written(t *testing.T) []*Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Message, 0, len(s.writes))
	for _, w := range s.writes {
		msg, err := Decode(w)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

// firstWritten decodes the first recorded frame, or nil if none yet.
// Safe to call from helper goroutines.
func (s *fakeSurface) firstWritten() *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writes) == 0 {
		return nil
	}
	msg, err := Decode(s.writes[0])
	if err != nil {
		return nil
	}
	return msg
}

// writtenWithMethod filters recorded frames by method name.
func (s *fakeSurface) writtenWithMethod(t *testing.T, method string) []*Message {
	t.Helper()
	var out []*Message
	for _, msg := range s.written(t) {
		if msg.Method == method {
			out = append(out, msg)
		}
	}
	return out
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// markReady plays the UI's bootstrap completion.
func markReady(t *testing.T, s *fakeSurface) {
	t.Helper()
	s.emit(t, &Message{Method: MethodLoadStats, Params: json.RawMessage(`{"loadCompleteTimeMs": 12.5}`)})
}

// noopTelemetry discards all reports.
type noopTelemetry struct{}

func (noopTelemetry) Message(string, Direction, string, bool)         {}
func (noopTelemetry) Action(string, string, map[string]string, int64) {}
func (noopTelemetry) Error(string, string, map[string]string)         {}

// recordingTelemetry counts message reports per direction.
type recordingTelemetry struct {
	mu       sync.Mutex
	messages []string
	actions  []string
	errors   []string
}

func (r *recordingTelemetry) Message(_ string, dir Direction, method string, _ bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, string(dir)+":"+method)
}

func (r *recordingTelemetry) Action(_ string, action string, _ map[string]string, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
}

func (r *recordingTelemetry) Error(_ string, name string, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, name)
}
