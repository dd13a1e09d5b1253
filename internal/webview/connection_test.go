package webview

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnection(t *testing.T, s *fakeSurface) (*Connection, *readyGate) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	tel := noopTelemetry{}
	ch := NewChannel("test", logger, tel, 0)
	q := newSendQueue(32)
	g := newReadyGate()
	conn := newConnection("test", ch, q, g, logger, tel)
	if s != nil {
		ch.Bind(s)
	}
	t.Cleanup(func() {
		conn.Close()
		q.Close()
		ch.Close()
	})
	return conn, g
}

func TestConnection_RequestDispatch(t *testing.T) {
	s := newFakeSurface()
	conn, _ := newTestConnection(t, s)

	require.NoError(t, conn.OnRequest("echo", func(_ context.Context, params json.RawMessage) (any, error) {
		return json.RawMessage(params), nil
	}))

	s.emit(t, &Message{ID: "r1", Method: "echo", Params: []byte(`{"x":42}`)})

	waitFor(t, func() bool { return s.writeCount() == 1 }, "response write")
	resp := s.written(t)[0]
	assert.Equal(t, "r1", resp.ID)
	assert.JSONEq(t, `{"x":42}`, string(resp.Result))
	assert.Nil(t, resp.Error)
}

func TestConnection_RequestHandlerFailure(t *testing.T) {
	s := newFakeSurface()
	conn, _ := newTestConnection(t, s)

	require.NoError(t, conn.OnRequest("fail", func(_ context.Context, _ json.RawMessage) (any, error) {
		return nil, errors.New("handler exploded")
	}))

	s.emit(t, &Message{ID: "r2", Method: "fail"})

	waitFor(t, func() bool { return s.writeCount() == 1 }, "error response")
	resp := s.written(t)[0]
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeHandlerFailed, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "handler exploded")
}

func TestConnection_UnknownRequestMethod(t *testing.T) {
	s := newFakeSurface()
	newTestConnection(t, s)

	s.emit(t, &Message{ID: "r3", Method: "nope"})

	waitFor(t, func() bool { return s.writeCount() == 1 }, "method-not-found response")
	resp := s.written(t)[0]
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestConnection_NotificationDispatch(t *testing.T) {
	s := newFakeSurface()
	conn, _ := newTestConnection(t, s)

	got := make(chan json.RawMessage, 1)
	require.NoError(t, conn.OnNotification("ping", func(_ context.Context, params json.RawMessage) error {
		got <- params
		return nil
	}))

	s.emit(t, &Message{Method: "ping", Params: []byte(`{"n":1}`)})

	select {
	case params := <-got:
		assert.JSONEq(t, `{"n":1}`, string(params))
	case <-time.After(2 * time.Second):
		t.Fatal("notification handler was not invoked")
	}
	// Fire-and-forget: no response frame.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, s.writeCount())
}

func TestConnection_SendRequestRoundTrip(t *testing.T) {
	s := newFakeSurface()
	conn, g := newTestConnection(t, s)
	g.MarkReady()

	// Play the UI: answer the first request frame that arrives.
	go func() {
		for {
			if req := s.firstWritten(); req != nil {
				s.emit(t, &Message{ID: req.ID, Result: []byte(`"pong"`)})
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	result, err := conn.SendRequest(context.Background(), "ping", map[string]int{"n": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `"pong"`, string(result))
}

func TestConnection_SendRequestRemoteError(t *testing.T) {
	s := newFakeSurface()
	conn, g := newTestConnection(t, s)
	g.MarkReady()

	go func() {
		for {
			if req := s.firstWritten(); req != nil {
				s.emit(t, &Message{ID: req.ID, Error: &RPCError{Code: CodeHandlerFailed, Message: "remote broke"}})
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	_, err := conn.SendRequest(context.Background(), "ping", nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "remote broke", rpcErr.Message)
}

func TestConnection_SendGatedUntilReady(t *testing.T) {
	s := newFakeSurface()
	conn, g := newTestConnection(t, s)

	done := make(chan error, 1)
	go func() {
		done <- conn.SendNotification(context.Background(), "stateChanged", map[string]int{"count": 1})
	}()

	// Nothing may reach the surface before readiness.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, s.writeCount())
	select {
	case <-done:
		t.Fatal("send resolved before readiness")
	default:
	}

	g.MarkReady()
	require.NoError(t, <-done)
	assert.Equal(t, 1, s.writeCount())
}

func TestConnection_GatedSendsKeepCallOrder(t *testing.T) {
	s := newFakeSurface()
	conn, g := newTestConnection(t, s)

	// Issue sends sequentially while gated; each chains onto the queue at
	// call time, so delivery order must equal call order.
	results := make([]chan error, 5)
	for i := 0; i < 5; i++ {
		i := i
		results[i] = make(chan error, 1)
		go func() {
			results[i] <- conn.SendNotification(context.Background(), "seq", map[string]int{"seq": i})
		}()
		// Let each call reach the queue before issuing the next.
		want := int64(i + 1)
		waitFor(t, func() bool { return conn.queue.Accepted() == want }, "enqueue")
	}

	g.MarkReady()
	for i := 0; i < 5; i++ {
		require.NoError(t, <-results[i])
	}

	msgs := s.written(t)
	require.Len(t, msgs, 5)
	for i, msg := range msgs {
		var p struct {
			Seq int `json:"seq"`
		}
		require.NoError(t, json.Unmarshal(msg.Params, &p))
		assert.Equal(t, i, p.Seq, "gated sends must deliver in call order")
	}
}

func TestConnection_DisposedFailsFast(t *testing.T) {
	s := newFakeSurface()
	conn, _ := newTestConnection(t, s)
	conn.Close()
	conn.Close() // idempotent

	require.ErrorIs(t, conn.OnRequest("m", nil), ErrInvalidState)
	require.ErrorIs(t, conn.OnNotification("m", nil), ErrInvalidState)
	require.ErrorIs(t, conn.SendNotification(context.Background(), "m", nil), ErrInvalidState)
	_, err := conn.SendRequest(context.Background(), "m", nil)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestConnection_SendTimeoutReleasesQueue(t *testing.T) {
	s := newFakeSurface()
	logger := slog.New(slog.DiscardHandler)
	ch := NewChannel("test", logger, noopTelemetry{}, 50*time.Millisecond)
	q := newSendQueue(32)
	g := newReadyGate()
	conn := newConnection("test", ch, q, g, logger, noopTelemetry{})
	t.Cleanup(func() {
		conn.Close()
		q.Close()
		ch.Close()
	})

	s.blocking = true
	ch.Bind(s)
	g.MarkReady()

	err := conn.SendNotification(context.Background(), "slow", nil)
	require.ErrorIs(t, err, ErrSendTimeout)

	// The failed send must not wedge the queue.
	s.blocking = false
	require.NoError(t, conn.SendNotification(context.Background(), "next", nil))
}
