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

type counterState struct {
	Count int `json:"count"`
}

func newTestController(t *testing.T, initial counterState, opts ...Option) *Controller[counterState] {
	t.Helper()
	base := []Option{
		WithLogger(slog.New(slog.DiscardHandler)),
		WithTelemetry(noopTelemetry{}),
	}
	c := NewController("testView", initial, append(base, opts...)...)
	t.Cleanup(c.Dispose)
	return c
}

// dispatchAction plays a UI-side reducer dispatch and returns the response.
func dispatchAction(t *testing.T, c *Controller[counterState], s *fakeSurface, id, action string, payload string) *Message {
	t.Helper()
	params := `{"type":"` + action + `"`
	if payload != "" {
		params += `,"payload":` + payload
	}
	params += `}`
	s.emit(t, &Message{ID: id, Method: MethodDispatchAction, Params: json.RawMessage(params)})

	var resp *Message
	waitFor(t, func() bool {
		for _, msg := range s.written(t) {
			if msg.ID == id {
				resp = msg
				return true
			}
		}
		return false
	}, "dispatch response")
	return resp
}

func TestController_ReducerEndToEnd(t *testing.T) {
	c := newTestController(t, counterState{Count: 0})
	require.NoError(t, c.RegisterReducer("increment", func(_ context.Context, s counterState, payload json.RawMessage) (counterState, error) {
		var n int
		if err := json.Unmarshal(payload, &n); err != nil {
			return s, err
		}
		return counterState{Count: s.Count + n}, nil
	}))

	s := newFakeSurface()
	c.Bind(s)
	markReady(t, s)

	resp := dispatchAction(t, c, s, "a1", "increment", "5")
	assert.Nil(t, resp.Error)

	assert.Equal(t, 5, c.State().Count)

	waitFor(t, func() bool {
		return len(s.writtenWithMethod(t, MethodStateChanged)) == 1
	}, "state push")
	push := s.writtenWithMethod(t, MethodStateChanged)[0]
	assert.JSONEq(t, `{"count":5}`, string(push.Params))
}

func TestController_UnknownReducerLeavesStateUntouched(t *testing.T) {
	c := newTestController(t, counterState{Count: 3})
	s := newFakeSurface()
	c.Bind(s)
	markReady(t, s)

	resp := dispatchAction(t, c, s, "a2", "missing", "1")
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnknownReducer, resp.Error.Code)
	assert.Equal(t, 3, c.State().Count)
	assert.Empty(t, s.writtenWithMethod(t, MethodStateChanged))
}

func TestController_FailingReducerLeavesStateUntouched(t *testing.T) {
	c := newTestController(t, counterState{Count: 3})
	require.NoError(t, c.RegisterReducer("boom", func(_ context.Context, s counterState, _ json.RawMessage) (counterState, error) {
		return counterState{Count: 99}, errors.New("reducer failed")
	}))

	s := newFakeSurface()
	c.Bind(s)
	markReady(t, s)

	resp := dispatchAction(t, c, s, "a3", "boom", "null")
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "reducer failed")
	assert.Equal(t, 3, c.State().Count)
	assert.Empty(t, s.writtenWithMethod(t, MethodStateChanged))
}

func TestController_SetStateAlwaysPushes(t *testing.T) {
	c := newTestController(t, counterState{Count: 1})
	s := newFakeSurface()
	c.Bind(s)
	markReady(t, s)

	// No diffing: pushing the same value still notifies.
	c.SetState(counterState{Count: 1})
	c.SetState(counterState{Count: 1})

	waitFor(t, func() bool {
		return len(s.writtenWithMethod(t, MethodStateChanged)) == 2
	}, "two state pushes")
}

func TestController_UpdateStateForcesResync(t *testing.T) {
	c := newTestController(t, counterState{Count: 7})
	s := newFakeSurface()
	c.Bind(s)
	markReady(t, s)

	require.NoError(t, c.UpdateState(context.Background()))
	pushes := s.writtenWithMethod(t, MethodStateChanged)
	require.Len(t, pushes, 1)
	assert.JSONEq(t, `{"count":7}`, string(pushes[0].Params))
}

func TestController_GetStateRequest(t *testing.T) {
	c := newTestController(t, counterState{Count: 11})
	s := newFakeSurface()
	c.Bind(s)

	// Bootstrap requests are answered before readiness.
	s.emit(t, &Message{ID: "g1", Method: MethodGetState})
	waitFor(t, func() bool { return s.writeCount() == 1 }, "getState response")
	resp := s.written(t)[0]
	assert.JSONEq(t, `{"count":11}`, string(resp.Result))
}

func TestController_ReadinessGatesOutbound(t *testing.T) {
	c := newTestController(t, counterState{})
	s := newFakeSurface()
	c.Bind(s)

	done := make(chan error, 1)
	go func() {
		done <- c.SendNotification(context.Background(), MethodColorThemeChanged, nil)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, s.writeCount(), "nothing may be posted before readiness")

	markReady(t, s)
	require.NoError(t, <-done)
	waitFor(t, func() bool { return s.writeCount() == 1 }, "gated send delivered")
}

func TestController_RebindResetsReadiness(t *testing.T) {
	c := newTestController(t, counterState{})
	first := newFakeSurface()
	c.Bind(first)
	markReady(t, first)
	require.NoError(t, c.WhenReady(context.Background()))

	second := newFakeSurface()
	c.Bind(second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.WhenReady(ctx), context.DeadlineExceeded)

	markReady(t, second)
	require.NoError(t, c.WhenReady(context.Background()))
}

func TestController_PendingSendSurvivesRebind(t *testing.T) {
	c := newTestController(t, counterState{})
	first := newFakeSurface()
	c.Bind(first)

	// Occupy the queue with a send gated on a surface that never loads.
	done := make(chan error, 1)
	go func() {
		done <- c.SendNotification(context.Background(), MethodColorThemeChanged, nil)
	}()
	time.Sleep(50 * time.Millisecond)

	second := newFakeSurface()
	c.Bind(second)
	markReady(t, second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("send queued before the rebind never released")
	}
	waitFor(t, func() bool { return second.writeCount() >= 1 }, "delivery on the new surface")
	assert.Equal(t, 0, first.writeCount())

	// The worker is free again for post-ready traffic.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.SendNotification(ctx, MethodColorThemeChanged, nil))
}

func TestController_ConcurrentDispatchesAccumulate(t *testing.T) {
	c := newTestController(t, counterState{})
	require.NoError(t, c.RegisterReducer("increment", func(_ context.Context, s counterState, _ json.RawMessage) (counterState, error) {
		return counterState{Count: s.Count + 1}, nil
	}))

	s := newFakeSurface()
	c.Bind(s)
	markReady(t, s)

	const n = 16
	for i := 0; i < n; i++ {
		msg := &Message{
			ID:     "inc-" + string(rune('a'+i)),
			Method: MethodDispatchAction,
			Params: json.RawMessage(`{"type":"increment"}`),
		}
		payload, err := msg.Encode()
		require.NoError(t, err)
		go s.emitRaw(payload)
	}

	waitFor(t, func() bool {
		acks := 0
		for _, msg := range s.written(t) {
			if msg.ID != "" && msg.Method == "" {
				acks++
			}
		}
		return acks == n
	}, "all dispatch responses")

	// Every reducer run must see its predecessor's output.
	assert.Equal(t, n, c.State().Count)
}

func TestController_StatePushesKeepSetOrder(t *testing.T) {
	c := newTestController(t, counterState{})
	s := newFakeSurface()
	c.Bind(s)
	markReady(t, s)

	for i := 1; i <= 5; i++ {
		c.SetState(counterState{Count: i})
	}

	waitFor(t, func() bool {
		return len(s.writtenWithMethod(t, MethodStateChanged)) == 5
	}, "five state pushes")
	for i, push := range s.writtenWithMethod(t, MethodStateChanged) {
		var st counterState
		require.NoError(t, json.Unmarshal(push.Params, &st))
		assert.Equal(t, i+1, st.Count, "pushes must arrive in the order the state was set")
	}
}

func TestController_DisposeIdempotent(t *testing.T) {
	c := newTestController(t, counterState{})
	s := newFakeSurface()
	c.Bind(s)

	events := 0
	c.OnDisposed(func() { events++ })

	c.Dispose()
	c.Dispose()
	assert.Equal(t, 1, events, "disposed event must fire exactly once")
	assert.True(t, c.Disposed())

	require.ErrorIs(t, c.RegisterReducer("x", nil), ErrInvalidState)
	require.ErrorIs(t, c.OnRequest("x", nil), ErrInvalidState)
	require.ErrorIs(t, c.OnNotification("x", nil), ErrInvalidState)
	require.ErrorIs(t, c.SendNotification(context.Background(), "x", nil), ErrInvalidState)
	_, err := c.SendRequest(context.Background(), "x", nil)
	require.ErrorIs(t, err, ErrInvalidState)

	// A late subscriber still observes the terminal state.
	late := false
	c.OnDisposed(func() { late = true })
	assert.True(t, late)
}

func TestController_DefaultRequests(t *testing.T) {
	themed := map[string]any{"kind": "light", "name": "Quiet Light"}
	c := newTestController(t, counterState{}, WithHostServices(HostServices{
		ColorTheme: func(_ context.Context) (any, error) { return themed, nil },
		Platform:   func() string { return "linux" },
		EOL:        func() string { return "\n" },
	}))
	s := newFakeSurface()
	c.Bind(s)

	s.emit(t, &Message{ID: "t1", Method: MethodGetColorTheme})
	s.emit(t, &Message{ID: "t2", Method: MethodGetPlatform})
	s.emit(t, &Message{ID: "t3", Method: MethodGetEOL})

	waitFor(t, func() bool { return s.writeCount() == 3 }, "default responses")
	byID := map[string]*Message{}
	for _, msg := range s.written(t) {
		byID[msg.ID] = msg
	}
	assert.JSONEq(t, `{"kind":"light","name":"Quiet Light"}`, string(byID["t1"].Result))
	assert.JSONEq(t, `"linux"`, string(byID["t2"].Result))
	assert.JSONEq(t, `"\n"`, string(byID["t3"].Result))
}

func TestController_TelemetryEventsForwarded(t *testing.T) {
	tel := &recordingTelemetry{}
	c := NewController("testView", counterState{},
		WithLogger(slog.New(slog.DiscardHandler)),
		WithTelemetry(tel))
	t.Cleanup(c.Dispose)

	s := newFakeSurface()
	c.Bind(s)
	s.emit(t, &Message{Method: MethodActionEvent, Params: []byte(`{"action":"openDesigner","durationMs":40}`)})
	s.emit(t, &Message{Method: MethodErrorEvent, Params: []byte(`{"action":"queryFailed"}`)})

	waitFor(t, func() bool {
		tel.mu.Lock()
		defer tel.mu.Unlock()
		return len(tel.actions) >= 1 && len(tel.errors) >= 1
	}, "telemetry forwarding")

	tel.mu.Lock()
	defer tel.mu.Unlock()
	assert.Contains(t, tel.actions, "openDesigner")
	assert.Contains(t, tel.errors, "queryFailed")
}

func TestController_ExecuteCommand(t *testing.T) {
	var gotCommand string
	c := newTestController(t, counterState{}, WithHostServices(HostServices{
		ExecuteCommand: func(_ context.Context, command string, _ []json.RawMessage) (any, error) {
			gotCommand = command
			return "ok", nil
		},
	}))
	s := newFakeSurface()
	c.Bind(s)

	s.emit(t, &Message{ID: "c1", Method: MethodExecuteCommand, Params: []byte(`{"command":"objectExplorer.refresh"}`)})
	waitFor(t, func() bool { return s.writeCount() == 1 }, "command response")
	assert.Equal(t, "objectExplorer.refresh", gotCommand)
	assert.Nil(t, s.written(t)[0].Error)
}
