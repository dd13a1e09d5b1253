package webview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"
)

// ReducerFunc mutates the controller's state in response to a UI-initiated
// action. It must return the next state; returning an error leaves state
// untouched and fails the originating request.
type ReducerFunc[S any] func(ctx context.Context, state S, payload json.RawMessage) (S, error)

// HostServices are the host-runtime capabilities backing the default
// protocol surface. Zero-value fields fall back to built-in defaults.
type HostServices struct {
	ColorTheme     func(ctx context.Context) (any, error)
	Keybindings    func(ctx context.Context) (any, error)
	Localization   func(ctx context.Context) (any, error)
	ExecuteCommand func(ctx context.Context, command string, args []json.RawMessage) (any, error)
	Platform       func() string
	EOL            func() string
}

// Controller owns one UI surface's connection, state and lifecycle. It is
// the single writer of its state object: external code reads and writes
// state only through State/SetState/UpdateState and registered reducers.
type Controller[S any] struct {
	view      string
	logger    *slog.Logger
	telemetry Telemetry
	host      HostServices

	channel *Channel
	queue   *sendQueue
	ready   *readyGate
	conn    *Connection

	mu       sync.Mutex
	state    S
	reducers map[string]ReducerFunc[S]

	// reduceMu serializes dispatched reducers: each one sees the state
	// its predecessor produced, even though requests are handled on
	// separate goroutines.
	reduceMu sync.Mutex

	bindMu          sync.Mutex
	removeOnDispose func()

	disposeMu   sync.Mutex
	disposed    bool
	disposedFns []func()
}

// Option configures a Controller at construction time.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	telemetry   Telemetry
	host        HostServices
	sendTimeout time.Duration
	queueDepth  int
}

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTelemetry sets the telemetry sink for messages, actions and errors.
func WithTelemetry(t Telemetry) Option {
	return func(o *options) { o.telemetry = t }
}

// WithHostServices wires host-runtime capabilities into the default
// protocol surface.
func WithHostServices(h HostServices) Option {
	return func(o *options) { o.host = h }
}

// WithSendTimeout overrides the per-send acknowledgement deadline.
func WithSendTimeout(d time.Duration) Option {
	return func(o *options) { o.sendTimeout = d }
}

// NewController builds a controller with its default request and
// notification handlers registered. The controller starts unbound; call
// Bind once the host has created a surface.
func NewController[S any](view string, initial S, opts ...Option) *Controller[S] {
	o := &options{queueDepth: 32}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if o.telemetry == nil {
		o.telemetry = NewLogTelemetry(o.logger)
	}

	c := &Controller[S]{
		view:      view,
		logger:    o.logger,
		telemetry: o.telemetry,
		host:      o.host,
		state:     initial,
		reducers:  make(map[string]ReducerFunc[S]),
	}
	c.channel = NewChannel(view, o.logger, o.telemetry, o.sendTimeout)
	c.queue = newSendQueue(o.queueDepth)
	c.ready = newReadyGate()
	c.conn = newConnection(view, c.channel, c.queue, c.ready, o.logger, o.telemetry)
	c.registerDefaults()
	return c
}

// Bind attaches the controller to a (new) surface. Listeners on a prior
// surface are detached and the readiness gate resets: outbound traffic
// holds until the new surface announces its first load.
func (c *Controller[S]) Bind(s Surface) {
	c.bindMu.Lock()
	if c.removeOnDispose != nil {
		c.removeOnDispose()
		c.removeOnDispose = nil
	}
	c.channel.Bind(s)
	c.ready.Reset()
	if s != nil {
		c.removeOnDispose = s.OnDispose(func() { c.channel.Unbind() })
	}
	c.bindMu.Unlock()
}

// Unbind detaches the current surface. Outbound frames are dropped while
// unbound.
func (c *Controller[S]) Unbind() {
	c.channel.Unbind()
}

// WhenReady blocks until the bound surface has completed bootstrap.
func (c *Controller[S]) WhenReady(ctx context.Context) error {
	return c.ready.WhenReady(ctx)
}

// State returns the current state object.
func (c *Controller[S]) State() S {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState replaces the state and pushes the full new state to the UI.
// The push's queue slot is reserved before SetState returns, so rapid
// sets reach the UI in set order; only the delivery wait is
// asynchronous. Every set pushes, whether or not the value changed; the
// UI treats each push as authoritative.
func (c *Controller[S]) SetState(state S) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	res, err := c.conn.SendNotificationAsync(context.Background(), MethodStateChanged, state)
	if err != nil {
		c.logger.Error("state push failed", "view", c.view, "error", err)
		return
	}
	go func() {
		if err := <-res; err != nil {
			c.logger.Error("state push failed", "view", c.view, "error", err)
		}
	}()
}

// UpdateState re-pushes the current state and waits for the send to
// complete. Used to force a resync, e.g. after a surface was recreated.
func (c *Controller[S]) UpdateState(ctx context.Context) error {
	return c.pushState(ctx, c.State())
}

func (c *Controller[S]) pushState(ctx context.Context, state S) error {
	err := c.conn.SendNotification(ctx, MethodStateChanged, state)
	if err != nil {
		c.logger.Error("state push failed", "view", c.view, "error", err)
	}
	return err
}

// RegisterReducer associates an action type with a reducer. UI-side code
// invokes it through the dispatchAction request.
func (c *Controller[S]) RegisterReducer(action string, fn ReducerFunc[S]) error {
	c.disposeMu.Lock()
	disposed := c.disposed
	c.disposeMu.Unlock()
	if disposed {
		return ErrInvalidState
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reducers[action] = fn
	return nil
}

// OnRequest registers an additional request handler on the connection.
func (c *Controller[S]) OnRequest(method string, handler RequestHandler) error {
	return c.conn.OnRequest(method, handler)
}

// OnNotification registers an additional notification handler.
func (c *Controller[S]) OnNotification(method string, handler NotificationHandler) error {
	return c.conn.OnNotification(method, handler)
}

// SendRequest sends a typed request to the UI and waits for its response.
func (c *Controller[S]) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.conn.SendRequest(ctx, method, params)
}

// SendNotification sends a fire-and-forget notification to the UI.
func (c *Controller[S]) SendNotification(ctx context.Context, method string, params any) error {
	return c.conn.SendNotification(ctx, method, params)
}

// OnDisposed subscribes to the controller's one-time disposed event. A
// subscriber added after disposal is invoked immediately.
func (c *Controller[S]) OnDisposed(fn func()) {
	c.disposeMu.Lock()
	if c.disposed {
		c.disposeMu.Unlock()
		fn()
		return
	}
	c.disposedFns = append(c.disposedFns, fn)
	c.disposeMu.Unlock()
}

// Dispose tears down the connection, queue and channel. Idempotent: the
// disposed event fires exactly once, and every operation afterward fails
// with ErrInvalidState. Individual cleanup steps are best-effort; one
// failing does not stop the others.
func (c *Controller[S]) Dispose() {
	c.disposeMu.Lock()
	if c.disposed {
		c.disposeMu.Unlock()
		return
	}
	c.disposed = true
	fns := c.disposedFns
	c.disposedFns = nil
	c.disposeMu.Unlock()

	c.conn.Close()
	c.queue.Close()
	c.channel.Close()

	for _, fn := range fns {
		fn()
	}
	c.logger.Debug("controller disposed", "view", c.view)
}

// Disposed reports whether Dispose has run.
func (c *Controller[S]) Disposed() bool {
	c.disposeMu.Lock()
	defer c.disposeMu.Unlock()
	return c.disposed
}

// --- Default protocol surface ---

// actionRequest is the payload of a dispatchAction request.
type actionRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// executeCommandRequest is the payload of an executeCommand request.
type executeCommandRequest struct {
	Command string            `json:"command"`
	Args    []json.RawMessage `json:"args,omitempty"`
}

// loadStats is sent by the UI once its bootstrap completes and resolves
// the readiness gate.
type loadStats struct {
	LoadCompleteTimeMs float64 `json:"loadCompleteTimeMs"`
}

// actionEvent mirrors the UI-side telemetry notification payloads.
type actionEvent struct {
	View       string            `json:"view"`
	Action     string            `json:"action"`
	Properties map[string]string `json:"properties,omitempty"`
	DurationMs int64             `json:"durationMs,omitempty"`
}

func (c *Controller[S]) registerDefaults() {
	// Registration cannot fail before disposal; defaults run at
	// construction time.
	_ = c.conn.OnRequest(MethodGetState, func(_ context.Context, _ json.RawMessage) (any, error) {
		return c.State(), nil
	})
	_ = c.conn.OnRequest(MethodDispatchAction, c.handleDispatchAction)
	_ = c.conn.OnRequest(MethodGetColorTheme, func(ctx context.Context, _ json.RawMessage) (any, error) {
		if c.host.ColorTheme != nil {
			return c.host.ColorTheme(ctx)
		}
		return map[string]string{"kind": "dark"}, nil
	})
	_ = c.conn.OnRequest(MethodGetKeybindings, func(ctx context.Context, _ json.RawMessage) (any, error) {
		if c.host.Keybindings != nil {
			return c.host.Keybindings(ctx)
		}
		return map[string]string{}, nil
	})
	_ = c.conn.OnRequest(MethodGetLocalization, func(ctx context.Context, _ json.RawMessage) (any, error) {
		if c.host.Localization != nil {
			return c.host.Localization(ctx)
		}
		return map[string]string{}, nil
	})
	_ = c.conn.OnRequest(MethodExecuteCommand, func(ctx context.Context, params json.RawMessage) (any, error) {
		var req executeCommandRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
		}
		if c.host.ExecuteCommand == nil {
			return nil, &RPCError{Code: CodeMethodNotFound, Message: "host does not execute commands"}
		}
		return c.host.ExecuteCommand(ctx, req.Command, req.Args)
	})
	_ = c.conn.OnRequest(MethodGetPlatform, func(_ context.Context, _ json.RawMessage) (any, error) {
		if c.host.Platform != nil {
			return c.host.Platform(), nil
		}
		return runtime.GOOS, nil
	})
	_ = c.conn.OnRequest(MethodGetEOL, func(_ context.Context, _ json.RawMessage) (any, error) {
		if c.host.EOL != nil {
			return c.host.EOL(), nil
		}
		if runtime.GOOS == "windows" {
			return "\r\n", nil
		}
		return "\n", nil
	})

	_ = c.conn.OnNotification(MethodLoadStats, func(_ context.Context, params json.RawMessage) error {
		var stats loadStats
		_ = json.Unmarshal(params, &stats)
		elapsed := time.Since(c.ready.LoadStart())
		c.ready.MarkReady()
		c.telemetry.Action(c.view, "load", nil, elapsed.Milliseconds())
		c.logger.Info("webview ready", "view", c.view, "load_ms", elapsed.Milliseconds())
		return nil
	})
	_ = c.conn.OnNotification(MethodActionEvent, func(_ context.Context, params json.RawMessage) error {
		var ev actionEvent
		if err := json.Unmarshal(params, &ev); err != nil {
			return fmt.Errorf("decode action event: %w", err)
		}
		c.telemetry.Action(c.view, ev.Action, ev.Properties, ev.DurationMs)
		return nil
	})
	_ = c.conn.OnNotification(MethodErrorEvent, func(_ context.Context, params json.RawMessage) error {
		var ev actionEvent
		if err := json.Unmarshal(params, &ev); err != nil {
			return fmt.Errorf("decode error event: %w", err)
		}
		c.telemetry.Error(c.view, ev.Action, ev.Properties)
		return nil
	})
}

// handleDispatchAction runs a registered reducer against the current state.
// Unknown action types fail the request without touching state; a reducer
// error also leaves state as it was.
func (c *Controller[S]) handleDispatchAction(ctx context.Context, params json.RawMessage) (any, error) {
	var req actionRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	}

	start := time.Now()

	c.mu.Lock()
	reducer, ok := c.reducers[req.Type]
	c.mu.Unlock()
	if !ok {
		c.telemetry.Action(c.view, req.Type, map[string]string{"outcome": "unknown"}, time.Since(start).Milliseconds())
		return nil, fmt.Errorf("%w: %s", ErrUnknownReducer, req.Type)
	}

	c.reduceMu.Lock()
	next, err := reducer(ctx, c.State(), req.Payload)
	if err != nil {
		c.reduceMu.Unlock()
		c.telemetry.Action(c.view, req.Type, map[string]string{"outcome": "failed"}, time.Since(start).Milliseconds())
		return nil, err
	}
	c.SetState(next)
	c.reduceMu.Unlock()
	c.telemetry.Action(c.view, req.Type, map[string]string{"outcome": "succeeded"}, time.Since(start).Milliseconds())
	return nil, nil
}
