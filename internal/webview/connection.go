package webview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// RequestHandler serves one request from the UI and produces its result.
// A returned error becomes the request's error response. The handler owns
// honoring ctx cancellation; the connection does not force-abort it.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// NotificationHandler serves one fire-and-forget notification from the UI.
// Errors have no response channel; they are logged and swallowed.
type NotificationHandler func(ctx context.Context, params json.RawMessage) error

// Connection is the duplex request/response/notification layer on top of a
// Channel. All outbound traffic waits for UI readiness and is serialized
// through the send queue.
type Connection struct {
	view      string
	channel   *Channel
	queue     *sendQueue
	ready     *readyGate
	logger    *slog.Logger
	telemetry Telemetry

	mu            sync.Mutex
	requests      map[string]RequestHandler
	notifications map[string]NotificationHandler
	pending       map[string]chan *Message
	disposed      bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newConnection(view string, channel *Channel, queue *sendQueue, ready *readyGate, logger *slog.Logger, telemetry Telemetry) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		view:          view,
		channel:       channel,
		queue:         queue,
		ready:         ready,
		logger:        logger,
		telemetry:     telemetry,
		requests:      make(map[string]RequestHandler),
		notifications: make(map[string]NotificationHandler),
		pending:       make(map[string]chan *Message),
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	go c.dispatch(ctx)
	return c
}

// dispatch drains the channel's inbound stream. Messages are dispatched in
// the order the transport delivered them; request handlers run in their own
// goroutine so a slow handler does not stall response routing.
func (c *Connection) dispatch(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.channel.Done():
			return
		case msg := <-c.channel.Inbound():
			kind, err := msg.Kind()
			if err != nil {
				// Decode already validated the frame; not reachable.
				continue
			}
			switch kind {
			case KindRequest:
				go c.handleRequest(ctx, msg)
			case KindResponse:
				c.routeResponse(msg)
			case KindNotification:
				go c.handleNotification(ctx, msg)
			}
		}
	}
}

func (c *Connection) handleRequest(ctx context.Context, msg *Message) {
	c.mu.Lock()
	handler, ok := c.requests[msg.Method]
	c.mu.Unlock()

	if !ok {
		c.respondError(ctx, msg.ID, &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + msg.Method})
		return
	}

	result, err := handler(ctx, msg.Params)
	if err != nil {
		rpcErr := &RPCError{Code: CodeHandlerFailed, Message: err.Error()}
		var re *RPCError
		if errors.As(err, &re) {
			rpcErr = re
		}
		if errors.Is(err, ErrUnknownReducer) {
			rpcErr.Code = CodeUnknownReducer
		}
		c.respondError(ctx, msg.ID, rpcErr)
		return
	}
	c.respondResult(ctx, msg.ID, result)
}

func (c *Connection) handleNotification(ctx context.Context, msg *Message) {
	c.mu.Lock()
	handler, ok := c.notifications[msg.Method]
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("no handler for notification", "view", c.view, "method", msg.Method)
		return
	}
	if err := handler(ctx, msg.Params); err != nil {
		// No response channel for notifications.
		c.logger.Error("notification handler failed", "view", c.view, "method", msg.Method, "error", err)
	}
}

func (c *Connection) routeResponse(msg *Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("response for unknown request", "view", c.view, "id", msg.ID)
		return
	}
	ch <- msg
}

// respondResult and respondError write responses straight through the
// channel, outside the readiness-gated send queue. A response answers
// traffic the UI itself initiated, and the UI requests its bootstrap data
// (state, theme, keybindings) before it announces readiness; routing
// responses through the gated queue would deadlock that handshake.
func (c *Connection) respondResult(ctx context.Context, id string, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		c.respondError(ctx, id, &RPCError{Code: CodeHandlerFailed, Message: fmt.Sprintf("marshal result: %v", err)})
		return
	}
	c.writeDirect(ctx, &Message{ID: id, Result: raw})
}

func (c *Connection) respondError(ctx context.Context, id string, rpcErr *RPCError) {
	c.writeDirect(ctx, &Message{ID: id, Error: rpcErr})
}

func (c *Connection) writeDirect(ctx context.Context, msg *Message) {
	if err := c.channel.Write(ctx, msg); err != nil {
		c.logger.Error("response write failed", "view", c.view, "id", msg.ID, "error", err)
	}
}

// OnRequest registers a request handler, replacing any prior handler for
// the same method.
func (c *Connection) OnRequest(method string, handler RequestHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrInvalidState
	}
	c.requests[method] = handler
	return nil
}

// OnNotification registers a notification handler, replacing any prior
// handler for the same method.
func (c *Connection) OnNotification(method string, handler NotificationHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrInvalidState
	}
	c.notifications[method] = handler
	return nil
}

// SendRequest posts a request to the UI and waits for its correlated
// response. It waits for readiness first, then for its slot in the send
// queue. The remote handler's failure comes back as an *RPCError.
func (c *Connection) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	msg, err := c.newOutbound(method, params)
	if err != nil {
		return nil, err
	}
	msg.ID = uuid.NewString()

	respCh := make(chan *Message, 1)
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, ErrInvalidState
	}
	c.pending[msg.ID] = respCh
	c.mu.Unlock()

	if err := c.send(ctx, msg); err != nil {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrInvalidState
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrInvalidState
	}
}

// SendNotification posts a fire-and-forget notification to the UI. It
// resolves once the frame is acknowledged (or dropped while unbound).
func (c *Connection) SendNotification(ctx context.Context, method string, params any) error {
	msg, err := c.newOutbound(method, params)
	if err != nil {
		return err
	}
	return c.send(ctx, msg)
}

// SendNotificationAsync reserves the notification's send-queue slot
// before returning, so successive calls reach the UI in call order even
// when no caller waits on the outcome. The eventual delivery result
// arrives on the returned channel.
func (c *Connection) SendNotificationAsync(ctx context.Context, method string, params any) (<-chan error, error) {
	msg, err := c.newOutbound(method, params)
	if err != nil {
		return nil, err
	}
	res, ok := c.queue.EnqueueAsync(c.sendTask(ctx, msg))
	if !ok {
		return nil, ErrInvalidState
	}
	// Disposal can race the enqueue: if the worker shut down before
	// draining this task, the result channel stays silent. Watching done
	// keeps the returned channel from stranding its reader.
	out := make(chan error, 1)
	go func() {
		select {
		case err := <-res:
			out <- err
		case <-c.done:
			out <- ErrInvalidState
		}
	}()
	return out, nil
}

func (c *Connection) newOutbound(method string, params any) (*Message, error) {
	c.mu.Lock()
	disposed := c.disposed
	c.mu.Unlock()
	if disposed {
		return nil, ErrInvalidState
	}

	msg := &Message{Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}
		msg.Params = raw
	}
	return msg, nil
}

// send chains the message onto the send queue immediately, so gated sends
// keep their call order, and waits for readiness inside the queued task.
// Nothing reaches the surface before the UI announces readiness. A surface
// that never announces readiness leaves the queue pending until a rebind,
// the caller cancels, or the controller is disposed; detecting and
// recreating such a surface is the host's job.
func (c *Connection) send(ctx context.Context, msg *Message) error {
	return c.queue.Enqueue(ctx, c.sendTask(ctx, msg))
}

// sendTask builds the queued post-and-await cycle for one message.
func (c *Connection) sendTask(ctx context.Context, msg *Message) func() error {
	return func() error {
		if err := c.awaitReady(ctx); err != nil {
			return err
		}
		return c.channel.Write(ctx, msg)
	}
}

// awaitReady blocks until the gate is open, tracking generation changes:
// a rebind while waiting moves the wait onto the new surface's load
// instead of stranding it on the replaced one.
func (c *Connection) awaitReady(ctx context.Context) error {
	for {
		if c.ready.Ready() {
			return nil
		}
		select {
		case <-c.ready.Chan():
			// Opened, or replaced by a rebind; re-check.
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrInvalidState
		}
	}
}

// Close tears the connection down: registration and sends fail with
// ErrInvalidState afterward, and in-flight requests are released.
// Idempotent.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	pending := c.pending
	c.pending = make(map[string]chan *Message)
	c.mu.Unlock()

	c.cancel()
	for _, ch := range pending {
		close(ch)
	}
}
