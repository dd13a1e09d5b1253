package webview

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultSendTimeout is the deadline for one post-and-acknowledge cycle.
const DefaultSendTimeout = 30 * time.Second

// inboundDepth bounds the decoded inbound frame buffer. The dispatcher
// drains it continuously; the buffer only absorbs short bursts.
const inboundDepth = 64

// Channel adapts the host's postMessage-style surface into a duplex
// reader/writer pair. It survives surface recreation: Bind replaces the
// active surface atomically, detaching all listeners from the prior one so
// frames are never delivered twice.
type Channel struct {
	view      string
	logger    *slog.Logger
	telemetry Telemetry
	timeout   time.Duration

	mu       sync.Mutex
	surface  Surface
	detach   func()
	closed   bool
	inbound  chan *Message
	quit     chan struct{}
	closeOne sync.Once
}

// NewChannel creates an unbound channel. Frames written while no surface is
// bound are dropped, not queued.
func NewChannel(view string, logger *slog.Logger, telemetry Telemetry, timeout time.Duration) *Channel {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Channel{
		view:      view,
		logger:    logger,
		telemetry: telemetry,
		timeout:   timeout,
		inbound:   make(chan *Message, inboundDepth),
		quit:      make(chan struct{}),
	}
}

// Bind replaces the active surface. Listeners attached to the prior surface
// are removed first. Bind(nil) detaches without erroring.
func (c *Channel) Bind(s Surface) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.detach != nil {
		c.detach()
		c.detach = nil
	}
	c.surface = s
	if s == nil || c.closed {
		return
	}
	c.detach = s.OnMessage(c.receive)
}

// Unbind detaches the current surface, if any.
func (c *Channel) Unbind() {
	c.Bind(nil)
}

// receive decodes one inbound frame and hands it to the dispatcher.
// Malformed frames are reported and dropped.
func (c *Channel) receive(payload []byte) {
	msg, err := Decode(payload)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "view", c.view, "error", err)
		c.telemetry.Error(c.view, "protocolError", map[string]string{"reason": err.Error()})
		return
	}
	c.telemetry.Message(c.view, DirectionInbound, msg.TelemetryName(), msg.Error != nil)

	select {
	case c.inbound <- msg:
	case <-c.quit:
	case <-time.After(c.timeout):
		c.logger.Warn("inbound frame dropped, dispatcher stalled", "view", c.view, "method", msg.TelemetryName())
	}
}

// Inbound returns the stream of decoded frames from the bound surface.
func (c *Channel) Inbound() <-chan *Message {
	return c.inbound
}

// Done is closed when the channel is closed.
func (c *Channel) Done() <-chan struct{} {
	return c.quit
}

// Write posts one frame to the currently bound surface and waits for its
// acknowledgement. With no surface bound the frame is silently dropped and
// Write resolves as a no-op. A negative acknowledgement fails with
// ErrDeliveryFailed; a missing one fails with ErrSendTimeout after the
// channel's deadline.
func (c *Channel) Write(ctx context.Context, msg *Message) error {
	c.mu.Lock()
	s := c.surface
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrInvalidState
	}

	c.telemetry.Message(c.view, DirectionOutbound, msg.TelemetryName(), msg.Error != nil)

	if s == nil {
		// Dropped, not buffered. The host owns reconnect policy.
		c.logger.Debug("no surface bound, dropping outbound frame", "view", c.view, "method", msg.TelemetryName())
		return nil
	}

	payload, err := msg.Encode()
	if err != nil {
		return err
	}

	postCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type ack struct {
		ok  bool
		err error
	}
	done := make(chan ack, 1)
	go func() {
		ok, err := s.PostMessage(postCtx, payload)
		done <- ack{ok: ok, err: err}
	}()

	select {
	case a := <-done:
		if a.err != nil {
			// A post aborted by the deadline is a timeout, not a nack.
			if postCtx.Err() != nil && ctx.Err() == nil {
				return ErrSendTimeout
			}
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, a.err)
		}
		if !a.ok {
			return ErrDeliveryFailed
		}
		return nil
	case <-postCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrSendTimeout
	}
}

// Close detaches the surface and stops inbound delivery. Idempotent.
func (c *Channel) Close() {
	c.closeOne.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.detach != nil {
			c.detach()
			c.detach = nil
		}
		c.surface = nil
		c.mu.Unlock()
		close(c.quit)
	})
}
