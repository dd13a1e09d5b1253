package webview

import "context"

// Surface is the host-owned sandboxed UI surface a controller is bound to.
// The host creates and destroys surfaces; controllers only observe them.
// Implementations must be safe for concurrent use.
type Surface interface {
	// PostMessage delivers one frame to the UI. The returned bool is the
	// host's acknowledgement; false means the surface rejected the payload.
	PostMessage(ctx context.Context, payload []byte) (bool, error)

	// OnMessage subscribes to frames sent by the UI. The returned function
	// removes the subscription.
	OnMessage(fn func(payload []byte)) (remove func())

	// OnDispose subscribes to destruction of the surface by the host.
	// The returned function removes the subscription.
	OnDispose(fn func()) (remove func())
}
