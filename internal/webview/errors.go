package webview

import (
	"errors"
	"fmt"
)

// Sentinel errors for the controller/UI communication layer.
// Callers should test for them with errors.Is.
var (
	// ErrInvalidState is returned when an operation is attempted on a
	// disposed controller or connection.
	ErrInvalidState = errors.New("webview: operation on disposed controller")

	// ErrDeliveryFailed is returned when the surface rejected a posted
	// message (negative acknowledgement from the host).
	ErrDeliveryFailed = errors.New("webview: message delivery failed")

	// ErrSendTimeout is returned when the surface did not acknowledge a
	// posted message within the send deadline.
	ErrSendTimeout = errors.New("webview: send timed out")

	// ErrUnknownReducer is returned when a dispatched action names an
	// action type with no registered reducer. State is left untouched.
	ErrUnknownReducer = errors.New("webview: no reducer registered for action")
)

// ProtocolError reports a malformed wire frame. Frames that cannot be
// classified as request, response or notification are rejected at the
// dispatch boundary rather than guessed at.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("webview: protocol error: %s", e.Reason)
}

// RPCError is the error shape carried on the wire in response frames.
// It is also returned from SendRequest when the remote handler failed.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("webview: remote error %d: %s", e.Code, e.Message)
}

// Error codes used in response frames. The numeric space follows the
// JSON-RPC convention for server errors.
const (
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeHandlerFailed  = -32000
	CodeUnknownReducer = -32001
)
