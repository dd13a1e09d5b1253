// Package webview implements the RPC and state-synchronization core between
// an extension-host-side controller and a sandboxed UI surface. Controllers
// own a single state object, expose typed request/notification registration,
// and push full-state notifications to the UI whenever state changes.
package webview

import (
	"encoding/json"
	"fmt"
)

// Kind classifies a wire message.
type Kind int

const (
	// KindRequest carries an id and a method and expects a response.
	KindRequest Kind = iota
	// KindResponse correlates to a prior request id and carries a result
	// or an error.
	KindResponse
	// KindNotification carries a method but no id; no response follows.
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Message is one frame on the controller/UI channel.
//
//	Request:      { id, method, params }
//	Response:     { id, result } or { id, error }
//	Notification: { method, params }
type Message struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// Kind derives the message kind from the populated fields. Frames that fit
// no kind are rejected with a ProtocolError.
func (m *Message) Kind() (Kind, error) {
	switch {
	case m.ID != "" && m.Method != "":
		return KindRequest, nil
	case m.ID != "":
		return KindResponse, nil
	case m.Method != "":
		return KindNotification, nil
	default:
		return 0, &ProtocolError{Reason: "frame has neither id nor method"}
	}
}

// TelemetryName returns the method name used for per-message telemetry,
// or "response" for frames that carry no method.
func (m *Message) TelemetryName() string {
	if m.Method != "" {
		return m.Method
	}
	return "response"
}

// Decode parses a raw frame and validates its shape.
func Decode(payload []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("invalid frame: %v", err)}
	}
	if _, err := m.Kind(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Encode serializes the message for the wire.
func (m *Message) Encode() ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return payload, nil
}

// Default protocol methods pre-registered on every controller. Concrete
// controllers extend this set through OnRequest/OnNotification.
const (
	// Requests from the UI.
	MethodGetState        = "getState"
	MethodGetColorTheme   = "getColorTheme"
	MethodGetKeybindings  = "getKeybindings"
	MethodGetLocalization = "getLocalization"
	MethodExecuteCommand  = "executeCommand"
	MethodGetPlatform     = "getPlatform"
	MethodGetEOL          = "getEOL"
	MethodDispatchAction  = "dispatchAction"

	// Notifications from the UI.
	MethodLoadStats   = "loadStats"
	MethodActionEvent = "sendActionEvent"
	MethodErrorEvent  = "sendErrorEvent"

	// Notifications to the UI.
	MethodStateChanged       = "stateChanged"
	MethodColorThemeChanged  = "colorThemeChanged"
	MethodKeybindingsChanged = "keybindingsChanged"
)
