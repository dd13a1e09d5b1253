package webview

import "log/slog"

// Direction tags a telemetry message report as inbound (UI to controller)
// or outbound (controller to UI).
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Telemetry receives activity reports from the communication layer. Every
// message crossing the channel is reported once, with its direction, method
// name (or "response") and whether it carried an error.
type Telemetry interface {
	Message(view string, dir Direction, method string, failed bool)
	Action(view, action string, props map[string]string, durationMs int64)
	Error(view, name string, props map[string]string)
}

// NewLogTelemetry returns a Telemetry sink that writes to the given logger.
// It is the default sink when a controller is built without one.
func NewLogTelemetry(logger *slog.Logger) Telemetry {
	return &logTelemetry{logger: logger}
}

type logTelemetry struct {
	logger *slog.Logger
}

func (t *logTelemetry) Message(view string, dir Direction, method string, failed bool) {
	t.logger.Debug("webview message", "view", view, "direction", string(dir), "method", method, "failed", failed)
}

func (t *logTelemetry) Action(view, action string, props map[string]string, durationMs int64) {
	t.logger.Info("webview action", "view", view, "action", action, "props", props, "duration_ms", durationMs)
}

func (t *logTelemetry) Error(view, name string, props map[string]string) {
	t.logger.Error("webview error", "view", view, "name", name, "props", props)
}
