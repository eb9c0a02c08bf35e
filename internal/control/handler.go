// Package control is the MQTT control plane: remote commands for a running
// player, answered on the status topic.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-video-surface/internal/config"
)

// Command represents a control plane command
type Command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// CommandCallbacks contains callback functions for commands. A nil callback
// answers "not implemented". ResolveSource is optional; when set it runs on
// the handler goroutine before OnSetSource and its result is what
// OnSetSource receives.
type CommandCallbacks struct {
	OnGetStatus      func() map[string]any
	OnStart          func() error
	OnStop           func() error
	OnRestart        func() error
	OnStopThenDelete func() error
	OnResize         func(width, height int) error
	OnSetAudio       func(enabled bool) error
	OnSetVideo       func(enabled bool) error
	OnSetSource      func(source string) error
	OnScreenshot     func(path string) error
	ResolveSource    func(source string) (string, error)
}

// Handler handles control plane commands
type Handler struct {
	cfg       *config.Config
	client    mqtt.Client
	commands  chan Command
	callbacks CommandCallbacks
}

// NewHandler creates a new control plane handler
func NewHandler(cfg *config.Config, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

// Run subscribes to the control topic and processes commands until ctx is
// cancelled.
func (h *Handler) Run(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("control: subscribing", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control: subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: subscription failed: %w", err)
	}
	slog.Info("control: handler started")

	for {
		select {
		case <-ctx.Done():
			if h.client.IsConnected() {
				h.client.Unsubscribe(topic).WaitTimeout(time.Second)
			}
			slog.Info("control: handler stopped")
			return nil
		case cmd := <-h.commands:
			h.sendResponse(h.HandleCommand(cmd))
		}
	}
}

func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control: command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
	}
}

// HandleCommand executes a command and builds its response.
func (h *Handler) HandleCommand(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}
	cb := h.callbacks

	switch cmd.Command {
	case "get_status":
		if cb.OnGetStatus == nil {
			return notImplemented(resp)
		}
		resp.Status = "success"
		resp.Data = cb.OnGetStatus()

	case "start":
		resp = run(resp, cb.OnStart, map[string]any{"message": "player started"})

	case "stop":
		resp = run(resp, cb.OnStop, map[string]any{"message": "player stopped"})

	case "restart":
		resp = run(resp, cb.OnRestart, map[string]any{"message": "player restarted"})

	case "stop_then_delete":
		resp = run(resp, cb.OnStopThenDelete, map[string]any{"message": "player deleted"})

	case "resize":
		if cb.OnResize == nil {
			return notImplemented(resp)
		}
		w, okW := intParam(cmd.Params, "width")
		hgt, okH := intParam(cmd.Params, "height")
		if !okW || !okH || w <= 0 || hgt <= 0 {
			return failed(resp, "missing or invalid 'width'/'height' parameters (expected positive integers)")
		}
		resp = run(resp, func() error { return cb.OnResize(w, hgt) },
			map[string]any{"width": w, "height": hgt, "message": "target resized, player restarting"})

	case "set_audio", "set_video":
		fn := cb.OnSetAudio
		if cmd.Command == "set_video" {
			fn = cb.OnSetVideo
		}
		if fn == nil {
			return notImplemented(resp)
		}
		enabled, ok := cmd.Params["enabled"].(bool)
		if !ok {
			return failed(resp, "missing or invalid 'enabled' parameter (expected bool)")
		}
		resp = run(resp, func() error { return fn(enabled) }, map[string]any{"enabled": enabled})

	case "set_source":
		if cb.OnSetSource == nil {
			return notImplemented(resp)
		}
		source, ok := cmd.Params["source"].(string)
		if !ok || source == "" {
			return failed(resp, "missing or invalid 'source' parameter (expected string)")
		}
		resolved := source
		if cb.ResolveSource != nil {
			r, err := cb.ResolveSource(source)
			if err != nil {
				return failed(resp, fmt.Sprintf("resolve source: %v", err))
			}
			resolved = r
		}
		resp = run(resp, func() error { return cb.OnSetSource(resolved) },
			map[string]any{"source": source, "resolved": resolved, "message": "source updated, player restarted"})

	case "screenshot":
		if cb.OnScreenshot == nil {
			return notImplemented(resp)
		}
		path, ok := cmd.Params["path"].(string)
		if !ok || path == "" {
			return failed(resp, "missing or invalid 'path' parameter (expected string)")
		}
		file, err := h.cfg.ScreenshotPath(path)
		if err != nil {
			return failed(resp, err.Error())
		}
		resp = run(resp, func() error { return cb.OnScreenshot(file) }, map[string]any{"path": file})

	default:
		return failed(resp, fmt.Sprintf("unknown command: %s", cmd.Command))
	}

	return resp
}

func run(resp Response, fn func() error, data map[string]any) Response {
	if fn == nil {
		return notImplemented(resp)
	}
	if err := fn(); err != nil {
		return failed(resp, err.Error())
	}
	resp.Status = "success"
	resp.Data = data
	return resp
}

func failed(resp Response, msg string) Response {
	resp.Status = "error"
	resp.Error = msg
	return resp
}

func notImplemented(resp Response) Response {
	return failed(resp, resp.CommandAck+" not implemented")
}

// intParam reads a JSON number parameter as int.
func intParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key].(float64)
	if !ok || v != float64(int(v)) {
		return 0, false
	}
	return int(v), true
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	topic := h.cfg.MQTT.Topics.Status
	qos := h.cfg.MQTT.QoS["status"]

	token := h.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("control: response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("control: response publish failed", "error", err)
	}
}
