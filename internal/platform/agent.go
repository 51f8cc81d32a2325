package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"macro-service/internal/mqtt"

	"github.com/google/uuid"
)

const (
	agentSchema         = "macro.v1"
	commandTopicPrefix  = "macro/agent/command/"
	resultTopicPattern  = "macro/agent/result/#"
	resultTopicPrefix   = "macro/agent/result/"
	eventTopicPattern   = "macro/agent/event/#"
	defaultAgentTimeout = 15 * time.Second
)

// agentCommand is published to the device agent.
type agentCommand struct {
	Schema  string `json:"schema"`
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Corr    string `json:"corr"`
	TS      int64  `json:"ts"`
	Payload any    `json:"payload,omitempty"`
}

// agentResult comes back on the result topic keyed by correlation ID.
type agentResult struct {
	Schema  string          `json:"schema"`
	Type    string          `json:"type"`
	Corr    string          `json:"corr"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// agentEvent is pushed by the agent without a correlation ID.
type agentEvent struct {
	Schema  string          `json:"schema"`
	Type    string          `json:"type"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventHandlers receives unsolicited agent events.
type EventHandlers struct {
	Network   func(transition string)
	Clipboard func()
}

// AgentBridge executes device actions over MQTT against a companion agent.
// Every surface call publishes a correlated command and waits for the result
// or the timeout. It implements all of the Device interfaces.
type AgentBridge struct {
	mq      mqtt.ClientAPI
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan agentResult
}

func NewAgentBridge(mq mqtt.ClientAPI, timeout time.Duration) *AgentBridge {
	if timeout <= 0 {
		timeout = defaultAgentTimeout
	}
	return &AgentBridge{
		mq:      mq,
		timeout: timeout,
		pending: map[string]chan agentResult{},
	}
}

// Start subscribes to the result topic tree.
func (b *AgentBridge) Start() error {
	return b.mq.Subscribe(resultTopicPattern, func(m mqtt.Message) {
		b.handleResult(m)
	})
}

// SubscribeEvents forwards unsolicited agent events, network transitions and
// clipboard changes, to the given handlers.
func (b *AgentBridge) SubscribeEvents(h EventHandlers) error {
	return b.mq.Subscribe(eventTopicPattern, func(m mqtt.Message) {
		var ev agentEvent
		if err := json.Unmarshal(m.Payload(), &ev); err != nil {
			slog.Warn("undecodable agent event", "topic", m.Topic(), "error", err)
			return
		}
		if ev.Schema != agentSchema || ev.Type != "event" {
			return
		}
		switch ev.Kind {
		case "network":
			if h.Network == nil {
				return
			}
			var data struct {
				Transition string `json:"transition"`
			}
			if err := json.Unmarshal(ev.Payload, &data); err != nil {
				slog.Warn("bad network event payload", "error", err)
				return
			}
			h.Network(data.Transition)
		case "clipboard":
			if h.Clipboard != nil {
				h.Clipboard()
			}
		}
	})
}

func (b *AgentBridge) handleResult(m mqtt.Message) {
	var res agentResult
	if err := json.Unmarshal(m.Payload(), &res); err != nil {
		slog.Warn("undecodable agent result", "topic", m.Topic(), "error", err)
		return
	}
	if res.Schema != agentSchema || res.Type != "result" {
		return
	}
	corr := strings.TrimSpace(res.Corr)
	if corr == "" {
		corr = strings.TrimPrefix(m.Topic(), resultTopicPrefix)
	}

	b.mu.Lock()
	ch, ok := b.pending[corr]
	if ok {
		delete(b.pending, corr)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- res:
	default:
	}
}

func (b *AgentBridge) command(ctx context.Context, kind string, payload any) (agentResult, error) {
	corr := uuid.NewString()
	ch := make(chan agentResult, 1)

	b.mu.Lock()
	b.pending[corr] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, corr)
		b.mu.Unlock()
	}()

	cmd := agentCommand{Schema: agentSchema, Type: "command", Kind: kind, Corr: corr, TS: time.Now().UTC().UnixMilli(), Payload: payload}
	body, err := json.Marshal(cmd)
	if err != nil {
		return agentResult{}, err
	}
	if err := b.mq.Publish(commandTopicPrefix+kind, body); err != nil {
		return agentResult{}, fmt.Errorf("publish %s: %w", kind, err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if !res.Success {
			if res.Error == "" {
				res.Error = "agent reported failure"
			}
			return res, errors.New(res.Error)
		}
		return res, nil
	case <-ctx.Done():
		return agentResult{}, ctx.Err()
	case <-timer.C:
		return agentResult{}, fmt.Errorf("agent %s timed out after %s", kind, b.timeout)
	}
}

func (b *AgentBridge) Notify(ctx context.Context, n Notification) error {
	_, err := b.command(ctx, "notify", n)
	return err
}

func (b *AgentBridge) ReadText(ctx context.Context) (string, error) {
	res, err := b.command(ctx, "clipboard_read", nil)
	if err != nil {
		return "", err
	}
	var data struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(res.Data, &data); err != nil {
		return "", fmt.Errorf("clipboard_read result: %w", err)
	}
	return data.Text, nil
}

func (b *AgentBridge) WriteText(ctx context.Context, text string) error {
	_, err := b.command(ctx, "clipboard_write", map[string]string{"text": text})
	return err
}

func (b *AgentBridge) LaunchApp(ctx context.Context, req LaunchRequest) error {
	_, err := b.command(ctx, "launch_app", req)
	return err
}

func (b *AgentBridge) OpenURL(ctx context.Context, url, openWith string) error {
	_, err := b.command(ctx, "open_url", map[string]string{"url": url, "open_with": openWith})
	return err
}

func (b *AgentBridge) Prompt(ctx context.Context, req DialogRequest) (DialogResponse, error) {
	res, err := b.command(ctx, "dialog", req)
	if err != nil {
		return DialogResponse{}, err
	}
	var resp DialogResponse
	if err := json.Unmarshal(res.Data, &resp); err != nil {
		return DialogResponse{}, fmt.Errorf("dialog result: %w", err)
	}
	return resp, nil
}

func (b *AgentBridge) NetworkType(ctx context.Context) (string, error) {
	res, err := b.command(ctx, "network_type", nil)
	if err != nil {
		return "none", err
	}
	var data struct {
		NetworkType string `json:"network_type"`
	}
	if err := json.Unmarshal(res.Data, &data); err != nil {
		return "none", err
	}
	return data.NetworkType, nil
}

func (b *AgentBridge) BatteryLevel(ctx context.Context) (int, error) {
	res, err := b.command(ctx, "battery_level", nil)
	if err != nil {
		return 0, err
	}
	var data struct {
		Level int `json:"level"`
	}
	if err := json.Unmarshal(res.Data, &data); err != nil {
		return 0, err
	}
	return data.Level, nil
}

// AsDevice wires the bridge into every surface.
func (b *AgentBridge) AsDevice() Device {
	return Device{Notifier: b, Clipboard: b, Launcher: b, Dialog: b, Probe: b}
}
