package platform

import "context"

// Notification is a user-facing notification request.
type Notification struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Sound     bool   `json:"sound,omitempty"`
	Vibration bool   `json:"vibration,omitempty"`
}

// LaunchRequest asks the device agent to start an application.
type LaunchRequest struct {
	BundleName  string         `json:"bundle_name"`
	AbilityName string         `json:"ability_name,omitempty"`
	Mode        string         `json:"mode,omitempty"`
	URI         string         `json:"uri,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// DialogRequest asks the agent to show an interactive prompt.
type DialogRequest struct {
	Type         string   `json:"type"`
	Title        string   `json:"title"`
	Message      string   `json:"message,omitempty"`
	Options      []string `json:"options,omitempty"`
	Placeholder  string   `json:"placeholder,omitempty"`
	DefaultValue string   `json:"default_value,omitempty"`
}

// DialogResponse carries the user's answer. Confirmed is false when the user
// dismissed or cancelled the prompt.
type DialogResponse struct {
	Confirmed bool     `json:"confirmed"`
	Value     string   `json:"value,omitempty"`
	Selected  []string `json:"selected,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Clipboard interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, text string) error
}

type Launcher interface {
	LaunchApp(ctx context.Context, req LaunchRequest) error
	OpenURL(ctx context.Context, url, openWith string) error
}

type DialogPrompter interface {
	Prompt(ctx context.Context, req DialogRequest) (DialogResponse, error)
}

// SystemProbe reports device state used by system variables and network
// trigger matching.
type SystemProbe interface {
	NetworkType(ctx context.Context) (string, error) // wifi|mobile|none
	BatteryLevel(ctx context.Context) (int, error)
}

// Device bundles every agent-facing surface a deployment provides.
type Device struct {
	Notifier  Notifier
	Clipboard Clipboard
	Launcher  Launcher
	Dialog    DialogPrompter
	Probe     SystemProbe
}
