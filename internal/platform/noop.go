package platform

import (
	"context"
	"log/slog"
	"sync"
)

// LocalDevice is an in-process device used when no agent is connected.
// Clipboard state lives in memory; notifications and launches are logged and
// dropped; dialogs return their default value unconfirmed.
type LocalDevice struct {
	log *slog.Logger

	mu        sync.RWMutex
	clipboard string
	network   string
	battery   int
}

func NewLocalDevice(log *slog.Logger) *LocalDevice {
	return &LocalDevice{log: log, network: "none", battery: 100}
}

// SetNetworkType lets tests and the network event endpoint adjust state.
func (d *LocalDevice) SetNetworkType(t string) {
	d.mu.Lock()
	d.network = t
	d.mu.Unlock()
}

func (d *LocalDevice) SetBatteryLevel(level int) {
	d.mu.Lock()
	d.battery = level
	d.mu.Unlock()
}

func (d *LocalDevice) Notify(_ context.Context, n Notification) error {
	d.log.Info("notification (no agent connected)", "title", n.Title, "content", n.Content)
	return nil
}

func (d *LocalDevice) ReadText(context.Context) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.clipboard, nil
}

func (d *LocalDevice) WriteText(_ context.Context, text string) error {
	d.mu.Lock()
	d.clipboard = text
	d.mu.Unlock()
	return nil
}

func (d *LocalDevice) LaunchApp(_ context.Context, req LaunchRequest) error {
	d.log.Info("launch request (no agent connected)", "bundle", req.BundleName, "ability", req.AbilityName)
	return nil
}

func (d *LocalDevice) OpenURL(_ context.Context, url, openWith string) error {
	d.log.Info("open url request (no agent connected)", "url", url, "open_with", openWith)
	return nil
}

func (d *LocalDevice) Prompt(_ context.Context, req DialogRequest) (DialogResponse, error) {
	d.log.Info("dialog request (no agent connected)", "type", req.Type, "title", req.Title)
	return DialogResponse{Confirmed: false, Value: req.DefaultValue}, nil
}

func (d *LocalDevice) NetworkType(context.Context) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.network, nil
}

func (d *LocalDevice) BatteryLevel(context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.battery, nil
}

// AsDevice wires the local implementation into every surface.
func (d *LocalDevice) AsDevice() Device {
	return Device{Notifier: d, Clipboard: d, Launcher: d, Dialog: d, Probe: d}
}
