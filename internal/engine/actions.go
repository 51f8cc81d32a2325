package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"macro-service/internal/platform"
	"macro-service/internal/store"
)

const maxDialogSelections = 5

type notificationExecutor struct {
	notifier platform.Notifier
}

func (e *notificationExecutor) Execute(ctx context.Context, run *RunContext, act Action) (any, error) {
	cfg, err := decodeConfig[NotificationConfig](act)
	if err != nil {
		return nil, err
	}
	n := platform.Notification{
		Title:     ResolveText(run, cfg.Title),
		Content:   ResolveText(run, cfg.Content),
		Sound:     cfg.EnableSound,
		Vibration: cfg.EnableVibration,
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	return map[string]any{"title": n.Title, "content": n.Content}, nil
}

type launchAppExecutor struct {
	launcher platform.Launcher
}

func (e *launchAppExecutor) Execute(ctx context.Context, run *RunContext, act Action) (any, error) {
	cfg, err := decodeConfig[LaunchAppConfig](act)
	if err != nil {
		return nil, err
	}
	req := platform.LaunchRequest{
		BundleName:  ResolveText(run, cfg.BundleName),
		AbilityName: cfg.AbilityName,
		Mode:        cfg.Mode,
		URI:         ResolveText(run, cfg.URI),
		Parameters:  cfg.Parameters,
	}
	if err := e.launcher.LaunchApp(ctx, req); err != nil {
		return nil, fmt.Errorf("launch %s: %w", req.BundleName, err)
	}
	return map[string]any{"bundle_name": req.BundleName}, nil
}

type openURLExecutor struct {
	launcher platform.Launcher
}

func (e *openURLExecutor) Execute(ctx context.Context, run *RunContext, act Action) (any, error) {
	cfg, err := decodeConfig[OpenURLConfig](act)
	if err != nil {
		return nil, err
	}
	url := ResolveText(run, cfg.URL)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("open_url: unsupported scheme in %q", url)
	}
	if err := e.launcher.OpenURL(ctx, url, cfg.OpenWith); err != nil {
		return nil, fmt.Errorf("open url: %w", err)
	}
	return map[string]any{"url": url}, nil
}

type clipboardReadExecutor struct {
	clipboard platform.Clipboard
}

func (e *clipboardReadExecutor) Execute(ctx context.Context, run *RunContext, act Action) (any, error) {
	cfg, err := decodeConfig[ClipboardConfig](act)
	if err != nil {
		return nil, err
	}
	text, err := e.clipboard.ReadText(ctx)
	if err != nil {
		return nil, fmt.Errorf("clipboard read: %w", err)
	}
	if cfg.SaveToVariable != "" {
		run.SetVar(cfg.SaveToVariable, text)
	}
	return text, nil
}

type clipboardWriteExecutor struct {
	clipboard platform.Clipboard
}

func (e *clipboardWriteExecutor) Execute(ctx context.Context, run *RunContext, act Action) (any, error) {
	cfg, err := decodeConfig[ClipboardConfig](act)
	if err != nil {
		return nil, err
	}
	text := ResolveText(run, cfg.Content)
	if err := e.clipboard.WriteText(ctx, text); err != nil {
		return nil, fmt.Errorf("clipboard write: %w", err)
	}
	return text, nil
}

type userDialogExecutor struct {
	dialog platform.DialogPrompter
}

func (e *userDialogExecutor) Execute(ctx context.Context, run *RunContext, act Action) (any, error) {
	cfg, err := decodeConfig[UserDialogConfig](act)
	if err != nil {
		return nil, err
	}
	req := platform.DialogRequest{
		Type:         cfg.Type,
		Title:        ResolveText(run, cfg.Title),
		Message:      ResolveText(run, cfg.Message),
		Options:      cfg.Options,
		Placeholder:  cfg.Placeholder,
		DefaultValue: cfg.DefaultValue,
	}
	resp, err := e.dialog.Prompt(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("dialog: %w", err)
	}
	if len(resp.Selected) > maxDialogSelections {
		resp.Selected = resp.Selected[:maxDialogSelections]
	}

	var answer any
	switch cfg.Type {
	case "confirm":
		answer = resp.Confirmed
	case "multi_select":
		sel := make([]any, len(resp.Selected))
		for i, s := range resp.Selected {
			sel[i] = s
		}
		answer = sel
	default:
		answer = resp.Value
	}
	if cfg.SaveToVariable != "" {
		run.SetVar(cfg.SaveToVariable, answer)
	}
	return map[string]any{"confirmed": resp.Confirmed, "answer": answer}, nil
}

type setVariableExecutor struct {
	repo *store.Repo
}

func (e *setVariableExecutor) Execute(ctx context.Context, run *RunContext, act Action) (any, error) {
	cfg, err := decodeConfig[SetVariableConfig](act)
	if err != nil {
		return nil, err
	}
	if !isValidVariableName(cfg.VariableName) {
		return nil, fmt.Errorf("set_variable: invalid name %q", cfg.VariableName)
	}
	val := Resolve(run, cfg.Value).Value

	switch cfg.Scope {
	case "run":
		run.SetVar(cfg.VariableName, val)
	case "macro", "global":
		if e.repo == nil {
			return nil, errors.New("set_variable: no store configured for persistent scopes")
		}
		typ, raw, err := store.EncodeVariableValue(val)
		if err != nil {
			return nil, fmt.Errorf("set_variable: encode: %w", err)
		}
		v := store.Variable{Scope: store.ScopeMacro, MacroID: run.MacroID, Name: cfg.VariableName, Type: typ, Value: raw}
		if cfg.Scope == "global" {
			v.Scope = store.ScopeGlobal
			v.MacroID = 0
		}
		if err := e.repo.UpsertVariable(ctx, &v); err != nil {
			return nil, fmt.Errorf("set_variable: %w", err)
		}
		if cfg.Scope == "global" {
			run.SetGlobal(cfg.VariableName, val)
		} else {
			run.SetVar(cfg.VariableName, val)
		}
	default:
		return nil, fmt.Errorf("set_variable: unsupported scope %q", cfg.Scope)
	}
	return map[string]any{"name": cfg.VariableName, "scope": cfg.Scope, "value": val}, nil
}
