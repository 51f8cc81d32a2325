package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"macro-service/internal/platform"
	"macro-service/internal/store"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const slowActionWarn = 3 * time.Second

// TriggerRegistrar is implemented by the scheduler. The engine tells it when
// a macro's triggers need to be (un)registered after enable/disable.
type TriggerRegistrar interface {
	RegisterMacro(ctx context.Context, macroID int64) error
	UnregisterMacro(macroID int64)
}

// Engine drives macro execution: condition gating, ordered action dispatch,
// per-action and per-run logging, and live run events.
type Engine struct {
	repo   *store.Repo
	device platform.Device
	events *RunEventHub

	registry map[ActionType]Executor

	mu        sync.RWMutex
	registrar TriggerRegistrar
}

type Options struct {
	HTTPClient *http.Client
}

func New(repo *store.Repo, device platform.Device, opts Options) *Engine {
	e := &Engine{
		repo:   repo,
		device: device,
		events: NewRunEventHub(),
	}
	e.registry = map[ActionType]Executor{
		ActionNotification:   &notificationExecutor{notifier: device.Notifier},
		ActionLaunchApp:      &launchAppExecutor{launcher: device.Launcher},
		ActionOpenURL:        &openURLExecutor{launcher: device.Launcher},
		ActionClipboardRead:  &clipboardReadExecutor{clipboard: device.Clipboard},
		ActionClipboardWrite: &clipboardWriteExecutor{clipboard: device.Clipboard},
		ActionUserDialog:     &userDialogExecutor{dialog: device.Dialog},
		ActionSetVariable:    &setVariableExecutor{repo: repo},
		ActionHTTPRequest:    newHTTPRequestExecutor(opts.HTTPClient),
		ActionTextProcess:    textProcessExecutor{},
		ActionJSONProcess:    jsonProcessExecutor{},
	}
	e.registry[ActionIfElse] = &ifElseExecutor{eng: e}
	return e
}

// SetRegistrar wires the scheduler in after construction; the scheduler
// itself needs the engine for fire callbacks.
func (e *Engine) SetRegistrar(r TriggerRegistrar) {
	e.mu.Lock()
	e.registrar = r
	e.mu.Unlock()
}

func (e *Engine) SubscribeRunEvents(runID uuid.UUID) (<-chan RunEvent, func()) {
	return e.events.Subscribe(runID)
}

func (e *Engine) publishRunEvent(runID uuid.UUID, evt RunEvent) {
	if e.events == nil {
		return
	}
	e.events.Publish(runID, evt)
}

// ExecuteMacro runs one macro end to end and reports whether every action
// succeeded. Missing, disabled and action-less macros are skipped without an
// execution log; unmet conditions log a failed run.
func (e *Engine) ExecuteMacro(ctx context.Context, macroID int64, triggerKind string) (bool, error) {
	return e.executeRun(ctx, uuid.New(), macroID, triggerKind)
}

// StartRun validates the macro synchronously, then executes it in the
// background. The returned run ID can be used to subscribe to run events
// before the first action fires.
func (e *Engine) StartRun(ctx context.Context, macroID int64, triggerKind string) (uuid.UUID, error) {
	macro, err := e.repo.GetMacro(ctx, macroID)
	if err != nil {
		return uuid.Nil, err
	}
	if macro == nil {
		return uuid.Nil, fmt.Errorf("macro %d not found", macroID)
	}
	if !macro.Enabled {
		return uuid.Nil, fmt.Errorf("macro %d is disabled", macroID)
	}
	runID := uuid.New()
	go func() {
		if _, err := e.executeRun(context.Background(), runID, macroID, triggerKind); err != nil {
			slog.Error("macro run failed", "macro_id", macroID, "run_id", runID, "error", err)
		}
	}()
	return runID, nil
}

func (e *Engine) executeRun(ctx context.Context, runID uuid.UUID, macroID int64, triggerKind string) (ok bool, err error) {
	start := time.Now()
	slog.Info("executing macro", "macro_id", macroID, "trigger", triggerKind)

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic: %v", r)
			slog.Error("macro execution panicked", "macro_id", macroID, "run_id", runID, "panic", r)
			e.logExecution(ctx, runID, macroID, triggerKind, "failed", msg, time.Since(start))
			e.publishRunEvent(runID, RunEvent{Type: "run_finished", MacroID: macroID, Status: "failed", Error: msg})
			ok, err = false, nil
		}
	}()

	macro, err := e.repo.GetMacro(ctx, macroID)
	if err != nil {
		return e.failRun(ctx, runID, macroID, triggerKind, fmt.Sprintf("loading macro: %v", err), start)
	}
	if macro == nil || !macro.Enabled {
		slog.Warn("macro not found or disabled", "macro_id", macroID)
		return false, nil
	}

	run := NewRunContext(macroID, runID, triggerKind, e.systemSource(ctx))
	if err := e.seedVariables(ctx, run); err != nil {
		slog.Warn("loading variables failed", "macro_id", macroID, "error", err)
	}

	conditions, err := e.repo.ListConditionsByMacro(ctx, macroID)
	if err != nil {
		return e.failRun(ctx, runID, macroID, triggerKind, fmt.Sprintf("loading conditions: %v", err), start)
	}
	if len(conditions) > 0 && !EvaluateAll(run, toEngineConditions(conditions)) {
		slog.Info("macro conditions not met, skipping", "macro_id", macroID)
		e.logExecution(ctx, runID, macroID, triggerKind, "failed", "Conditions not met", time.Since(start))
		return false, nil
	}

	actions, err := e.repo.ListActionsByMacro(ctx, macroID)
	if err != nil {
		return e.failRun(ctx, runID, macroID, triggerKind, fmt.Sprintf("loading actions: %v", err), start)
	}
	if len(actions) == 0 {
		slog.Warn("macro has no actions", "macro_id", macroID)
		return false, nil
	}

	e.publishRunEvent(runID, RunEvent{Type: "run_started", MacroID: macroID, Status: "running"})

	for i, sa := range actions {
		act := Action{ID: sa.ID, MacroID: sa.MacroID, Type: ActionType(sa.Type), Config: json.RawMessage(sa.Config), OrderIndex: sa.OrderIndex}
		slog.Info("executing action", "macro_id", macroID, "step", i+1, "total", len(actions), "type", act.Type)

		if _, err := e.runAction(ctx, run, act); err != nil {
			msg := fmt.Sprintf("Action %s failed: %v", act.Type, err)
			slog.Error("action failed", "macro_id", macroID, "type", act.Type, "error", err)
			e.logExecution(ctx, runID, macroID, triggerKind, "partial", msg, time.Since(start))
			e.publishRunEvent(runID, RunEvent{Type: "run_finished", MacroID: macroID, Status: "partial", Error: msg})
			e.notifyFailure(ctx, macro.Name, act.Type)
			return false, nil
		}
	}

	e.logExecution(ctx, runID, macroID, triggerKind, "success", "", time.Since(start))
	e.publishRunEvent(runID, RunEvent{Type: "run_finished", MacroID: macroID, Status: "success"})
	slog.Info("macro executed", "macro_id", macroID, "duration_ms", time.Since(start).Milliseconds())
	return true, nil
}

// failRun records a run aborted by an infrastructure error. The error is
// logged and swallowed so triggered executions never crash callers.
func (e *Engine) failRun(ctx context.Context, runID uuid.UUID, macroID int64, triggerKind, msg string, start time.Time) (bool, error) {
	slog.Error("macro run aborted", "macro_id", macroID, "run_id", runID, "error", msg)
	e.logExecution(ctx, runID, macroID, triggerKind, "failed", msg, time.Since(start))
	e.publishRunEvent(runID, RunEvent{Type: "run_finished", MacroID: macroID, Status: "failed", Error: msg})
	return false, nil
}

// runAction dispatches one action through the registry, recording an action
// log row and publishing start/finish events. Branch executors reuse it for
// nested actions, which carry ID 0 and are never persisted as definitions.
func (e *Engine) runAction(ctx context.Context, run *RunContext, act Action) (any, error) {
	started := time.Now()
	e.publishRunEvent(run.RunID, RunEvent{Type: "action_started", MacroID: run.MacroID, ActionID: act.ID, ActionType: string(act.Type), OrderIndex: act.OrderIndex, Status: "running"})

	var output any
	exec, ok := e.registry[act.Type]
	var err error
	if !ok {
		err = fmt.Errorf("unsupported action type: %s", act.Type)
	} else {
		output, err = exec.Execute(ctx, run, act)
	}

	duration := time.Since(started)
	if duration > slowActionWarn {
		slog.Warn("slow action", "macro_id", run.MacroID, "type", act.Type, "duration_ms", duration.Milliseconds())
	}

	status := "success"
	errMsg := ""
	if err != nil {
		status = "failed"
		errMsg = err.Error()
	}
	e.logAction(ctx, run, act, output, status, errMsg, duration)
	e.publishRunEvent(run.RunID, RunEvent{Type: "action_finished", MacroID: run.MacroID, ActionID: act.ID, ActionType: string(act.Type), OrderIndex: act.OrderIndex, Status: status, Error: errMsg})
	return output, err
}

func (e *Engine) logAction(ctx context.Context, run *RunContext, act Action, output any, status, errMsg string, duration time.Duration) {
	var outJSON datatypes.JSON
	if output != nil {
		if b, err := json.Marshal(output); err == nil {
			outJSON = datatypes.JSON(b)
		}
	}
	l := &store.ActionExecutionLog{
		ExecutionLogID:   run.RunID,
		ActionID:         act.ID,
		ActionType:       string(act.Type),
		ActionOrderIndex: act.OrderIndex,
		InputData:        datatypes.JSON(act.Config),
		OutputData:       outJSON,
		Status:           status,
		ErrorMessage:     errMsg,
		DurationMS:       duration.Milliseconds(),
	}
	if err := e.repo.CreateActionLog(ctx, l); err != nil {
		slog.Error("failed to log action execution", "error", err)
	}
}

func (e *Engine) logExecution(ctx context.Context, runID uuid.UUID, macroID int64, triggerKind, status, errMsg string, duration time.Duration) {
	l := &store.ExecutionLog{
		ID:           runID,
		MacroID:      macroID,
		TriggerType:  triggerKind,
		Status:       status,
		ErrorMessage: errMsg,
		DurationMS:   duration.Milliseconds(),
	}
	if err := e.repo.CreateExecutionLog(ctx, l); err != nil {
		slog.Error("failed to log execution", "error", err)
	}
}

func (e *Engine) notifyFailure(ctx context.Context, macroName string, actionType ActionType) {
	if e.device.Notifier == nil {
		return
	}
	n := platform.Notification{
		Title:   fmt.Sprintf("Macro %q failed", macroName),
		Content: fmt.Sprintf("Action %s failed to execute", actionType),
	}
	if err := e.device.Notifier.Notify(ctx, n); err != nil {
		slog.Warn("failure notification not delivered", "error", err)
	}
}

func (e *Engine) seedVariables(ctx context.Context, run *RunContext) error {
	globalRows, err := e.repo.ListGlobalVariables(ctx)
	if err != nil {
		return err
	}
	macroRows, err := e.repo.ListMacroVariables(ctx, run.MacroID)
	if err != nil {
		return err
	}
	run.SeedVariables(decodeVariableRows(globalRows), decodeVariableRows(macroRows))
	return nil
}

func decodeVariableRows(rows []store.Variable) map[string]any {
	out := make(map[string]any, len(rows))
	for _, row := range rows {
		v, err := store.DecodeVariableValue(row.Value)
		if err != nil {
			slog.Warn("undecodable variable value", "name", row.Name, "error", err)
			continue
		}
		out[row.Name] = v
	}
	return out
}

func toEngineConditions(rows []store.Condition) []Condition {
	out := make([]Condition, len(rows))
	for i, c := range rows {
		out[i] = Condition{Field: c.Field, Operator: c.Operator, Value: c.Value, LogicOperator: c.LogicOperator}
	}
	return out
}

// ManualTrigger runs a macro outside its registered triggers.
func (e *Engine) ManualTrigger(ctx context.Context, macroID int64) (bool, error) {
	return e.ExecuteMacro(ctx, macroID, TriggerManual)
}

// EnableMacro flips the stored flag and registers the macro's triggers.
func (e *Engine) EnableMacro(ctx context.Context, macroID int64) error {
	if err := e.repo.SetMacroEnabled(ctx, macroID, true); err != nil {
		return err
	}
	e.mu.RLock()
	r := e.registrar
	e.mu.RUnlock()
	if r != nil {
		if err := r.RegisterMacro(ctx, macroID); err != nil {
			return err
		}
	}
	slog.Info("macro enabled", "macro_id", macroID)
	return nil
}

// DisableMacro flips the stored flag and cancels registered triggers.
func (e *Engine) DisableMacro(ctx context.Context, macroID int64) error {
	if err := e.repo.SetMacroEnabled(ctx, macroID, false); err != nil {
		return err
	}
	e.mu.RLock()
	r := e.registrar
	e.mu.RUnlock()
	if r != nil {
		r.UnregisterMacro(macroID)
	}
	slog.Info("macro disabled", "macro_id", macroID)
	return nil
}

// systemSource adapts the platform device to variable lookup.
type systemSource struct {
	ctx    context.Context
	device platform.Device
}

func (e *Engine) systemSource(ctx context.Context) SystemSource {
	return &systemSource{ctx: ctx, device: e.device}
}

func (s *systemSource) ClipboardText() (string, error) {
	if s.device.Clipboard == nil {
		return "", nil
	}
	return s.device.Clipboard.ReadText(s.ctx)
}

func (s *systemSource) NetworkType() string {
	if s.device.Probe == nil {
		return "none"
	}
	t, err := s.device.Probe.NetworkType(s.ctx)
	if err != nil {
		return "none"
	}
	return t
}

func (s *systemSource) BatteryLevel() int {
	if s.device.Probe == nil {
		return 0
	}
	level, err := s.device.Probe.BatteryLevel(s.ctx)
	if err != nil {
		return 0
	}
	return level
}
