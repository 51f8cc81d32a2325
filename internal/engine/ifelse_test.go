package engine

import (
	"context"
	"encoding/json"
	"testing"

	"macro-service/internal/store"
)

func branchConfig(t *testing.T, branches ...Branch) []byte {
	t.Helper()
	b, err := json.Marshal(IfElseConfig{Branches: branches})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func nestedAction(t *testing.T, typ ActionType, cfg any) NestedAction {
	t.Helper()
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return NestedAction{Type: typ, Config: b}
}

func TestIfElse_TakesFirstMatchingBranch(t *testing.T) {
	eng, repo, dev := openTestEngine(t)
	cfg := branchConfig(t,
		Branch{
			Name:       "a",
			Conditions: []BranchCondition{{Field: "{flag}", Operator: "==", Value: "a"}},
			Actions:    []NestedAction{nestedAction(t, ActionNotification, NotificationConfig{Title: "A"})},
		},
		Branch{
			Name:       "b",
			Conditions: []BranchCondition{{Field: "{flag}", Operator: "==", Value: "b"}},
			Actions:    []NestedAction{nestedAction(t, ActionClipboardWrite, ClipboardConfig{Content: "picked-b"})},
		},
		Branch{
			Name:    "fallback",
			Actions: []NestedAction{nestedAction(t, ActionNotification, NotificationConfig{Title: "D"})},
		},
	)
	id := seedMacro(t, repo, true, nil,
		store.Action{Type: string(ActionSetVariable), Config: mustJSON(t, SetVariableConfig{VariableName: "flag", Value: "b", Scope: "run"}), OrderIndex: 0},
		store.Action{Type: string(ActionIfElse), Config: cfg, OrderIndex: 1},
	)

	ok, err := eng.ExecuteMacro(context.Background(), id, TriggerManual)
	if err != nil || !ok {
		t.Fatalf("execute: ok=%v err=%v", ok, err)
	}
	if dev.clipboard != "picked-b" {
		t.Fatalf("expected branch b to run, clipboard=%q", dev.clipboard)
	}
	if dev.notificationCount() != 0 {
		t.Fatalf("no notification branch should have run")
	}

	// nested branch actions are logged with action id 0
	_, actions := latestRun(t, repo, id)
	var nested *store.ActionExecutionLog
	for i := range actions {
		if actions[i].ActionType == string(ActionClipboardWrite) {
			nested = &actions[i]
		}
	}
	if nested == nil {
		t.Fatalf("nested action not logged, got %d rows", len(actions))
	}
	if nested.ActionID != 0 {
		t.Fatalf("expected ephemeral action id 0, got %d", nested.ActionID)
	}
}

func TestIfElse_FallsThroughToDefaultBranch(t *testing.T) {
	eng, repo, dev := openTestEngine(t)
	cfg := branchConfig(t,
		Branch{
			Conditions: []BranchCondition{{Field: "{flag}", Operator: "==", Value: "a"}},
			Actions:    []NestedAction{nestedAction(t, ActionNotification, NotificationConfig{Title: "A"})},
		},
		Branch{
			Name:    "default",
			Actions: []NestedAction{nestedAction(t, ActionNotification, NotificationConfig{Title: "D"})},
		},
	)
	id := seedMacro(t, repo, true, nil,
		store.Action{Type: string(ActionIfElse), Config: cfg, OrderIndex: 0},
	)

	ok, err := eng.ExecuteMacro(context.Background(), id, TriggerManual)
	if err != nil || !ok {
		t.Fatalf("execute: ok=%v err=%v", ok, err)
	}
	if dev.notificationCount() != 1 {
		t.Fatalf("expected default branch notification, got %d", dev.notificationCount())
	}
	if dev.notifications[0].Title != "D" {
		t.Fatalf("wrong branch ran: %q", dev.notifications[0].Title)
	}
}

func TestIfElse_NoBranchMatches(t *testing.T) {
	eng, _, _ := openTestEngine(t)
	run := newTestRunContext(nil)
	act := Action{MacroID: 1, Type: ActionIfElse, Config: branchConfig(t, Branch{
		Conditions: []BranchCondition{{Field: "{flag}", Operator: "==", Value: "a"}},
		Actions:    []NestedAction{nestedAction(t, ActionNotification, NotificationConfig{Title: "A"})},
	})}

	out, err := (&ifElseExecutor{eng: eng}).Execute(context.Background(), run, act)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("unexpected output %#v", out)
	}
	if m["branch"] != nil || m["actions_run"] != 0 {
		t.Fatalf("expected no branch taken, got %#v", m)
	}
}

func TestIfElse_NestedFailurePropagates(t *testing.T) {
	eng, repo, _ := openTestEngine(t)
	cfg := branchConfig(t, Branch{
		Name:    "always",
		Actions: []NestedAction{nestedAction(t, ActionOpenURL, OpenURLConfig{URL: "not-a-url"})},
	})
	id := seedMacro(t, repo, true, nil,
		store.Action{Type: string(ActionIfElse), Config: cfg, OrderIndex: 0},
	)

	ok, err := eng.ExecuteMacro(context.Background(), id, TriggerManual)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ok {
		t.Fatalf("expected nested failure to fail the run")
	}
	log, _ := latestRun(t, repo, id)
	if log.Status != "partial" {
		t.Fatalf("expected partial status, got %q", log.Status)
	}
}

func TestIfElse_DepthLimit(t *testing.T) {
	eng, _, _ := openTestEngine(t)
	run := newTestRunContext(nil)
	for i := 0; i < maxBranchDepth; i++ {
		if !run.EnterBranch() {
			t.Fatalf("branch %d rejected below the limit", i)
		}
	}

	act := Action{MacroID: 1, Type: ActionIfElse, Config: branchConfig(t, Branch{Actions: nil})}
	if _, err := (&ifElseExecutor{eng: eng}).Execute(context.Background(), run, act); err == nil {
		t.Fatalf("expected depth limit error")
	}
}
