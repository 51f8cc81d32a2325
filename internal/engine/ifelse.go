package engine

import (
	"context"
	"fmt"
	"log/slog"
)

// ifElseExecutor evaluates branches in order and runs the first one whose
// conditions pass. Nested actions go through the engine's normal dispatch so
// they are logged and streamed like top-level actions, but with action ID 0.
type ifElseExecutor struct {
	eng *Engine
}

func (e *ifElseExecutor) Execute(ctx context.Context, run *RunContext, act Action) (any, error) {
	cfg, err := decodeConfig[IfElseConfig](act)
	if err != nil {
		return nil, err
	}

	if !run.EnterBranch() {
		return nil, fmt.Errorf("if_else: branch nesting exceeds max depth (%d)", maxBranchDepth)
	}
	defer run.ExitBranch()

	for i, branch := range cfg.Branches {
		if len(branch.Conditions) > maxBranchConditions {
			return nil, fmt.Errorf("if_else: branch %d has too many conditions (max %d)", i, maxBranchConditions)
		}
		if !EvaluateAll(run, toBranchConditions(branch.Conditions)) {
			continue
		}

		name := branch.Name
		if name == "" {
			name = fmt.Sprintf("branch %d", i)
		}
		slog.Debug("branch taken", "macro_id", run.MacroID, "branch", name, "depth", run.BranchDepth())

		for j, nested := range branch.Actions {
			ephemeral := Action{MacroID: run.MacroID, Type: nested.Type, Config: nested.Config, OrderIndex: j}
			if _, err := e.eng.runAction(ctx, run, ephemeral); err != nil {
				return nil, fmt.Errorf("if_else: branch %q action %s: %w", name, nested.Type, err)
			}
		}
		return map[string]any{"branch": name, "actions_run": len(branch.Actions)}, nil
	}

	slog.Debug("no branch matched", "macro_id", run.MacroID)
	return map[string]any{"branch": nil, "actions_run": 0}, nil
}

func toBranchConditions(rows []BranchCondition) []Condition {
	out := make([]Condition, len(rows))
	for i, c := range rows {
		out[i] = Condition{Field: c.Field, Operator: c.Operator, Value: c.Value, LogicOperator: c.LogicOperator}
	}
	return out
}
