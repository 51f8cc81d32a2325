package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// Executor runs one action kind. The returned output is persisted into the
// action log and, for reading actions, also lands in run variables via
// save_to_variable.
type Executor interface {
	Execute(ctx context.Context, run *RunContext, act Action) (output any, err error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, run *RunContext, act Action) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, run *RunContext, act Action) (any, error) {
	return f(ctx, run, act)
}

func decodeConfig[T any](act Action) (T, error) {
	var cfg T
	if len(act.Config) == 0 {
		return cfg, fmt.Errorf("%s: missing config", act.Type)
	}
	if err := json.Unmarshal(act.Config, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: invalid config: %w", act.Type, err)
	}
	return cfg, nil
}
