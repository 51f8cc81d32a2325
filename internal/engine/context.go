package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SystemSource provides the live device-side values that back system
// variables. Production wires the agent bridge; tests substitute fakes.
type SystemSource interface {
	ClipboardText() (string, error)
	NetworkType() string // wifi|mobile|none
	BatteryLevel() int
}

// RunContext carries the mutable state of one macro run: run-scoped
// variables, a snapshot of macro and global variables, and the branch
// nesting counter. It is created per run and discarded afterwards.
type RunContext struct {
	MacroID     int64
	RunID       uuid.UUID
	TriggerKind string
	StartedAt   time.Time

	Sys SystemSource

	mu      sync.RWMutex
	runVars map[string]any
	globals map[string]any

	branchDepth int
}

func NewRunContext(macroID int64, runID uuid.UUID, triggerKind string, sys SystemSource) *RunContext {
	return &RunContext{
		MacroID:     macroID,
		RunID:       runID,
		TriggerKind: triggerKind,
		StartedAt:   time.Now(),
		Sys:         sys,
		runVars:     make(map[string]any),
		globals:     make(map[string]any),
	}
}

// SeedVariables preloads persisted values at run start. Macro-scoped values
// land in the run map so run-scoped writes can shadow them; globals keep
// their own map and only resolve when the run map misses.
func (c *RunContext) SeedVariables(global, macro map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range global {
		c.globals[k] = v
	}
	for k, v := range macro {
		c.runVars[k] = v
	}
}

func (c *RunContext) SetVar(name string, value any) {
	c.mu.Lock()
	c.runVars[name] = value
	c.mu.Unlock()
}

func (c *RunContext) SetGlobal(name string, value any) {
	c.mu.Lock()
	c.globals[name] = value
	c.mu.Unlock()
}

// LookupUser resolves a user variable: run scope first, then global.
func (c *RunContext) LookupUser(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.runVars[name]; ok {
		return v, true
	}
	v, ok := c.globals[name]
	return v, ok
}

// EnterBranch increments branch nesting for this run and reports whether the
// new depth is still within the limit.
func (c *RunContext) EnterBranch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.branchDepth >= maxBranchDepth {
		return false
	}
	c.branchDepth++
	return true
}

func (c *RunContext) ExitBranch() {
	c.mu.Lock()
	if c.branchDepth > 0 {
		c.branchDepth--
	}
	c.mu.Unlock()
}

func (c *RunContext) BranchDepth() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.branchDepth
}
