package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Macro is a persisted automation unit: triggers + conditions + ordered actions.
type Macro struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"size:50;not null" json:"name"`
	Description string    `json:"description,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	Enabled     bool      `gorm:"not null;default:false" json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Trigger config is kind-specific JSON, validated at load time.
type Trigger struct {
	ID      int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	MacroID int64          `gorm:"index:idx_triggers_macro_id;not null" json:"macro_id"`
	Type    string         `gorm:"not null" json:"type"` // time|network|manual|clipboard
	Config  datatypes.JSON `gorm:"not null" json:"config"`
	Enabled bool           `gorm:"not null;default:true" json:"enabled"`
}

type Action struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	MacroID    int64          `gorm:"index:idx_actions_macro_id;not null" json:"macro_id"`
	Type       string         `gorm:"not null" json:"type"`
	Config     datatypes.JSON `gorm:"not null" json:"config"`
	OrderIndex int            `gorm:"not null" json:"order_index"`
}

// Condition gates a whole macro run. LogicOperator joins a condition to the
// next one in the list (AND when empty).
type Condition struct {
	ID            int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	MacroID       int64  `gorm:"index:idx_conditions_macro_id;not null" json:"macro_id"`
	Field         string `gorm:"not null" json:"field"`
	Operator      string `gorm:"not null" json:"operator"`
	Value         string `json:"value"`
	LogicOperator string `json:"logic_operator,omitempty"`
}

// ExecutionLog is one row per macro run, never mutated after the run ends.
type ExecutionLog struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MacroID      int64     `gorm:"index:idx_execution_logs_macro_id;not null" json:"macro_id"`
	TriggerType  string    `gorm:"not null" json:"trigger_type"`
	Status       string    `gorm:"not null" json:"status"` // success|failed|partial
	ErrorMessage string    `json:"error_message,omitempty"`
	ExecutedAt   time.Time `gorm:"not null" json:"executed_at"`
	DurationMS   int64     `json:"duration_ms"`
}

type ActionExecutionLog struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ExecutionLogID   uuid.UUID      `gorm:"type:uuid;index:idx_action_logs_execution_log_id;not null" json:"execution_log_id"`
	ActionID         int64          `json:"action_id"` // 0 for ephemeral branch actions
	ActionType       string         `gorm:"not null" json:"action_type"`
	ActionOrderIndex int            `json:"action_order_index"`
	InputData        datatypes.JSON `json:"input_data,omitempty"`
	OutputData       datatypes.JSON `json:"output_data,omitempty"`
	Status           string         `gorm:"not null" json:"status"` // success|failed
	ErrorMessage     string         `json:"error_message,omitempty"`
	DurationMS       int64          `json:"duration_ms"`
	ExecutedAt       time.Time      `gorm:"not null" json:"executed_at"`
}

// Variable scopes: "global" (macro_id 0) and "macro". Per-run variables never
// touch the store, and system variables are computed on demand.
type Variable struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Scope     string         `gorm:"uniqueIndex:idx_variables_scope_macro_name;not null" json:"scope"`
	MacroID   int64          `gorm:"uniqueIndex:idx_variables_scope_macro_name" json:"macro_id,omitempty"`
	Name      string         `gorm:"uniqueIndex:idx_variables_scope_macro_name;not null" json:"name"`
	Type      string         `gorm:"not null" json:"type"` // string|number|boolean|object|array
	Value     datatypes.JSON `gorm:"not null" json:"value"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
