package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	ScopeGlobal = "global"
	ScopeMacro  = "macro"
)

type Repo struct {
	db *gorm.DB
}

func OpenPostgres(user, password, dbName, host, port, sslMode string) (*gorm.DB, error) {
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC", host, user, password, dbName, port, sslMode)
	// Keep warnings/errors but suppress ErrRecordNotFound: lookups of missing
	// macros and variables are part of normal engine flow.
	gormLogger := logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	return gorm.Open(
		postgres.New(postgres.Config{DSN: dsn}),
		&gorm.Config{DisableForeignKeyConstraintWhenMigrating: true, Logger: gormLogger},
	)
}

// OpenSQLite opens the embedded store used for single-node deployments.
func OpenSQLite(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{})
}

func New(db *gorm.DB) (*Repo, error) {
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

func ensureSchema(db *gorm.DB) error {
	m := db.Migrator()

	models := []struct {
		name  string
		model any
	}{
		{"macros", &Macro{}},
		{"triggers", &Trigger{}},
		{"actions", &Action{}},
		{"conditions", &Condition{}},
		{"execution_logs", &ExecutionLog{}},
		{"action_execution_logs", &ActionExecutionLog{}},
		{"variables", &Variable{}},
	}
	for _, mm := range models {
		if !m.HasTable(mm.model) {
			if err := m.CreateTable(mm.model); err != nil {
				return fmt.Errorf("create table %s: %w", mm.name, err)
			}
		}
	}

	if !m.HasIndex(&Trigger{}, "MacroID") {
		if err := m.CreateIndex(&Trigger{}, "MacroID"); err != nil {
			return fmt.Errorf("create index triggers.macro_id: %w", err)
		}
	}
	if !m.HasIndex(&Action{}, "MacroID") {
		if err := m.CreateIndex(&Action{}, "MacroID"); err != nil {
			return fmt.Errorf("create index actions.macro_id: %w", err)
		}
	}
	if !m.HasIndex(&ExecutionLog{}, "MacroID") {
		if err := m.CreateIndex(&ExecutionLog{}, "MacroID"); err != nil {
			return fmt.Errorf("create index execution_logs.macro_id: %w", err)
		}
	}
	if !m.HasIndex(&ActionExecutionLog{}, "ExecutionLogID") {
		if err := m.CreateIndex(&ActionExecutionLog{}, "ExecutionLogID"); err != nil {
			return fmt.Errorf("create index action_execution_logs.execution_log_id: %w", err)
		}
	}

	return nil
}

// --- macros ---

func (r *Repo) ListMacros(ctx context.Context) ([]Macro, error) {
	var rows []Macro
	if err := r.db.WithContext(ctx).Order("created_at desc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repo) ListEnabledMacros(ctx context.Context) ([]Macro, error) {
	var rows []Macro
	if err := r.db.WithContext(ctx).Where("enabled = ?", true).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repo) GetMacro(ctx context.Context, id int64) (*Macro, error) {
	var mc Macro
	if err := r.db.WithContext(ctx).First(&mc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &mc, nil
}

func (r *Repo) CreateMacro(ctx context.Context, mc *Macro) error {
	return r.db.WithContext(ctx).Create(mc).Error
}

func (r *Repo) UpdateMacro(ctx context.Context, mc *Macro) error {
	return r.db.WithContext(ctx).Save(mc).Error
}

func (r *Repo) DeleteMacro(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Trigger{}, "macro_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&Action{}, "macro_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&Condition{}, "macro_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&Macro{}, "id = ?", id).Error
	})
}

func (r *Repo) SetMacroEnabled(ctx context.Context, id int64, enabled bool) error {
	return r.db.WithContext(ctx).Model(&Macro{}).Where("id = ?", id).Update("enabled", enabled).Error
}

// --- triggers / actions / conditions ---

func (r *Repo) ListTriggersByMacro(ctx context.Context, macroID int64) ([]Trigger, error) {
	var rows []Trigger
	if err := r.db.WithContext(ctx).Where("macro_id = ?", macroID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repo) ListActionsByMacro(ctx context.Context, macroID int64) ([]Action, error) {
	var rows []Action
	if err := r.db.WithContext(ctx).Where("macro_id = ?", macroID).Order("order_index asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repo) ListConditionsByMacro(ctx context.Context, macroID int64) ([]Condition, error) {
	var rows []Condition
	if err := r.db.WithContext(ctx).Where("macro_id = ?", macroID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ReplaceMacroParts swaps a macro's triggers, actions and conditions in one
// transaction. Action order indices are rewritten dense from 0 in list order.
func (r *Repo) ReplaceMacroParts(ctx context.Context, macroID int64, triggers []Trigger, actions []Action, conditions []Condition) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Trigger{}, "macro_id = ?", macroID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&Action{}, "macro_id = ?", macroID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&Condition{}, "macro_id = ?", macroID).Error; err != nil {
			return err
		}
		for i := range triggers {
			triggers[i].ID = 0
			triggers[i].MacroID = macroID
			if err := tx.Create(&triggers[i]).Error; err != nil {
				return err
			}
		}
		for i := range actions {
			actions[i].ID = 0
			actions[i].MacroID = macroID
			actions[i].OrderIndex = i
			if err := tx.Create(&actions[i]).Error; err != nil {
				return err
			}
		}
		for i := range conditions {
			conditions[i].ID = 0
			conditions[i].MacroID = macroID
			if err := tx.Create(&conditions[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// --- execution logs ---

func (r *Repo) CreateExecutionLog(ctx context.Context, l *ExecutionLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.ExecutedAt.IsZero() {
		l.ExecutedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *Repo) CreateActionLog(ctx context.Context, l *ActionExecutionLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.ExecutedAt.IsZero() {
		l.ExecutedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *Repo) ListExecutionLogs(ctx context.Context, macroID int64, limit int) ([]ExecutionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []ExecutionLog
	q := r.db.WithContext(ctx).Where("macro_id = ?", macroID).Order("executed_at desc").Limit(limit)
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repo) GetExecutionLogWithActions(ctx context.Context, id uuid.UUID) (*ExecutionLog, []ActionExecutionLog, error) {
	var run ExecutionLog
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, nil, err
	}
	var steps []ActionExecutionLog
	if err := r.db.WithContext(ctx).Where("execution_log_id = ?", id).Order("executed_at asc").Find(&steps).Error; err != nil {
		return &run, nil, err
	}
	return &run, steps, nil
}

func (r *Repo) PruneExecutionLogs(ctx context.Context, before time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uuid.UUID
		if err := tx.Model(&ExecutionLog{}).Where("executed_at < ?", before).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Delete(&ActionExecutionLog{}, "execution_log_id IN ?", ids).Error; err != nil {
			return err
		}
		return tx.Delete(&ExecutionLog{}, "id IN ?", ids).Error
	})
}

// --- variables ---

func (r *Repo) ListGlobalVariables(ctx context.Context) ([]Variable, error) {
	var rows []Variable
	if err := r.db.WithContext(ctx).Where("scope = ?", ScopeGlobal).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repo) ListMacroVariables(ctx context.Context, macroID int64) ([]Variable, error) {
	var rows []Variable
	if err := r.db.WithContext(ctx).Where("scope = ? AND macro_id = ?", ScopeMacro, macroID).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertVariable creates or updates by the (scope, macro_id, name) key.
func (r *Repo) UpsertVariable(ctx context.Context, v *Variable) error {
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "macro_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "value", "updated_at"}),
	}).Create(v).Error
}

func (r *Repo) DeleteVariable(ctx context.Context, scope string, macroID int64, name string) error {
	return r.db.WithContext(ctx).Delete(&Variable{}, "scope = ? AND macro_id = ? AND name = ?", scope, macroID, name).Error
}

// EncodeVariableValue classifies a Go value and serializes it for storage.
func EncodeVariableValue(v any) (typ string, raw []byte, err error) {
	switch v.(type) {
	case string:
		typ = "string"
	case float64, float32, int, int64, int32, json.Number:
		typ = "number"
	case bool:
		typ = "boolean"
	case []any:
		typ = "array"
	case nil:
		typ = "string"
		v = ""
	default:
		typ = "object"
	}
	raw, err = json.Marshal(v)
	return typ, raw, err
}

// DecodeVariableValue is the inverse of EncodeVariableValue.
func DecodeVariableValue(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
