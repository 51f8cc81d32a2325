package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Trigger kinds. Manual and clipboard triggers have no background
// registration; they are invoked through the engine's entry points.
const (
	TriggerTime      = "time"
	TriggerNetwork   = "network"
	TriggerManual    = "manual"
	TriggerClipboard = "clipboard"
)

// ActionType enumerates the supported action kinds. The executor registry is
// keyed by this tag and every kind carries its own typed config payload.
type ActionType string

const (
	ActionLaunchApp      ActionType = "launch_app"
	ActionOpenURL        ActionType = "open_url"
	ActionNotification   ActionType = "notification"
	ActionHTTPRequest    ActionType = "http_request"
	ActionClipboardRead  ActionType = "clipboard_read"
	ActionClipboardWrite ActionType = "clipboard_write"
	ActionTextProcess    ActionType = "text_process"
	ActionJSONProcess    ActionType = "json_process"
	ActionUserDialog     ActionType = "user_dialog"
	ActionSetVariable    ActionType = "set_variable"
	ActionIfElse         ActionType = "if_else"
)

// Action is the in-memory action value the dispatch pipeline runs. Persisted
// actions are converted into it once per run; nested branch actions are
// constructed ephemerally with ID 0 and never stored.
type Action struct {
	ID         int64
	MacroID    int64
	Type       ActionType
	Config     json.RawMessage
	OrderIndex int
}

// --- trigger payloads ---

type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

type TimeTriggerConfig struct {
	Mode string `json:"mode"` // once|daily|weekly|interval

	Timestamp int64      `json:"timestamp,omitempty"` // once, unix millis
	DailyTime *TimeOfDay `json:"daily_time,omitempty"`

	WeeklyTime *struct {
		Weekdays []int `json:"weekdays"` // 0=Sunday..6=Saturday
		TimeOfDay
	} `json:"weekly_time,omitempty"`

	IntervalMinutes int `json:"interval_minutes,omitempty"`
}

type NetworkTriggerConfig struct {
	// wifi_connected|wifi_disconnected|mobile_connected|network_disconnected
	TriggerOn string `json:"trigger_on"`
}

// --- action payloads ---

type LaunchAppConfig struct {
	BundleName  string         `json:"bundle_name"`
	AbilityName string         `json:"ability_name,omitempty"`
	Mode        string         `json:"mode,omitempty"` // explicit|implicit
	URI         string         `json:"uri,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type OpenURLConfig struct {
	URL      string `json:"url"`
	OpenWith string `json:"open_with,omitempty"` // browser|app
}

type NotificationConfig struct {
	Title           string `json:"title"`
	Content         string `json:"content"`
	EnableSound     bool   `json:"enable_sound,omitempty"`
	EnableVibration bool   `json:"enable_vibration,omitempty"`
}

type HTTPRequestConfig struct {
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           string            `json:"body,omitempty"`
	TimeoutMS      int               `json:"timeout_ms,omitempty"`
	SaveResponseTo string            `json:"save_response_to,omitempty"`
}

type ClipboardConfig struct {
	Content        string `json:"content,omitempty"`          // write
	SaveToVariable string `json:"save_to_variable,omitempty"` // read
}

type TextProcessConfig struct {
	Operation string `json:"operation"` // regex_extract|replace|split|uppercase|lowercase|url_encode|url_decode
	Input     string `json:"input"`

	Pattern    string `json:"pattern,omitempty"`
	GroupIndex int    `json:"group_index,omitempty"`

	SearchValue  string `json:"search_value,omitempty"`
	ReplaceValue string `json:"replace_value,omitempty"`

	Separator string `json:"separator,omitempty"`

	SaveToVariable string `json:"save_to_variable,omitempty"`
}

type JSONProcessConfig struct {
	Operation string `json:"operation"` // json_query|json_filter|json_map|json_merge|array_length|array_get|array_set|json_encode|json_decode
	Input     string `json:"input"`

	QueryPath       string `json:"query_path,omitempty"`
	FilterCondition string `json:"filter_condition,omitempty"`
	MapField        string `json:"map_field,omitempty"`
	MergeSource     string `json:"merge_source,omitempty"`
	ArrayIndex      int    `json:"array_index,omitempty"`
	NewValue        string `json:"new_value,omitempty"`

	SaveToVariable string `json:"save_to_variable,omitempty"`
}

type UserDialogConfig struct {
	Type    string `json:"type"` // confirm|single_select|multi_select|text_input
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`

	Options []string `json:"options,omitempty"`

	Placeholder  string `json:"placeholder,omitempty"`
	DefaultValue string `json:"default_value,omitempty"`

	SaveToVariable string `json:"save_to_variable,omitempty"`
}

type SetVariableConfig struct {
	VariableName string `json:"variable_name"`
	Value        string `json:"value"`
	Scope        string `json:"scope"` // run|macro|global
}

type IfElseConfig struct {
	Branches []Branch `json:"branches"`
}

// Branch is a named, conditionally guarded nested action list. An empty
// condition list marks the default (else) branch.
type Branch struct {
	Name       string            `json:"name,omitempty"`
	Conditions []BranchCondition `json:"conditions,omitempty"`
	Actions    []NestedAction    `json:"actions"`
}

// BranchCondition carries the logic operator that joins it to the NEXT
// condition in the list (trailing convention, default AND).
type BranchCondition struct {
	Field         string `json:"field"`
	Operator      string `json:"operator"`
	Value         string `json:"value"`
	LogicOperator string `json:"logic_operator,omitempty"` // AND|OR
}

type NestedAction struct {
	Type   ActionType      `json:"type"`
	Config json.RawMessage `json:"config"`
}

const (
	maxBranchConditions = 10
	maxBranchDepth      = 5
	maxMacroNameLen     = 50
)

var validConditionOps = map[string]struct{}{
	"==": {}, "!=": {}, ">": {}, "<": {}, ">=": {}, "<=": {},
	"contains": {}, "not_contains": {}, "is_empty": {}, "is_not_empty": {}, "regex": {},
}

// ValidateMacroName enforces the 1-50 char limit shared by API and engine.
func ValidateMacroName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("macro name is required")
	}
	if len([]rune(name)) > maxMacroNameLen {
		return fmt.Errorf("macro name exceeds %d characters", maxMacroNameLen)
	}
	return nil
}

// ValidateTriggerConfig parses and checks a trigger config blob at load time,
// so malformed shapes become configuration errors before any run starts.
func ValidateTriggerConfig(kind string, raw json.RawMessage) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case TriggerTime:
		var t TimeTriggerConfig
		if err := json.Unmarshal(raw, &t); err != nil {
			return errors.New("time trigger config must be a valid json object")
		}
		switch t.Mode {
		case "once":
			if t.Timestamp <= 0 {
				return errors.New("time trigger mode=once requires timestamp")
			}
		case "daily":
			if t.DailyTime == nil {
				return errors.New("time trigger mode=daily requires daily_time")
			}
			return validateTimeOfDay(*t.DailyTime)
		case "weekly":
			if t.WeeklyTime == nil {
				return errors.New("time trigger mode=weekly requires weekly_time")
			}
			if len(t.WeeklyTime.Weekdays) == 0 {
				return errors.New("weekly_time.weekdays must not be empty")
			}
			for _, d := range t.WeeklyTime.Weekdays {
				if d < 0 || d > 6 {
					return fmt.Errorf("invalid weekday %d", d)
				}
			}
			return validateTimeOfDay(t.WeeklyTime.TimeOfDay)
		case "interval":
			if t.IntervalMinutes <= 0 {
				return errors.New("time trigger mode=interval requires interval_minutes > 0")
			}
		default:
			return fmt.Errorf("unsupported time trigger mode: %s", t.Mode)
		}
		return nil
	case TriggerNetwork:
		var n NetworkTriggerConfig
		if err := json.Unmarshal(raw, &n); err != nil {
			return errors.New("network trigger config must be a valid json object")
		}
		switch n.TriggerOn {
		case "wifi_connected", "wifi_disconnected", "mobile_connected", "network_disconnected":
			return nil
		default:
			return fmt.Errorf("unsupported network trigger_on: %s", n.TriggerOn)
		}
	case TriggerManual, TriggerClipboard:
		return nil
	default:
		return fmt.Errorf("unsupported trigger type: %s", kind)
	}
}

func validateTimeOfDay(t TimeOfDay) error {
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 || t.Second < 0 || t.Second > 59 {
		return errors.New("invalid time of day")
	}
	return nil
}

// ValidateActionConfig parses and checks an action config blob at load time.
// Branch nesting is validated recursively up to the run-time depth limit.
func ValidateActionConfig(typ ActionType, raw json.RawMessage) error {
	return validateActionConfig(typ, raw, 1)
}

func validateActionConfig(typ ActionType, raw json.RawMessage, depth int) error {
	switch typ {
	case ActionLaunchApp:
		var c LaunchAppConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return errors.New("launch_app config must be a valid json object")
		}
		if strings.TrimSpace(c.BundleName) == "" {
			return errors.New("launch_app.bundle_name is required")
		}
		if c.Mode == "explicit" && strings.TrimSpace(c.AbilityName) == "" {
			return errors.New("launch_app explicit mode requires ability_name")
		}
		return nil
	case ActionOpenURL:
		var c OpenURLConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return errors.New("open_url config must be a valid json object")
		}
		if strings.TrimSpace(c.URL) == "" {
			return errors.New("open_url.url is required")
		}
		return nil
	case ActionNotification:
		var c NotificationConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return errors.New("notification config must be a valid json object")
		}
		if strings.TrimSpace(c.Title) == "" {
			return errors.New("notification.title is required")
		}
		return nil
	case ActionHTTPRequest:
		var c HTTPRequestConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return errors.New("http_request config must be a valid json object")
		}
		switch strings.ToUpper(strings.TrimSpace(c.Method)) {
		case "GET", "POST", "PUT", "DELETE":
		default:
			return fmt.Errorf("unsupported http method: %s", c.Method)
		}
		if strings.TrimSpace(c.URL) == "" {
			return errors.New("http_request.url is required")
		}
		return nil
	case ActionClipboardRead:
		var c ClipboardConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return errors.New("clipboard config must be a valid json object")
		}
		return nil
	case ActionClipboardWrite:
		var c ClipboardConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return errors.New("clipboard config must be a valid json object")
		}
		if c.Content == "" {
			return errors.New("clipboard_write.content is required")
		}
		return nil
	case ActionTextProcess:
		var c TextProcessConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return errors.New("text_process config must be a valid json object")
		}
		switch c.Operation {
		case "regex_extract":
			if c.Pattern == "" {
				return errors.New("text_process regex_extract requires pattern")
			}
		case "replace":
			if c.SearchValue == "" {
				return errors.New("text_process replace requires search_value")
			}
		case "split":
			if c.Separator == "" {
				return errors.New("text_process split requires separator")
			}
		case "uppercase", "lowercase", "url_encode", "url_decode":
		default:
			return fmt.Errorf("unsupported text_process operation: %s", c.Operation)
		}
		return nil
	case ActionJSONProcess:
		var c JSONProcessConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return errors.New("json_process config must be a valid json object")
		}
		switch c.Operation {
		case "json_query", "json_filter", "json_map", "json_merge",
			"array_length", "array_get", "array_set", "json_encode", "json_decode":
		default:
			return fmt.Errorf("unsupported json_process operation: %s", c.Operation)
		}
		return nil
	case ActionUserDialog:
		var c UserDialogConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return errors.New("user_dialog config must be a valid json object")
		}
		switch c.Type {
		case "confirm", "text_input":
		case "single_select", "multi_select":
			if len(c.Options) == 0 {
				return fmt.Errorf("user_dialog %s requires options", c.Type)
			}
		default:
			return fmt.Errorf("unsupported user_dialog type: %s", c.Type)
		}
		if strings.TrimSpace(c.Title) == "" {
			return errors.New("user_dialog.title is required")
		}
		return nil
	case ActionSetVariable:
		var c SetVariableConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return errors.New("set_variable config must be a valid json object")
		}
		if !isValidVariableName(c.VariableName) {
			return fmt.Errorf("invalid variable name: %s", c.VariableName)
		}
		switch c.Scope {
		case "run", "macro", "global":
			return nil
		default:
			return fmt.Errorf("unsupported variable scope: %s", c.Scope)
		}
	case ActionIfElse:
		if depth > maxBranchDepth {
			return fmt.Errorf("if_else nesting exceeds max depth (%d)", maxBranchDepth)
		}
		var c IfElseConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return errors.New("if_else config must be a valid json object")
		}
		if len(c.Branches) == 0 {
			return errors.New("if_else requires at least one branch")
		}
		defaults := 0
		for i, b := range c.Branches {
			if len(b.Conditions) == 0 {
				defaults++
				if defaults > 1 {
					return errors.New("if_else allows at most one default branch")
				}
				if i != len(c.Branches)-1 {
					return errors.New("if_else default branch must be last")
				}
			}
			if len(b.Conditions) > maxBranchConditions {
				return fmt.Errorf("branch conditions exceed maximum (%d)", maxBranchConditions)
			}
			for _, bc := range b.Conditions {
				if _, ok := validConditionOps[bc.Operator]; !ok {
					return fmt.Errorf("unsupported branch condition operator: %s", bc.Operator)
				}
				switch bc.LogicOperator {
				case "", "AND", "OR":
				default:
					return fmt.Errorf("unsupported logic operator: %s", bc.LogicOperator)
				}
			}
			for _, na := range b.Actions {
				if err := validateActionConfig(na.Type, na.Config, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported action type: %s", typ)
	}
}

var variableNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

func isValidVariableName(name string) bool {
	return variableNamePattern.MatchString(name)
}
