package engine

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidateMacroName(t *testing.T) {
	if err := ValidateMacroName("morning routine"); err != nil {
		t.Fatalf("expected valid name: %v", err)
	}
	if err := ValidateMacroName("   "); err == nil {
		t.Fatalf("expected error for blank name")
	}
	if err := ValidateMacroName(strings.Repeat("x", 51)); err == nil {
		t.Fatalf("expected error for long name")
	}
	// the limit counts runes, not bytes
	if err := ValidateMacroName(strings.Repeat("ä", 50)); err != nil {
		t.Fatalf("expected 50 runes to pass: %v", err)
	}
}

func TestValidateTriggerConfig(t *testing.T) {
	cases := []struct {
		name   string
		kind   string
		config string
		ok     bool
	}{
		{"once with timestamp", "time", `{"mode":"once","timestamp":1767225600000}`, true},
		{"once without timestamp", "time", `{"mode":"once"}`, false},
		{"daily", "time", `{"mode":"daily","daily_time":{"hour":7,"minute":30}}`, true},
		{"daily bad hour", "time", `{"mode":"daily","daily_time":{"hour":24}}`, false},
		{"weekly", "time", `{"mode":"weekly","weekly_time":{"weekdays":[1,3,5],"hour":9}}`, true},
		{"weekly bad weekday", "time", `{"mode":"weekly","weekly_time":{"weekdays":[7],"hour":9}}`, false},
		{"weekly no weekdays", "time", `{"mode":"weekly","weekly_time":{"weekdays":[],"hour":9}}`, false},
		{"interval", "time", `{"mode":"interval","interval_minutes":15}`, true},
		{"interval zero", "time", `{"mode":"interval"}`, false},
		{"unknown mode", "time", `{"mode":"hourly"}`, false},
		{"network wifi", "network", `{"trigger_on":"wifi_connected"}`, true},
		{"network bad", "network", `{"trigger_on":"bluetooth_connected"}`, false},
		{"manual", "manual", `{}`, true},
		{"clipboard", "clipboard", `{}`, true},
		{"unknown kind", "geofence", `{}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateTriggerConfig(tc.kind, json.RawMessage(tc.config))
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestValidateActionConfig(t *testing.T) {
	cases := []struct {
		name   string
		typ    ActionType
		config string
		ok     bool
	}{
		{"launch explicit", ActionLaunchApp, `{"bundle_name":"com.example.app","mode":"explicit","ability_name":"Main"}`, true},
		{"launch explicit no ability", ActionLaunchApp, `{"bundle_name":"com.example.app","mode":"explicit"}`, false},
		{"launch no bundle", ActionLaunchApp, `{}`, false},
		{"open url", ActionOpenURL, `{"url":"https://example.com"}`, true},
		{"http get", ActionHTTPRequest, `{"method":"GET","url":"https://example.com"}`, true},
		{"http patch", ActionHTTPRequest, `{"method":"PATCH","url":"https://example.com"}`, false},
		{"notification no title", ActionNotification, `{"content":"x"}`, false},
		{"clipboard write empty", ActionClipboardWrite, `{}`, false},
		{"text op unknown", ActionTextProcess, `{"operation":"reverse","input":"x"}`, false},
		{"json op", ActionJSONProcess, `{"operation":"json_query","input":"{x}"}`, true},
		{"dialog select no options", ActionUserDialog, `{"type":"single_select","title":"pick"}`, false},
		{"set variable", ActionSetVariable, `{"variable_name":"city","value":"x","scope":"global"}`, true},
		{"set variable bad scope", ActionSetVariable, `{"variable_name":"city","value":"x","scope":"session"}`, false},
		{"unknown type", ActionType("teleport"), `{}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateActionConfig(tc.typ, json.RawMessage(tc.config))
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestValidateActionConfig_IfElseRules(t *testing.T) {
	valid := `{"branches":[
		{"conditions":[{"field":"{x}","operator":"==","value":"1"}],"actions":[{"type":"notification","config":{"title":"a"}}]},
		{"actions":[{"type":"notification","config":{"title":"default"}}]}
	]}`
	if err := ValidateActionConfig(ActionIfElse, json.RawMessage(valid)); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}

	defaultNotLast := `{"branches":[
		{"actions":[{"type":"notification","config":{"title":"default"}}]},
		{"conditions":[{"field":"{x}","operator":"==","value":"1"}],"actions":[]}
	]}`
	if err := ValidateActionConfig(ActionIfElse, json.RawMessage(defaultNotLast)); err == nil {
		t.Fatalf("expected error for default branch not last")
	}

	twoDefaults := `{"branches":[{"actions":[]},{"actions":[]}]}`
	if err := ValidateActionConfig(ActionIfElse, json.RawMessage(twoDefaults)); err == nil {
		t.Fatalf("expected error for two default branches")
	}

	badOperator := `{"branches":[{"conditions":[{"field":"{x}","operator":"like","value":"1"}],"actions":[]}]}`
	if err := ValidateActionConfig(ActionIfElse, json.RawMessage(badOperator)); err == nil {
		t.Fatalf("expected error for unsupported operator")
	}

	nestedBad := `{"branches":[{"conditions":[{"field":"{x}","operator":"==","value":"1"}],
		"actions":[{"type":"notification","config":{}}]}]}`
	if err := ValidateActionConfig(ActionIfElse, json.RawMessage(nestedBad)); err == nil {
		t.Fatalf("expected nested action validation to fail")
	}
}

func TestValidateActionConfig_IfElseDepthLimit(t *testing.T) {
	// 6 levels of nesting exceeds the limit of 5
	inner := `{"branches":[{"actions":[{"type":"notification","config":{"title":"x"}}]}]}`
	for i := 0; i < 6; i++ {
		inner = `{"branches":[{"actions":[{"type":"if_else","config":` + inner + `}]}]}`
	}
	if err := ValidateActionConfig(ActionIfElse, json.RawMessage(inner)); err == nil {
		t.Fatalf("expected depth limit error")
	}

	shallow := `{"branches":[{"actions":[{"type":"notification","config":{"title":"x"}}]}]}`
	shallow = `{"branches":[{"actions":[{"type":"if_else","config":` + shallow + `}]}]}`
	if err := ValidateActionConfig(ActionIfElse, json.RawMessage(shallow)); err != nil {
		t.Fatalf("expected shallow nesting to pass: %v", err)
	}
}
