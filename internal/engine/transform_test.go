package engine

import (
	"context"
	"encoding/json"
	"testing"
)

func textAction(t *testing.T, cfg TextProcessConfig) Action {
	t.Helper()
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	return Action{MacroID: 1, Type: ActionTextProcess, Config: raw}
}

func jsonAction(t *testing.T, cfg JSONProcessConfig) Action {
	t.Helper()
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	return Action{MacroID: 1, Type: ActionJSONProcess, Config: raw}
}

func TestTextProcess_RegexExtractGroup(t *testing.T) {
	run := newTestRunContext(nil)
	run.SetVar("line", "order #4521 shipped")

	_, err := textProcessExecutor{}.Execute(context.Background(), run, textAction(t, TextProcessConfig{
		Operation:      "regex_extract",
		Input:          "{line}",
		Pattern:        `#(\d+)`,
		GroupIndex:     1,
		SaveToVariable: "orderNo",
	}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if v, _ := run.LookupUser("orderNo"); v != "4521" {
		t.Fatalf("expected 4521, got %#v", v)
	}
}

func TestTextProcess_RegexNoMatchYieldsEmpty(t *testing.T) {
	run := newTestRunContext(nil)
	_, err := textProcessExecutor{}.Execute(context.Background(), run, textAction(t, TextProcessConfig{
		Operation:      "regex_extract",
		Input:          "nothing here",
		Pattern:        `\d+`,
		SaveToVariable: "out",
	}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if v, _ := run.LookupUser("out"); v != "" {
		t.Fatalf("expected empty string, got %#v", v)
	}
}

func TestTextProcess_ReplaceAndCase(t *testing.T) {
	run := newTestRunContext(nil)
	_, err := textProcessExecutor{}.Execute(context.Background(), run, textAction(t, TextProcessConfig{
		Operation:      "replace",
		Input:          "a-b-c",
		SearchValue:    "-",
		ReplaceValue:   "_",
		SaveToVariable: "joined",
	}))
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if v, _ := run.LookupUser("joined"); v != "a_b_c" {
		t.Fatalf("got %#v", v)
	}

	_, err = textProcessExecutor{}.Execute(context.Background(), run, textAction(t, TextProcessConfig{
		Operation:      "uppercase",
		Input:          "{joined}",
		SaveToVariable: "loud",
	}))
	if err != nil {
		t.Fatalf("uppercase: %v", err)
	}
	if v, _ := run.LookupUser("loud"); v != "A_B_C" {
		t.Fatalf("got %#v", v)
	}
}

func TestTextProcess_SplitProducesArray(t *testing.T) {
	run := newTestRunContext(nil)
	_, err := textProcessExecutor{}.Execute(context.Background(), run, textAction(t, TextProcessConfig{
		Operation:      "split",
		Input:          "x,y,z",
		Separator:      ",",
		SaveToVariable: "parts",
	}))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	v, _ := run.LookupUser("parts")
	arr, ok := v.([]any)
	if !ok || len(arr) != 3 || arr[1] != "y" {
		t.Fatalf("got %#v", v)
	}
}

func TestJSONProcess_QueryPath(t *testing.T) {
	run := newTestRunContext(nil)
	run.SetVar("payload", map[string]any{
		"users": []any{
			map[string]any{"name": "alice", "age": float64(30)},
			map[string]any{"name": "bob", "age": float64(17)},
		},
	})

	_, err := jsonProcessExecutor{}.Execute(context.Background(), run, jsonAction(t, JSONProcessConfig{
		Operation:      "json_query",
		Input:          "{payload}",
		QueryPath:      "users.[0].name",
		SaveToVariable: "first",
	}))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if v, _ := run.LookupUser("first"); v != "alice" {
		t.Fatalf("got %#v", v)
	}
}

func TestJSONProcess_FilterAndMap(t *testing.T) {
	run := newTestRunContext(nil)
	input := `[{"name":"alice","age":30},{"name":"bob","age":17}]`

	_, err := jsonProcessExecutor{}.Execute(context.Background(), run, jsonAction(t, JSONProcessConfig{
		Operation:       "json_filter",
		Input:           input,
		FilterCondition: "age>18",
		SaveToVariable:  "adults",
	}))
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	adults, _ := run.LookupUser("adults")
	if arr, ok := adults.([]any); !ok || len(arr) != 1 {
		t.Fatalf("got %#v", adults)
	}

	_, err = jsonProcessExecutor{}.Execute(context.Background(), run, jsonAction(t, JSONProcessConfig{
		Operation:      "json_map",
		Input:          input,
		MapField:       "name",
		SaveToVariable: "names",
	}))
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	names, _ := run.LookupUser("names")
	arr, ok := names.([]any)
	if !ok || len(arr) != 2 || arr[0] != "alice" {
		t.Fatalf("got %#v", names)
	}
}

func TestJSONProcess_ArrayOps(t *testing.T) {
	run := newTestRunContext(nil)

	_, err := jsonProcessExecutor{}.Execute(context.Background(), run, jsonAction(t, JSONProcessConfig{
		Operation:      "array_length",
		Input:          `[1,2,3]`,
		SaveToVariable: "n",
	}))
	if err != nil {
		t.Fatalf("length: %v", err)
	}
	if v, _ := run.LookupUser("n"); v != 3 {
		t.Fatalf("got %#v", v)
	}

	_, err = jsonProcessExecutor{}.Execute(context.Background(), run, jsonAction(t, JSONProcessConfig{
		Operation:      "array_get",
		Input:          `["a","b"]`,
		ArrayIndex:     1,
		SaveToVariable: "item",
	}))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v, _ := run.LookupUser("item"); v != "b" {
		t.Fatalf("got %#v", v)
	}
}

func TestJSONProcess_MergeIsShallow(t *testing.T) {
	run := newTestRunContext(nil)
	_, err := jsonProcessExecutor{}.Execute(context.Background(), run, jsonAction(t, JSONProcessConfig{
		Operation:      "json_merge",
		Input:          `{"a":1,"b":1}`,
		MergeSource:    `{"b":2,"c":3}`,
		SaveToVariable: "merged",
	}))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	v, _ := run.LookupUser("merged")
	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("got %#v", v)
	}
	if m["a"] != float64(1) || m["b"] != float64(2) || m["c"] != float64(3) {
		t.Fatalf("got %#v", m)
	}
}

func TestJSONProcess_InvalidInputFails(t *testing.T) {
	run := newTestRunContext(nil)
	_, err := jsonProcessExecutor{}.Execute(context.Background(), run, jsonAction(t, JSONProcessConfig{
		Operation: "json_decode",
		Input:     "not json at all",
	}))
	if err == nil {
		t.Fatalf("expected error for invalid json input")
	}
}
