package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

type textProcessExecutor struct{}

func (textProcessExecutor) Execute(_ context.Context, run *RunContext, act Action) (any, error) {
	cfg, err := decodeConfig[TextProcessConfig](act)
	if err != nil {
		return nil, err
	}
	input := ResolveText(run, cfg.Input)

	var result any
	switch cfg.Operation {
	case "regex_extract":
		pattern := ResolveText(run, cfg.Pattern)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("text_process: invalid regex %q", pattern)
		}
		m := re.FindStringSubmatch(input)
		if m == nil || cfg.GroupIndex >= len(m) {
			result = ""
		} else {
			result = m[cfg.GroupIndex]
		}
	case "replace":
		search := ResolveText(run, cfg.SearchValue)
		repl := ResolveText(run, cfg.ReplaceValue)
		if re, err := regexp.Compile(search); err == nil {
			result = re.ReplaceAllString(input, repl)
		} else {
			result = strings.ReplaceAll(input, search, repl)
		}
	case "split":
		sep := ResolveText(run, cfg.Separator)
		parts := strings.Split(input, sep)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		result = out
	case "uppercase":
		result = strings.ToUpper(input)
	case "lowercase":
		result = strings.ToLower(input)
	case "url_encode":
		result = url.QueryEscape(input)
	case "url_decode":
		decoded, err := url.QueryUnescape(input)
		if err != nil {
			return nil, fmt.Errorf("text_process: url decode: %w", err)
		}
		result = decoded
	default:
		return nil, fmt.Errorf("text_process: unknown operation %q", cfg.Operation)
	}

	if cfg.SaveToVariable != "" {
		run.SetVar(cfg.SaveToVariable, result)
	}
	return map[string]any{"operation": cfg.Operation, "result": result}, nil
}

type jsonProcessExecutor struct{}

func (jsonProcessExecutor) Execute(_ context.Context, run *RunContext, act Action) (any, error) {
	cfg, err := decodeConfig[JSONProcessConfig](act)
	if err != nil {
		return nil, err
	}
	input, err := resolveJSONInput(run, cfg.Input)
	if err != nil {
		return nil, fmt.Errorf("json_process: %w", err)
	}

	var result any
	switch cfg.Operation {
	case "json_query":
		result = queryPath(input, cfg.QueryPath)
	case "json_filter":
		arr, ok := input.([]any)
		if !ok {
			return nil, fmt.Errorf("json_process: %s requires array input", cfg.Operation)
		}
		out := make([]any, 0, len(arr))
		for _, item := range arr {
			if matchItemCondition(item, cfg.FilterCondition) {
				out = append(out, item)
			}
		}
		result = out
	case "json_map":
		arr, ok := input.([]any)
		if !ok {
			return nil, fmt.Errorf("json_process: %s requires array input", cfg.Operation)
		}
		out := make([]any, len(arr))
		for i, item := range arr {
			if obj, ok := item.(map[string]any); ok {
				out[i] = obj[cfg.MapField]
			}
		}
		result = out
	case "json_merge":
		source, err := resolveJSONInput(run, cfg.MergeSource)
		if err != nil {
			return nil, fmt.Errorf("json_process: merge source: %w", err)
		}
		result = mergeShallow(input, source)
	case "array_length":
		arr, ok := input.([]any)
		if !ok {
			return nil, fmt.Errorf("json_process: %s requires array input", cfg.Operation)
		}
		result = len(arr)
	case "array_get":
		arr, ok := input.([]any)
		if !ok {
			return nil, fmt.Errorf("json_process: %s requires array input", cfg.Operation)
		}
		if cfg.ArrayIndex < 0 || cfg.ArrayIndex >= len(arr) {
			result = nil
		} else {
			result = arr[cfg.ArrayIndex]
		}
	case "array_set":
		arr, ok := input.([]any)
		if !ok {
			return nil, fmt.Errorf("json_process: %s requires array input", cfg.Operation)
		}
		if cfg.ArrayIndex < 0 {
			return nil, fmt.Errorf("json_process: negative array index %d", cfg.ArrayIndex)
		}
		for len(arr) <= cfg.ArrayIndex {
			arr = append(arr, nil)
		}
		arr[cfg.ArrayIndex] = Resolve(run, cfg.NewValue).Value
		result = arr
	case "json_encode":
		data, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("json_process: encode: %w", err)
		}
		result = string(data)
	case "json_decode":
		result = input
	default:
		return nil, fmt.Errorf("json_process: unknown operation %q", cfg.Operation)
	}

	if cfg.SaveToVariable != "" {
		run.SetVar(cfg.SaveToVariable, result)
	}
	return map[string]any{"operation": cfg.Operation, "result": result}, nil
}

// resolveJSONInput resolves the template, keeping native object and array
// values when the whole input is one placeholder, and parses string input
// as JSON otherwise.
func resolveJSONInput(run *RunContext, input string) (any, error) {
	r := Resolve(run, input)
	switch r.Value.(type) {
	case map[string]any, []any:
		return r.Value, nil
	}
	var parsed any
	if err := json.Unmarshal([]byte(r.Text), &parsed); err != nil {
		return nil, fmt.Errorf("invalid json input: %q", truncate(r.Text, 100))
	}
	return parsed, nil
}

var arrayIndexSegment = regexp.MustCompile(`^\[(\d+)\]$`)
var filterSegment = regexp.MustCompile(`^\[\?(.+)\]$`)

// queryPath navigates a dot-separated path. Segments may be field names,
// array indices like "[0]", the wildcard "*", or filters like "[?age>18]".
// Missing paths resolve to nil rather than erroring.
func queryPath(v any, path string) any {
	if path == "" {
		return v
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		if cur == nil {
			return nil
		}
		switch {
		case arrayIndexSegment.MatchString(seg):
			arr, ok := cur.([]any)
			if !ok {
				return nil
			}
			idx, _ := strconv.Atoi(arrayIndexSegment.FindStringSubmatch(seg)[1])
			if idx < 0 || idx >= len(arr) {
				return nil
			}
			cur = arr[idx]
		case seg == "*":
			if arr, ok := cur.([]any); ok {
				return arr
			}
			return nil
		case filterSegment.MatchString(seg):
			arr, ok := cur.([]any)
			if !ok {
				return nil
			}
			cond := filterSegment.FindStringSubmatch(seg)[1]
			out := make([]any, 0, len(arr))
			for _, item := range arr {
				if matchItemCondition(item, cond) {
					out = append(out, item)
				}
			}
			cur = out
		default:
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil
			}
			cur = obj[seg]
		}
	}
	return cur
}

var itemConditionOps = []string{">=", "<=", "==", "!=", ">", "<"}

// matchItemCondition evaluates expressions like "age>18", "name=='John'" or
// a bare field name checked for boolean true.
func matchItemCondition(item any, condition string) bool {
	obj, ok := item.(map[string]any)
	if !ok {
		return false
	}

	var op string
	opIdx := -1
	for _, candidate := range itemConditionOps {
		if i := strings.Index(condition, candidate); i > 0 {
			op, opIdx = candidate, i
			break
		}
	}
	if op == "" {
		b, _ := obj[strings.TrimSpace(condition)].(bool)
		return b
	}

	field := strings.TrimSpace(condition[:opIdx])
	valueStr := strings.TrimSpace(condition[opIdx+len(op):])
	if strings.HasPrefix(valueStr, "'") && strings.HasSuffix(valueStr, "'") && len(valueStr) >= 2 {
		valueStr = valueStr[1 : len(valueStr)-1]
	}

	left := Stringify(obj[field])
	switch op {
	case "==":
		return compareEqualText(left, valueStr)
	case "!=":
		return !compareEqualText(left, valueStr)
	default:
		return compareOrdered(op, left, valueStr)
	}
}

func compareEqualText(left, right string) bool {
	if ln, lok := parseNumber(left); lok {
		if rn, rok := parseNumber(right); rok {
			return ln == rn
		}
	}
	return left == right
}

func mergeShallow(target, source any) any {
	t, tok := target.(map[string]any)
	s, sok := source.(map[string]any)
	if !tok {
		return source
	}
	if !sok {
		return target
	}
	out := make(map[string]any, len(t)+len(s))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range s {
		out[k] = v
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
