package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// maxResolveDepth bounds recursive placeholder expansion. Values that still
// contain placeholders after this many passes are returned as-is with
// DepthExceeded set; expansion never errors out a run on its own.
const maxResolveDepth = 10

// Resolution is the outcome of resolving a template. Value keeps the native
// type when the input was a single bare placeholder; Text is the spliced
// string form.
type Resolution struct {
	Text          string
	Value         any
	DepthExceeded bool
}

type tokenKind int

const (
	tokenLiteral tokenKind = iota
	tokenPlaceholder
)

type token struct {
	kind tokenKind
	text string // literal text, or placeholder name without braces
}

// tokenize splits a template into literal and placeholder tokens. An
// unterminated brace or empty placeholder is kept as literal text.
func tokenize(input string) []token {
	var out []token
	for len(input) > 0 {
		open := strings.IndexByte(input, '{')
		if open < 0 {
			out = append(out, token{tokenLiteral, input})
			break
		}
		close := strings.IndexByte(input[open:], '}')
		if close < 0 {
			out = append(out, token{tokenLiteral, input})
			break
		}
		close += open
		name := input[open+1 : close]
		if name == "" || strings.ContainsAny(name, "{ \t") {
			if open+1 > 0 {
				out = append(out, token{tokenLiteral, input[:open+1]})
			}
			input = input[open+1:]
			continue
		}
		if open > 0 {
			out = append(out, token{tokenLiteral, input[:open]})
		}
		out = append(out, token{tokenPlaceholder, name})
		input = input[close+1:]
	}
	return out
}

// Resolve expands every {name} placeholder in input. Lookup order is system
// variables, then run scope, then global scope; unresolvable placeholders
// stay verbatim. When the whole input is exactly one placeholder the native
// value is preserved in Resolution.Value.
func Resolve(ctx *RunContext, input string) Resolution {
	return resolve(ctx, input, 1)
}

// ResolveText is the common case where only the spliced string matters.
func ResolveText(ctx *RunContext, input string) string {
	return Resolve(ctx, input).Text
}

func resolve(ctx *RunContext, input string, depth int) Resolution {
	toks := tokenize(input)

	if len(toks) == 1 && toks[0].kind == tokenPlaceholder {
		val, ok := lookup(ctx, toks[0].text)
		if !ok {
			slog.Warn("variable not found", "name", toks[0].text)
			return Resolution{Text: input, Value: input}
		}
		return finishValue(ctx, val, input, depth)
	}

	var b strings.Builder
	exceeded := false
	for _, t := range toks {
		if t.kind == tokenLiteral {
			b.WriteString(t.text)
			continue
		}
		val, ok := lookup(ctx, t.text)
		if !ok {
			slog.Warn("variable not found", "name", t.text)
			b.WriteString("{" + t.text + "}")
			continue
		}
		r := finishValue(ctx, val, "", depth)
		if r.DepthExceeded {
			exceeded = true
		}
		b.WriteString(r.Text)
	}
	text := b.String()
	return Resolution{Text: text, Value: text, DepthExceeded: exceeded}
}

// finishValue re-resolves string values that still contain placeholders,
// respecting the depth cutoff, and splices non-string values as compact JSON.
func finishValue(ctx *RunContext, val any, raw string, depth int) Resolution {
	s, isString := val.(string)
	if !isString {
		return Resolution{Text: Stringify(val), Value: val}
	}
	if !strings.Contains(s, "{") {
		return Resolution{Text: s, Value: s}
	}
	if depth >= maxResolveDepth {
		return Resolution{Text: s, Value: s, DepthExceeded: true}
	}
	return resolve(ctx, s, depth+1)
}

// lookup resolves a variable name, navigating dot paths into object and
// array values after the head segment is found.
func lookup(ctx *RunContext, name string) (any, bool) {
	head := name
	rest := ""
	if i := strings.IndexByte(name, '.'); i >= 0 {
		head, rest = name[:i], name[i+1:]
	}

	val, ok := lookupHead(ctx, head)
	if !ok {
		return nil, false
	}
	if rest == "" {
		return val, true
	}
	return navigatePath(val, rest)
}

func lookupHead(ctx *RunContext, name string) (any, bool) {
	if v, ok := systemVariable(ctx, name); ok {
		return v, true
	}
	return ctx.LookupUser(name)
}

func systemVariable(ctx *RunContext, name string) (any, bool) {
	switch name {
	case "date":
		return time.Now().Format("2006-01-02"), true
	case "time":
		return time.Now().Format("15:04:05"), true
	case "timestamp":
		return time.Now().UnixMilli(), true
	case "clipboard":
		if ctx.Sys == nil {
			return "", true
		}
		text, err := ctx.Sys.ClipboardText()
		if err != nil {
			return "", true
		}
		return text, true
	case "network_type":
		if ctx.Sys == nil {
			return "none", true
		}
		return ctx.Sys.NetworkType(), true
	case "battery_level":
		if ctx.Sys == nil {
			return 0, true
		}
		return ctx.Sys.BatteryLevel(), true
	default:
		return nil, false
	}
}

// navigatePath walks a dot-separated path through decoded JSON values.
// Numeric segments index into arrays. A string encountered mid-path may hold
// serialized JSON and is decoded once before the walk continues.
func navigatePath(val any, path string) (any, bool) {
	cur := val
	segs := strings.Split(path, ".")
	for i := 0; i < len(segs); i++ {
		if s, ok := cur.(string); ok {
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err != nil {
				return nil, false
			}
			cur = decoded
		}
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[segs[i]]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(segs[i])
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Stringify renders a value for splicing into text: strings pass through,
// everything else serializes to compact JSON.
func Stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
