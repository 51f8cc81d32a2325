package engine

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Condition is the evaluator's input shape. Macro-level conditions and
// branch conditions both reduce to it.
type Condition struct {
	Field         string
	Operator      string
	Value         string
	LogicOperator string // joins to the NEXT condition; empty means AND
}

// EvaluateAll combines conditions with their trailing logic operators,
// short-circuiting left to right. An empty list is vacuously true.
func EvaluateAll(ctx *RunContext, conds []Condition) bool {
	if len(conds) == 0 {
		return true
	}
	result := EvaluateOne(ctx, conds[0])
	for i := 1; i < len(conds); i++ {
		op := strings.ToUpper(conds[i-1].LogicOperator)
		if op == "" {
			op = "AND"
		}
		if op == "AND" && !result {
			return false
		}
		if op == "OR" && result {
			return true
		}
		next := EvaluateOne(ctx, conds[i])
		if op == "OR" {
			result = result || next
		} else {
			result = result && next
		}
	}
	return result
}

// EvaluateOne resolves both sides and applies the operator. Comparisons are
// numeric when both sides parse as numbers, otherwise string-based. Invalid
// regex patterns and unknown operators evaluate to false.
func EvaluateOne(ctx *RunContext, c Condition) bool {
	left := Resolve(ctx, c.Field)
	right := Resolve(ctx, c.Value)

	switch c.Operator {
	case "==":
		return compareEqual(left, right)
	case "!=":
		return !compareEqual(left, right)
	case ">", "<", ">=", "<=":
		return compareOrdered(c.Operator, left.Text, right.Text)
	case "contains":
		return strings.Contains(left.Text, right.Text)
	case "not_contains":
		return !strings.Contains(left.Text, right.Text)
	case "is_empty":
		return isEmptyValue(left)
	case "is_not_empty":
		return !isEmptyValue(left)
	case "regex":
		re, err := regexp.Compile(right.Text)
		if err != nil {
			return false
		}
		return re.MatchString(left.Text)
	default:
		return false
	}
}

func compareEqual(left, right Resolution) bool {
	if ln, lok := parseNumber(left.Text); lok {
		if rn, rok := parseNumber(right.Text); rok {
			return ln == rn
		}
	}
	return left.Text == right.Text
}

// compareOrdered requires numeric operands; non-numeric input evaluates to
// false rather than comparing lexicographically.
func compareOrdered(op, left, right string) bool {
	ln, lok := parseNumber(left)
	rn, rok := parseNumber(right)
	if !lok || !rok {
		return false
	}
	switch op {
	case ">":
		return ln > rn
	case "<":
		return ln < rn
	case ">=":
		return ln >= rn
	case "<=":
		return ln <= rn
	}
	return false
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// isEmptyValue treats "", empty arrays and empty objects as empty, both in
// native form and as serialized JSON text.
func isEmptyValue(r Resolution) bool {
	switch v := r.Value.(type) {
	case nil:
		return true
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}

	text := strings.TrimSpace(r.Text)
	if text == "" {
		return true
	}
	if text == "[]" || text == "{}" {
		return true
	}
	if strings.HasPrefix(text, "[") || strings.HasPrefix(text, "{") {
		var decoded any
		if err := json.Unmarshal([]byte(text), &decoded); err == nil {
			switch d := decoded.(type) {
			case []any:
				return len(d) == 0
			case map[string]any:
				return len(d) == 0
			}
		}
	}
	return false
}
