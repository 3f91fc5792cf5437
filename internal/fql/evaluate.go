package fql

import (
	"strings"
	"unicode/utf8"
)

// Operator represents a comparison operator.
type Operator string

const (
	OpEq  Operator = "="
	OpNeq Operator = "!="
	OpGt  Operator = ">"
	OpGte Operator = ">="
	OpLt  Operator = "<"
	OpLte Operator = "<="
)

func (op Operator) ordered() bool {
	switch op {
	case OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Evaluate walks the tree against an event's data and reports whether it
// matches. It never fails: absent fields and type mismatches compare false.
func Evaluate(expr Expr, data map[string]any) bool {
	switch e := expr.(type) {
	case *BinaryExpr:
		if e.Op == "and" {
			return Evaluate(e.Left, data) && Evaluate(e.Right, data)
		}
		return Evaluate(e.Left, data) || Evaluate(e.Right, data)
	case *NotExpr:
		return !Evaluate(e.Expr, data)
	case *ComparisonExpr:
		return evalComparison(e, data)
	case *CallExpr:
		return evalCall(e, data)
	}
	return false
}

func evalComparison(e *ComparisonExpr, data map[string]any) bool {
	v, ok := e.Field.Path.Lookup(data)
	// null stands in for "absent" so that x != null works as an existence test.
	if e.Value == nil {
		isNull := !ok || v == nil
		switch e.Op {
		case OpEq:
			return isNull
		case OpNeq:
			return !isNull
		}
		return false
	}
	if !ok {
		return false
	}
	switch e.Op {
	case OpEq:
		return equal(v, e.Value)
	case OpNeq:
		return !equal(v, e.Value)
	}
	lf, lok := toFloat64(v)
	rf, _ := e.Value.(float64)
	if !lok {
		return false
	}
	switch e.Op {
	case OpGt:
		return lf > rf
	case OpGte:
		return lf >= rf
	case OpLt:
		return lf < rf
	case OpLte:
		return lf <= rf
	}
	return false
}

func evalCall(e *CallExpr, data map[string]any) bool {
	v, ok := e.Field.Path.Lookup(data)
	if !ok {
		return false
	}
	s, isStr := v.(string)
	if !isStr {
		return false
	}
	switch e.Func {
	case "contains":
		return strings.Contains(s, e.Arg)
	case "match":
		return globMatch(e.Arg, s)
	}
	return false
}

// equal compares without allocating: numbers by value, otherwise the dynamic
// types must agree.
func equal(left, right any) bool {
	if lf, ok := toFloat64(left); ok {
		rf, ok := right.(float64)
		return ok && lf == rf
	}
	switch l := left.(type) {
	case string:
		r, ok := right.(string)
		return ok && l == r
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	case nil:
		return right == nil
	}
	return false
}

// toFloat64 coerces a numeric value to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// globMatch reports whether s matches pattern, where * matches any run of
// characters (including none), ? matches exactly one and \ escapes the next
// pattern byte.
func globMatch(pattern, s string) bool {
	px, sx := 0, 0
	starPx, starSx := -1, -1
	for px < len(pattern) || sx < len(s) {
		if px < len(pattern) {
			switch c := pattern[px]; c {
			case '*':
				starPx = px
				starSx = sx + runeWidth(s, sx)
				px++
				continue
			case '?':
				if sx < len(s) {
					px++
					sx += runeWidth(s, sx)
					continue
				}
			case '\\':
				if px+1 < len(pattern) && sx < len(s) && s[sx] == pattern[px+1] {
					px += 2
					sx++
					continue
				}
			default:
				if sx < len(s) && s[sx] == c {
					px++
					sx++
					continue
				}
			}
		}
		// Mismatch: let the last * absorb one more character and retry.
		if starPx >= 0 && starSx <= len(s) {
			px = starPx + 1
			sx = starSx
			starSx += runeWidth(s, sx)
			continue
		}
		return false
	}
	return true
}

func runeWidth(s string, i int) int {
	if i >= len(s) {
		return 1
	}
	_, w := utf8.DecodeRuneInString(s[i:])
	return w
}
