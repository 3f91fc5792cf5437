// Package fql parses and evaluates subscription queries such as
//
//	type = "track" and (event = "Order Completed" or contains(event, "Checkout"))
//
// Queries are parsed once into an immutable tree and evaluated many times.
// Evaluation is pure: missing fields compare false instead of failing.
package fql

import (
	"strconv"
	"strings"

	"github.com/gyaneshwarpardhi/actionkit/internal/jsonpath"
)

// Expr is the common interface for all AST nodes.
type Expr interface {
	exprNode()
	String() string
}

// BinaryExpr represents and / or.
type BinaryExpr struct {
	Op    string // "and" | "or"
	Left  Expr
	Right Expr
}

func (*BinaryExpr) exprNode() {}

func (e *BinaryExpr) String() string {
	return "(" + e.Left.String() + " " + e.Op + " " + e.Right.String() + ")"
}

// NotExpr represents not <expr>.
type NotExpr struct {
	Expr Expr
}

func (*NotExpr) exprNode() {}

func (e *NotExpr) String() string { return "not " + e.Expr.String() }

// ComparisonExpr represents <field> <operator> <literal>.
type ComparisonExpr struct {
	Field Field
	Op    Operator
	Value any // string, float64, bool or nil
}

func (*ComparisonExpr) exprNode() {}

func (e *ComparisonExpr) String() string {
	return e.Field.Raw + " " + string(e.Op) + " " + formatLiteral(e.Value)
}

// CallExpr represents contains(<field>, "s") and match(<field>, "glob").
type CallExpr struct {
	Func  string // "contains" | "match"
	Field Field
	Arg   string
}

func (*CallExpr) exprNode() {}

func (e *CallExpr) String() string {
	return e.Func + "(" + e.Field.Raw + ", " + strconv.Quote(e.Arg) + ")"
}

// Field is an event path such as properties.order_id, pre-split at parse time.
type Field struct {
	Raw  string
	Path jsonpath.Path
}

func formatLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return "?"
}

// Fields lists every event path the expression reads, in source order.
func Fields(e Expr) []string {
	var out []string
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case *BinaryExpr:
			walk(n.Left)
			walk(n.Right)
		case *NotExpr:
			walk(n.Expr)
		case *ComparisonExpr:
			out = append(out, n.Field.Raw)
		case *CallExpr:
			out = append(out, n.Field.Raw)
		}
	}
	walk(e)
	return out
}

func fieldFromSegments(segs []string) Field {
	p := make(jsonpath.Path, len(segs))
	raw := make([]string, len(segs))
	for i, s := range segs {
		p[i] = jsonpath.Segment{Key: s}
		if isPlainIdent(s) {
			raw[i] = s
		} else {
			raw[i] = "`" + s + "`"
		}
	}
	return Field{Raw: strings.Join(raw, "."), Path: p}
}
