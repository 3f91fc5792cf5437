package fql

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/gyaneshwarpardhi/actionkit/internal/errkind"
)

// ParseError reports a malformed query. It is a configuration error.
type ParseError struct {
	Source string
	Pos    int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("fql: %s at position %d in %q", e.Msg, e.Pos, e.Source)
}

func (e *ParseError) Unwrap() error { return errkind.ErrConfiguration }

// -----------------------------------------------------------------------
// Tokenizer
// -----------------------------------------------------------------------

type tokenKind int

const (
	tokField  tokenKind = iota // path or keyword
	tokOp                      // = != > >= < <=
	tokBang                    // !
	tokString                  // "…"
	tokNumber                  // 42 | 3.14 | -1
	tokLParen
	tokRParen
	tokComma
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
	segs []string // tokField only
	pos  int
}

// keyword reports whether t is the bare word w (case-insensitive).
func (t token) keyword(w string) bool {
	return t.kind == tokField && len(t.segs) == 1 && t.val == t.segs[0] && strings.EqualFold(t.val, w)
}

type lexer struct {
	src    string
	tokens []token
}

func tokenize(src string) ([]token, error) {
	l := &lexer{src: src}
	i := 0
	for i < len(src) {
		ch := src[i]
		switch {
		case unicode.IsSpace(rune(ch)):
			i++
		case ch == '(':
			l.emit(tokLParen, "(", i)
			i++
		case ch == ')':
			l.emit(tokRParen, ")", i)
			i++
		case ch == ',':
			l.emit(tokComma, ",", i)
			i++
		case ch == '=':
			// "==" is accepted as a synonym for "=".
			n := 1
			if i+1 < len(src) && src[i+1] == '=' {
				n = 2
			}
			l.emit(tokOp, "=", i)
			i += n
		case ch == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				l.emit(tokOp, "!=", i)
				i += 2
			} else {
				l.emit(tokBang, "!", i)
				i++
			}
		case ch == '<' || ch == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				l.emit(tokOp, src[i:i+2], i)
				i += 2
			} else {
				l.emit(tokOp, string(ch), i)
				i++
			}
		case ch == '"':
			s, n, err := l.readString(i)
			if err != nil {
				return nil, err
			}
			l.emit(tokString, s, i)
			i += n
		case isDigit(ch) || (ch == '-' && i+1 < len(src) && isDigit(src[i+1])):
			j := i + 1
			for j < len(src) && (isDigit(src[j]) || src[j] == '.') {
				j++
			}
			l.emit(tokNumber, src[i:j], i)
			i = j
		case isIdentStart(ch) || ch == '`':
			n, err := l.readField(i)
			if err != nil {
				return nil, err
			}
			i += n
		default:
			return nil, &ParseError{Source: src, Pos: i, Msg: fmt.Sprintf("unexpected character %q", ch)}
		}
	}
	l.emit(tokEOF, "", len(src))
	return l.tokens, nil
}

func (l *lexer) emit(kind tokenKind, val string, pos int) {
	l.tokens = append(l.tokens, token{kind: kind, val: val, pos: pos})
}

// readString scans a double-quoted literal at start, handling backslash escapes.
func (l *lexer) readString(start int) (string, int, error) {
	var b strings.Builder
	for j := start + 1; j < len(l.src); j++ {
		c := l.src[j]
		if c == '\\' && j+1 < len(l.src) {
			j++
			switch e := l.src[j]; e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(e)
			}
			continue
		}
		if c == '"' {
			return b.String(), j - start + 1, nil
		}
		b.WriteByte(c)
	}
	return "", 0, &ParseError{Source: l.src, Pos: start, Msg: "unterminated string"}
}

// readField scans a dotted path whose segments are identifiers or
// backtick-quoted names, e.g. context.`user agent`.
func (l *lexer) readField(start int) (int, error) {
	var segs []string
	j := start
	for {
		if j < len(l.src) && l.src[j] == '`' {
			end := strings.IndexByte(l.src[j+1:], '`')
			if end < 0 {
				return 0, &ParseError{Source: l.src, Pos: j, Msg: "unterminated quoted field"}
			}
			segs = append(segs, l.src[j+1:j+1+end])
			j += end + 2
		} else {
			k := j
			for k < len(l.src) && isIdentPart(l.src[k]) {
				k++
			}
			if k == j {
				return 0, &ParseError{Source: l.src, Pos: j, Msg: "empty field segment"}
			}
			segs = append(segs, l.src[j:k])
			j = k
		}
		if j < len(l.src) && l.src[j] == '.' {
			j++
			continue
		}
		break
	}
	l.tokens = append(l.tokens, token{kind: tokField, val: l.src[start:j], segs: segs, pos: start})
	return j - start, nil
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || c == '$' || (c|0x20 >= 'a' && c|0x20 <= 'z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) || c == '-' }

func isPlainIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentPart(s[i]) {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------
// Recursive-descent parser
// -----------------------------------------------------------------------

type parser struct {
	src    string
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) consume() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &ParseError{Source: p.src, Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(kind tokenKind, val string) (token, error) {
	t := p.peek()
	if t.kind != kind {
		if t.kind == tokEOF {
			return t, p.errorf(t, "expected %q but reached end of query", val)
		}
		return t, p.errorf(t, "expected %q but got %q", val, t.val)
	}
	return p.consume(), nil
}

// Parse parses a query string into an expression tree.
func Parse(src string) (Expr, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, tokens: tokens}
	if p.peek().kind == tokEOF {
		return nil, p.errorf(p.peek(), "empty query")
	}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %q after expression", t.val)
	}
	return node, nil
}

// or_expr = and_expr ( "or" and_expr )*
func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().keyword("or") {
		p.consume()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "or", Left: left, Right: right}
	}
	return left, nil
}

// and_expr = unary ( "and" unary )*
func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().keyword("and") {
		p.consume()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "and", Left: left, Right: right}
	}
	return left, nil
}

// unary = ( "not" | "!" ) unary | "(" or_expr ")" | call | comparison
func (p *parser) parseUnary() (Expr, error) {
	t := p.peek()
	if t.keyword("not") || t.kind == tokBang {
		p.consume()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Expr: inner}, nil
	}
	if t.kind == tokLParen {
		p.consume()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	if (t.keyword("contains") || t.keyword("match")) && p.tokens[p.pos+1].kind == tokLParen {
		return p.parseCall()
	}
	return p.parseComparison()
}

// call = ( "contains" | "match" ) "(" field "," string ")"
func (p *parser) parseCall() (Expr, error) {
	name := strings.ToLower(p.consume().val)
	p.consume() // "("
	f, err := p.parseField()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokComma, ","); err != nil {
		return nil, err
	}
	arg := p.peek()
	if arg.kind != tokString {
		return nil, p.errorf(arg, "%s expects a string literal as its second argument", name)
	}
	p.consume()
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return &CallExpr{Func: name, Field: f, Arg: arg.val}, nil
}

// comparison = field operator literal
func (p *parser) parseComparison() (Expr, error) {
	f, err := p.parseField()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind != tokOp {
		if t.kind == tokEOF {
			return nil, p.errorf(t, "expected comparison operator after %q", f.Raw)
		}
		return nil, p.errorf(t, "expected comparison operator, got %q", t.val)
	}
	p.consume()
	op := Operator(t.val)
	val, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	if op.ordered() {
		if _, isNum := val.(float64); !isNum {
			return nil, p.errorf(t, "operator %s requires a numeric literal", op)
		}
	}
	return &ComparisonExpr{Field: f, Op: op, Value: val}, nil
}

func (p *parser) parseField() (Field, error) {
	t := p.peek()
	if t.kind != tokField {
		if t.kind == tokEOF {
			return Field{}, p.errorf(t, "expected field but reached end of query")
		}
		return Field{}, p.errorf(t, "expected field, got %q", t.val)
	}
	for _, kw := range []string{"and", "or", "not", "true", "false", "null"} {
		if t.keyword(kw) {
			return Field{}, p.errorf(t, "expected field, got keyword %q", t.val)
		}
	}
	p.consume()
	return fieldFromSegments(t.segs), nil
}

// literal = string | number | true | false | null
func (p *parser) parseLiteral() (any, error) {
	t := p.peek()
	switch {
	case t.kind == tokString:
		p.consume()
		return t.val, nil
	case t.kind == tokNumber:
		p.consume()
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, p.errorf(t, "invalid number %q", t.val)
		}
		return f, nil
	case t.keyword("true"):
		p.consume()
		return true, nil
	case t.keyword("false"):
		p.consume()
		return false, nil
	case t.keyword("null"):
		p.consume()
		return nil, nil
	case t.kind == tokEOF:
		return nil, p.errorf(t, "expected literal but reached end of query")
	}
	return nil, p.errorf(t, "expected literal, got %q", t.val)
}
