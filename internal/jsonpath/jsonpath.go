// Package jsonpath resolves dotted/bracketed path expressions such as
// "$.properties.items[0].id" or `context["user agent"]` against decoded JSON
// values (map[string]any, []any and scalars).
//
// Resolution is total: a missing key, a non-container intermediate, an index
// out of range, a nil root or a malformed path all report "not found". Nothing
// in this package panics on data it is given.
package jsonpath

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one step of a parsed path: an object key or an array index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool // disambiguates Index=0 from a key segment
}

func (s Segment) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Key
}

// Path is a pre-parsed path expression. The empty Path refers to the root.
type Path []Segment

// Parse splits a path expression into segments.
// A leading "$" (and the "." after it) is optional; "$" alone is the root.
func Parse(path string) (Path, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, fmt.Errorf("empty path")
	}
	if p[0] == '$' {
		p = p[1:]
		if p == "" {
			return Path{}, nil
		}
		if p[0] == '.' {
			p = p[1:]
			if p == "" {
				return nil, fmt.Errorf("invalid path %q: trailing '.'", path)
			}
		} else if p[0] != '[' {
			return nil, fmt.Errorf("invalid path %q: expected '.' or '[' after '$'", path)
		}
	}

	segs := make(Path, 0, strings.Count(p, ".")+1)
	i := 0
	expectKey := true // a bare key may start here
	for i < len(p) {
		switch ch := p[i]; {
		case ch == '[':
			seg, n, err := parseBracket(p[i:])
			if err != nil {
				return nil, fmt.Errorf("invalid path %q: %w", path, err)
			}
			segs = append(segs, seg)
			i += n
			expectKey = false
		case ch == '.':
			if expectKey {
				return nil, fmt.Errorf("invalid path %q: empty segment at %d", path, i)
			}
			i++
			expectKey = true
			if i == len(p) {
				return nil, fmt.Errorf("invalid path %q: trailing '.'", path)
			}
		default:
			if !expectKey {
				return nil, fmt.Errorf("invalid path %q: unexpected %q at %d", path, ch, i)
			}
			j := i
			for j < len(p) && p[j] != '.' && p[j] != '[' {
				j++
			}
			segs = append(segs, Segment{Key: p[i:j]})
			i = j
			expectKey = false
		}
	}
	return segs, nil
}

// parseBracket parses "[0]", "['key']" or `["key"]` at the start of s and
// returns the segment plus the number of bytes consumed.
func parseBracket(s string) (Segment, int, error) {
	if len(s) < 2 {
		return Segment{}, 0, fmt.Errorf("unterminated '['")
	}
	if q := s[1]; q == '\'' || q == '"' {
		var b strings.Builder
		for j := 2; j < len(s); j++ {
			c := s[j]
			if c == '\\' && j+1 < len(s) {
				j++
				b.WriteByte(s[j])
				continue
			}
			if c == q {
				if j+1 >= len(s) || s[j+1] != ']' {
					return Segment{}, 0, fmt.Errorf("expected ']' after quoted key")
				}
				return Segment{Key: b.String()}, j + 2, nil
			}
			b.WriteByte(c)
		}
		return Segment{}, 0, fmt.Errorf("unterminated quoted key")
	}
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return Segment{}, 0, fmt.Errorf("unterminated '['")
	}
	inner := strings.TrimSpace(s[1:end])
	if inner == "" {
		return Segment{}, 0, fmt.Errorf("empty brackets")
	}
	if n, err := strconv.Atoi(inner); err == nil {
		return Segment{Index: n, IsIndex: true}, end + 1, nil
	}
	return Segment{Key: inner}, end + 1, nil
}

// String renders the path in canonical "$.a.b[0]" form.
func (p Path) String() string {
	var b strings.Builder
	b.WriteByte('$')
	for _, s := range p {
		switch {
		case s.IsIndex:
			b.WriteString(s.String())
		case isPlainKey(s.Key):
			b.WriteByte('.')
			b.WriteString(s.Key)
		default:
			b.WriteByte('[')
			b.WriteString(strconv.Quote(s.Key))
			b.WriteByte(']')
		}
	}
	return b.String()
}

func isPlainKey(k string) bool {
	if k == "" {
		return false
	}
	return !strings.ContainsAny(k, ".[]'\" ")
}

// Lookup walks p from root. A nil root is never found, even for the root path.
func (p Path) Lookup(root any) (any, bool) {
	if root == nil {
		return nil, false
	}
	cur := root
	for _, seg := range p {
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func step(cur any, seg Segment) (any, bool) {
	switch c := cur.(type) {
	case map[string]any:
		v, ok := c[seg.keyString()]
		return v, ok
	case map[string]string:
		v, ok := c[seg.keyString()]
		return v, ok
	case []any:
		i, ok := seg.index()
		if !ok || i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	case []map[string]any:
		i, ok := seg.index()
		if !ok || i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	case []string:
		i, ok := seg.index()
		if !ok || i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	}
	return nil, false
}

func (s Segment) keyString() string {
	if s.IsIndex {
		return strconv.Itoa(s.Index)
	}
	return s.Key
}

// index accepts both "[0]" and ".0" forms on arrays.
func (s Segment) index() (int, bool) {
	if s.IsIndex {
		return s.Index, true
	}
	n, err := strconv.Atoi(s.Key)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Lookup resolves path against root. Malformed paths are reported as not found.
func Lookup(root any, path string) (any, bool) {
	p, err := Parse(path)
	if err != nil {
		return nil, false
	}
	return p.Lookup(root)
}

// Get resolves path against root, returning def when any segment is missing.
func Get(root any, path string, def any) any {
	if v, ok := Lookup(root, path); ok {
		return v
	}
	return def
}
