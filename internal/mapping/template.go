package mapping

import (
	"strconv"
	"strings"

	"github.com/gyaneshwarpardhi/actionkit/internal/errkind"
)

// templatePart is either literal text or a {{path}} reference.
type templatePart struct {
	text string
	path scopedPath
	ref  bool
}

type templateNode struct {
	parts []templatePart
}

// compileTemplate splits s on {{ }} tags. Triple braces are accepted and
// treated like double ones since output is never HTML-escaped.
func compileTemplate(s, where string) (node, error) {
	n := &templateNode{}
	rest := s
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			if rest != "" {
				n.parts = append(n.parts, templatePart{text: rest})
			}
			return n, nil
		}
		if open > 0 {
			n.parts = append(n.parts, templatePart{text: rest[:open]})
		}
		rest = rest[open+2:]
		triple := strings.HasPrefix(rest, "{")
		if triple {
			rest = rest[1:]
		}
		end := strings.Index(rest, "}}")
		if end < 0 {
			return nil, errkind.Configf(where, "unclosed tag in template %q", s)
		}
		ref := strings.TrimSpace(rest[:end])
		rest = rest[end+2:]
		if triple {
			if !strings.HasPrefix(rest, "}") {
				return nil, errkind.Configf(where, "unclosed triple tag in template %q", s)
			}
			rest = rest[1:]
		}
		p, err := parseScopedPath(ref)
		if err != nil {
			return nil, errkind.Configf(where, "template tag {{%s}}: %v", ref, err)
		}
		n.parts = append(n.parts, templatePart{path: p, ref: true})
	}
}

func (n *templateNode) eval(s *scope) (any, bool) {
	var b strings.Builder
	for _, p := range n.parts {
		if !p.ref {
			b.WriteString(p.text)
			continue
		}
		if v, ok := s.lookup(p.path); ok {
			b.WriteString(stringify(v))
		}
	}
	return b.String(), true
}

// stringify renders a resolved value for string interpolation. null renders
// empty; containers render as JSON.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	b, err := marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
