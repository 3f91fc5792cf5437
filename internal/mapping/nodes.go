package mapping

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/gyaneshwarpardhi/actionkit/internal/jsonpath"
)

// node is one compiled template element. eval returns ok=false for undefined.
type node interface {
	eval(s *scope) (any, bool)
}

// scope is the data a path resolves against. Inside @arrayPath the element is
// local and the enclosing scope is the parent.
type scope struct {
	local  any
	parent *scope
}

// reach says which scopes a path may read.
type reach uint8

const (
	reachLocal   reach = iota // "$.x": the current scope only
	reachOuter                // "x": the current scope, then enclosing ones
	reachRoot                 // "$root.x": the top-level input only
)

// rootPrefix addresses the top-level input from inside @arrayPath.
const rootPrefix = "$root"

// scopedPath is a compiled path plus the scopes it may read.
type scopedPath struct {
	path  jsonpath.Path
	reach reach
}

// parseScopedPath classifies src by its prefix and parses the rest.
func parseScopedPath(src string) (scopedPath, error) {
	sp := scopedPath{reach: reachOuter}
	switch {
	case src == rootPrefix || strings.HasPrefix(src, rootPrefix+".") || strings.HasPrefix(src, rootPrefix+"["):
		sp.reach = reachRoot
		src = "$" + src[len(rootPrefix):]
	case strings.HasPrefix(src, "$"):
		sp.reach = reachLocal
	}
	p, err := jsonpath.Parse(src)
	if err != nil {
		return sp, err
	}
	sp.path = p
	return sp, nil
}

func (s *scope) lookup(sp scopedPath) (any, bool) {
	switch sp.reach {
	case reachLocal:
		return sp.path.Lookup(s.local)
	case reachRoot:
		cur := s
		for cur.parent != nil {
			cur = cur.parent
		}
		return sp.path.Lookup(cur.local)
	}
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := sp.path.Lookup(cur.local); ok {
			return v, true
		}
	}
	return nil, false
}

type literalNode struct {
	v    any
	deep bool // @literal values may be containers; copy them out
}

func (n literalNode) eval(*scope) (any, bool) {
	if n.deep {
		return deepCopy(n.v), true
	}
	return n.v, true
}

type objectNode struct {
	keys []string
	vals []node
}

func (n *objectNode) eval(s *scope) (any, bool) {
	out := make(map[string]any, len(n.keys))
	for i, k := range n.keys {
		if v, ok := n.vals[i].eval(s); ok {
			out[k] = v
		}
	}
	return out, true
}

type arrayNode struct {
	elems []node
}

// Undefined elements become null so positions are kept.
func (n *arrayNode) eval(s *scope) (any, bool) {
	out := make([]any, len(n.elems))
	for i, e := range n.elems {
		if v, ok := e.eval(s); ok {
			out[i] = v
		}
	}
	return out, true
}

type pathNode struct {
	path scopedPath
}

func (n pathNode) eval(s *scope) (any, bool) {
	return s.lookup(n.path)
}

type ifNode struct {
	cond  node
	blank bool
	then  node
	els   node
}

func (n *ifNode) eval(s *scope) (any, bool) {
	v, ok := n.cond.eval(s)
	pass := ok && v != nil
	if pass && n.blank {
		if str, isStr := v.(string); isStr && str == "" {
			pass = false
		}
	}
	branch := n.els
	if pass {
		branch = n.then
	}
	if branch == nil {
		return nil, false
	}
	return branch.eval(s)
}

type arrayPathNode struct {
	source node
	item   node
}

func (n *arrayPathNode) eval(s *scope) (any, bool) {
	v, ok := n.source.eval(s)
	if !ok {
		return nil, false
	}
	list, isList := v.([]any)
	if !isList {
		return nil, false
	}
	out := make([]any, len(list))
	for i, elem := range list {
		if n.item == nil {
			out[i] = elem
			continue
		}
		if r, ok := n.item.eval(&scope{local: elem, parent: s}); ok {
			out[i] = r
		}
	}
	return out, true
}

type jsonNode struct {
	decode bool
	value  node
}

func (n *jsonNode) eval(s *scope) (any, bool) {
	v, ok := n.value.eval(s)
	if !ok {
		return nil, false
	}
	if n.decode {
		str, isStr := v.(string)
		if !isStr {
			return nil, false
		}
		var out any
		if err := json.Unmarshal([]byte(str), &out); err != nil {
			return nil, false
		}
		return out, true
	}
	b, err := marshal(v)
	if err != nil {
		return nil, false
	}
	return string(b), true
}

type caseNode struct {
	upper bool
	value node
}

func (n *caseNode) eval(s *scope) (any, bool) {
	v, ok := n.value.eval(s)
	if !ok {
		return nil, false
	}
	str, isStr := v.(string)
	if !isStr {
		return v, true
	}
	if n.upper {
		return strings.ToUpper(str), true
	}
	return strings.ToLower(str), true
}

type replaceNode struct {
	re          *regexp.Regexp
	replacement string
	global      bool
	value       node
}

func (n *replaceNode) eval(s *scope) (any, bool) {
	v, ok := n.value.eval(s)
	if !ok {
		return nil, false
	}
	var str string
	switch t := v.(type) {
	case string:
		str = t
	case bool, float64, int, int64:
		str = stringify(t)
	default:
		return v, true
	}
	if n.global {
		return n.re.ReplaceAllLiteralString(str, n.replacement), true
	}
	loc := n.re.FindStringIndex(str)
	if loc == nil {
		return str, true
	}
	return str[:loc[0]] + n.replacement + str[loc[1]:], true
}

type mergeNode struct {
	objects []node
	left    bool // earlier objects win
}

func (n *mergeNode) eval(s *scope) (any, bool) {
	out := make(map[string]any)
	for _, o := range n.objects {
		v, ok := o.eval(s)
		if !ok {
			continue
		}
		obj, isObj := v.(map[string]any)
		if !isObj {
			continue
		}
		for k, val := range obj {
			if _, exists := out[k]; exists && n.left {
				continue
			}
			out[k] = val
		}
	}
	return out, true
}

type flattenNode struct {
	sep   string
	value node
}

func (n *flattenNode) eval(s *scope) (any, bool) {
	v, ok := n.value.eval(s)
	if !ok {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
	default:
		return v, true
	}
	out := make(map[string]any)
	flattenInto(out, "", v, n.sep)
	return out, true
}

func flattenInto(out map[string]any, prefix string, v any, sep string) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + sep + k
	}
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			flattenInto(out, join(k), child, sep)
		}
	case []any:
		for i, child := range t {
			flattenInto(out, join(strconv.Itoa(i)), child, sep)
		}
	default:
		out[prefix] = v
	}
}

// marshal encodes v as compact JSON without HTML escaping.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	}
	return v
}
