package mapping

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/gyaneshwarpardhi/actionkit/internal/errkind"
)

const (
	dirPath      = "@path"
	dirTemplate  = "@template"
	dirIf        = "@if"
	dirArrayPath = "@arrayPath"
	dirJSON      = "@json"
	dirLiteral   = "@literal"
	dirCase      = "@case"
	dirReplace   = "@replace"
	dirMerge     = "@merge"
	dirFlatten   = "@flatten"
)

// compile walks the template and builds the node tree. where is the template
// location used in error messages.
func compile(v any, where string) (node, error) {
	switch t := v.(type) {
	case map[string]any:
		if key, ok := directiveKey(t); ok {
			if len(t) != 1 {
				return nil, errkind.Configf(where, "directive %s must be the only key in its object, found %s", key, keyList(t))
			}
			return compileDirective(key, t[key], where+"."+key)
		}
		n := &objectNode{keys: make([]string, 0, len(t)), vals: make([]node, 0, len(t))}
		for _, k := range sortedKeys(t) {
			child, err := compile(t[k], where+"."+k)
			if err != nil {
				return nil, err
			}
			n.keys = append(n.keys, k)
			n.vals = append(n.vals, child)
		}
		return n, nil
	case []any:
		n := &arrayNode{elems: make([]node, len(t))}
		for i, e := range t {
			child, err := compile(e, fmt.Sprintf("%s[%d]", where, i))
			if err != nil {
				return nil, err
			}
			n.elems[i] = child
		}
		return n, nil
	default:
		return literalNode{v: v}, nil
	}
}

// directiveKey returns the first "@"-prefixed key, if any.
func directiveKey(m map[string]any) (string, bool) {
	for k := range m {
		if strings.HasPrefix(k, "@") {
			return k, true
		}
	}
	return "", false
}

func compileDirective(key string, arg any, where string) (node, error) {
	switch key {
	case dirPath:
		return compilePath(arg, where)
	case dirTemplate:
		s, ok := arg.(string)
		if !ok {
			return nil, errkind.Configf(where, "expected a string, got %T", arg)
		}
		return compileTemplate(s, where)
	case dirLiteral:
		return literalNode{v: arg, deep: true}, nil
	case dirIf:
		return compileIf(arg, where)
	case dirArrayPath:
		return compileArrayPath(arg, where)
	case dirJSON:
		return compileJSON(arg, where)
	case dirCase:
		return compileCase(arg, where)
	case dirReplace:
		return compileReplace(arg, where)
	case dirMerge:
		return compileMerge(arg, where)
	case dirFlatten:
		return compileFlatten(arg, where)
	}
	return nil, errkind.Configf(where, "unknown directive %s", key)
}

func compilePath(arg any, where string) (node, error) {
	s, ok := arg.(string)
	if !ok {
		return nil, errkind.Configf(where, "expected a path string, got %T", arg)
	}
	p, err := parseScopedPath(s)
	if err != nil {
		return nil, errkind.Configf(where, "%v", err)
	}
	return pathNode{path: p}, nil
}

// options checks a directive's object argument against the allowed keys.
func options(arg any, where string, allowed ...string) (map[string]any, error) {
	m, ok := arg.(map[string]any)
	if !ok {
		return nil, errkind.Configf(where, "expected an object, got %T", arg)
	}
	for k := range m {
		if !slices.Contains(allowed, k) {
			return nil, errkind.Configf(where, "unexpected option %q (allowed: %s)", k, strings.Join(allowed, ", "))
		}
	}
	return m, nil
}

func compileIf(arg any, where string) (node, error) {
	m, err := options(arg, where, "exists", "blank", "then", "else")
	if err != nil {
		return nil, err
	}
	n := &ifNode{}
	condArg, hasExists := m["exists"]
	blankArg, hasBlank := m["blank"]
	switch {
	case hasExists && hasBlank:
		return nil, errkind.Configf(where, "only one of exists or blank may be set")
	case hasExists:
		n.cond, err = compile(condArg, where+".exists")
	case hasBlank:
		n.blank = true
		n.cond, err = compile(blankArg, where+".blank")
	default:
		return nil, errkind.Configf(where, "one of exists or blank is required")
	}
	if err != nil {
		return nil, err
	}
	if v, ok := m["then"]; ok {
		if n.then, err = compile(v, where+".then"); err != nil {
			return nil, err
		}
	}
	if v, ok := m["else"]; ok {
		if n.els, err = compile(v, where+".else"); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func compileArrayPath(arg any, where string) (node, error) {
	list, ok := arg.([]any)
	if !ok || len(list) == 0 || len(list) > 2 {
		return nil, errkind.Configf(where, "expected [path] or [path, itemTemplate]")
	}
	n := &arrayPathNode{}
	var err error
	switch src := list[0].(type) {
	case string:
		n.source, err = compilePath(src, where+"[0]")
	case map[string]any:
		n.source, err = compile(src, where+"[0]")
	default:
		return nil, errkind.Configf(where+"[0]", "expected a path string or directive, got %T", src)
	}
	if err != nil {
		return nil, err
	}
	if len(list) == 2 {
		if n.item, err = compile(list[1], where+"[1]"); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func compileJSON(arg any, where string) (node, error) {
	m, err := options(arg, where, "mode", "value")
	if err != nil {
		return nil, err
	}
	mode, _ := m["mode"].(string)
	if mode != "encode" && mode != "decode" {
		return nil, errkind.Configf(where, "mode must be encode or decode, got %v", m["mode"])
	}
	raw, ok := m["value"]
	if !ok {
		return nil, errkind.Configf(where, "value is required")
	}
	val, err := compile(raw, where+".value")
	if err != nil {
		return nil, err
	}
	return &jsonNode{decode: mode == "decode", value: val}, nil
}

func compileCase(arg any, where string) (node, error) {
	m, err := options(arg, where, "operator", "value")
	if err != nil {
		return nil, err
	}
	op, _ := m["operator"].(string)
	if op != "lower" && op != "upper" {
		return nil, errkind.Configf(where, "operator must be lower or upper, got %v", m["operator"])
	}
	raw, ok := m["value"]
	if !ok {
		return nil, errkind.Configf(where, "value is required")
	}
	val, err := compile(raw, where+".value")
	if err != nil {
		return nil, err
	}
	return &caseNode{upper: op == "upper", value: val}, nil
}

func compileReplace(arg any, where string) (node, error) {
	m, err := options(arg, where, "pattern", "replacement", "value", "global", "ignorecase")
	if err != nil {
		return nil, err
	}
	pattern, ok := m["pattern"].(string)
	if !ok || pattern == "" {
		return nil, errkind.Configf(where, "pattern must be a non-empty string")
	}
	replacement := ""
	if r, present := m["replacement"]; present {
		if replacement, ok = r.(string); !ok {
			return nil, errkind.Configf(where, "replacement must be a string, got %T", r)
		}
	}
	global, err := boolOption(m, "global", true, where)
	if err != nil {
		return nil, err
	}
	ignoreCase, err := boolOption(m, "ignorecase", false, where)
	if err != nil {
		return nil, err
	}
	expr := regexp.QuoteMeta(pattern)
	if ignoreCase {
		expr = "(?i)" + expr
	}
	raw, ok := m["value"]
	if !ok {
		return nil, errkind.Configf(where, "value is required")
	}
	val, err := compile(raw, where+".value")
	if err != nil {
		return nil, err
	}
	return &replaceNode{
		re:          regexp.MustCompile(expr),
		replacement: replacement,
		global:      global,
		value:       val,
	}, nil
}

func boolOption(m map[string]any, key string, def bool, where string) (bool, error) {
	v, ok := m[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, errkind.Configf(where, "%s must be a boolean, got %T", key, v)
	}
	return b, nil
}

func compileMerge(arg any, where string) (node, error) {
	m, err := options(arg, where, "objects", "direction")
	if err != nil {
		return nil, err
	}
	list, ok := m["objects"].([]any)
	if !ok {
		return nil, errkind.Configf(where, "objects must be an array")
	}
	n := &mergeNode{objects: make([]node, len(list))}
	switch d := m["direction"]; d {
	case nil, "right":
	case "left":
		n.left = true
	default:
		return nil, errkind.Configf(where, "direction must be left or right, got %v", d)
	}
	for i, o := range list {
		if n.objects[i], err = compile(o, fmt.Sprintf("%s.objects[%d]", where, i)); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func compileFlatten(arg any, where string) (node, error) {
	m, err := options(arg, where, "value", "separator")
	if err != nil {
		return nil, err
	}
	sep := "."
	if s, present := m["separator"]; present {
		str, ok := s.(string)
		if !ok {
			return nil, errkind.Configf(where, "separator must be a string, got %T", s)
		}
		sep = str
	}
	raw, ok := m["value"]
	if !ok {
		return nil, errkind.Configf(where, "value is required")
	}
	val, err := compile(raw, where+".value")
	if err != nil {
		return nil, err
	}
	return &flattenNode{sep: sep, value: val}, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func keyList(m map[string]any) string {
	return strings.Join(sortedKeys(m), ", ")
}
