package jsonpath

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Lookup never panics and a found value is reachable by walking the same path.
func TestLookupTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	alphabet := gen.OneConstOf("a", "b", "items", "0", "1", "[0]", "[1]", "['a']", ".", "[", "]", "$", "x y")

	properties.Property("Get returns a reachable value or the default", prop.ForAll(
		func(parts []string) bool {
			path := strings.Join(parts, "")
			root := map[string]any{
				"a":     map[string]any{"b": "leaf"},
				"items": []any{"first", map[string]any{"a": 1.0}},
				"0":     "zero",
			}
			def := struct{}{}
			got := Get(root, path, def)
			if got == def {
				return true
			}
			p, err := Parse(path)
			if err != nil {
				return false
			}
			v, ok := p.Lookup(root)
			return ok && equalJSON(v, got)
		},
		gen.SliceOf(alphabet),
	))

	properties.Property("nil root always yields the default", prop.ForAll(
		func(path string) bool {
			return Get(nil, path, "d") == "d"
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func equalJSON(a, b any) bool {
	switch av := a.(type) {
	case map[string]any, []any:
		// containers come back as the same reference
		return sameRef(av, b)
	}
	return a == b
}

func sameRef(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		return ok && len(av) == len(bv)
	case []any:
		bv, ok := b.([]any)
		return ok && len(av) == len(bv) && (len(av) == 0 || &av[0] == &bv[0])
	}
	return false
}
