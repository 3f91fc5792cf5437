package jsonpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() map[string]any {
	return map[string]any{
		"type": "track",
		"properties": map[string]any{
			"items": []any{
				map[string]any{"id": "a", "price": 10.5},
				map[string]any{"id": "b"},
			},
			"key.with.dots": "dotted",
			"user agent":    "curl",
			"0":             "zero-key",
			"nothing":       nil,
		},
		"context": map[string]string{"ip": "10.0.0.1"},
	}
}

func TestLookup(t *testing.T) {
	cases := []struct {
		path   string
		want   any
		wantOK bool
	}{
		{"$.type", "track", true},
		{"type", "track", true},
		{"$.properties.items[0].id", "a", true},
		{"properties.items[1].id", "b", true},
		{"properties.items.1.id", "b", true},
		{"$['properties']['key.with.dots']", "dotted", true},
		{`properties["user agent"]`, "curl", true},
		{"properties[0]", "zero-key", true},
		{"context.ip", "10.0.0.1", true},
		{"properties.nothing", nil, true},
		{"$.properties.items[5].id", nil, false},
		{"$.properties.items[-1]", nil, false},
		{"$.properties.missing.deeper", nil, false},
		{"$.type.length", nil, false},
		{"properties.nothing.x", nil, false},
		{"properties.items.x", nil, false},
		{"", nil, false},
		{"a..b", nil, false},
		{"a[0", nil, false},
		{"a['x", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			got, ok := Lookup(sample(), tc.path)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLookupRoot(t *testing.T) {
	root := sample()
	got, ok := Lookup(root, "$")
	require.True(t, ok)
	assert.Equal(t, root, got)

	_, ok = Lookup(nil, "$")
	assert.False(t, ok, "nil root is never found")
}

func TestGetDefault(t *testing.T) {
	assert.Equal(t, "fallback", Get(nil, "$.a", "fallback"))
	assert.Equal(t, "fallback", Get(sample(), "", "fallback"))
	assert.Equal(t, "fallback", Get(sample(), "$.properties.items[9]", "fallback"))
	assert.Equal(t, 10.5, Get(sample(), "$.properties.items[0].price", 0.0))
	assert.Nil(t, Get(sample(), "$.properties.nothing", "fallback"), "present null is not missing")
}

func TestParse(t *testing.T) {
	p, err := Parse(`$.a["b c"][2].d`)
	require.NoError(t, err)
	assert.Equal(t, Path{
		{Key: "a"},
		{Key: "b c"},
		{Index: 2, IsIndex: true},
		{Key: "d"},
	}, p)
	assert.Equal(t, `$.a["b c"][2].d`, p.String())

	for _, bad := range []string{"", "$.", "$x", ".a", "a.", "a[]", "a[0]b", `a["x"`} {
		_, err := Parse(bad)
		assert.Error(t, err, "path %q", bad)
	}
}
