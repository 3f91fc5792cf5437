package mapping

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/actionkit/internal/errkind"
)

// obj decodes a JSON literal so templates in tests read like the config they mirror.
func obj(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

// transformObject runs Transform and requires an object result.
func transformObject(t *testing.T, tpl, data map[string]any) map[string]any {
	t.Helper()
	got, err := Transform(tpl, data)
	require.NoError(t, err)
	m, ok := got.(map[string]any)
	require.True(t, ok, "got %T %v", got, got)
	return m
}

func TestTransform_EndToEnd(t *testing.T) {
	tpl := obj(t, `{"event_name": {"@path": "$.event"}, "amount": {"@path": "$.properties.revenue"}}`)
	data := obj(t, `{"event": "Order Completed", "properties": {"revenue": 99.99}}`)

	got, err := Transform(tpl, data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"event_name": "Order Completed", "amount": 99.99}, got)
}

func TestTransform_MissingPathIsOmitted(t *testing.T) {
	got, err := Transform(obj(t, `{"a": {"@path": "$.missing"}}`), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, got)

	b, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(b))
}

func TestTransform_NullIsKept(t *testing.T) {
	got := transformObject(t, obj(t, `{"a": {"@path": "$.x"}}`), obj(t, `{"x": null}`))
	v, ok := got["a"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestTransform_Directives(t *testing.T) {
	data := obj(t, `{
		"type": "track",
		"event": "Order Completed",
		"userId": "u-1",
		"traits": {"first_name": "Ada", "plan": "free", "email": "Ada@Example.COM"},
		"properties": {
			"revenue": 99.99,
			"count": 3,
			"flag": true,
			"phone": "555-123-4567",
			"blob": "{\"k\":[1,2]}",
			"bad": "{not json",
			"empty": "",
			"products": [{"sku": "a", "price": 1}, {"sku": "b"}]
		},
		"context": {"page": {"url": "https://x.test"}, "ip": "1.2.3.4"}
	}`)

	cases := []struct {
		name string
		tpl  string
		want any
	}{
		{"literal passthrough", `{"v": {"nested": [1, "two", true, null]}}`, map[string]any{"nested": []any{1.0, "two", true, nil}}},
		{"template", `{"v": {"@template": "Hi {{traits.first_name}}, {{ properties.count }} items"}}`, "Hi Ada, 3 items"},
		{"template unresolved", `{"v": {"@template": "[{{traits.nope}}]"}}`, "[]"},
		{"template triple braces", `{"v": {"@template": "{{{event}}}"}}`, "Order Completed"},
		{"template container", `{"v": {"@template": "{{context.page}}"}}`, `{"url":"https://x.test"}`},
		{"if exists then", `{"v": {"@if": {"exists": {"@path": "$.userId"}, "then": "Y", "else": "N"}}}`, "Y"},
		{"if exists else", `{"v": {"@if": {"exists": {"@path": "$.groupId"}, "then": "Y", "else": "N"}}}`, "N"},
		{"if blank on empty", `{"v": {"@if": {"blank": {"@path": "$.properties.empty"}, "then": "Y", "else": "N"}}}`, "N"},
		{"if blank on value", `{"v": {"@if": {"blank": {"@path": "$.event"}, "then": "Y", "else": "N"}}}`, "Y"},
		{"arrayPath", `{"v": {"@arrayPath": ["$.properties.products", {"id": {"@path": "$.sku"}, "user": {"@path": "$root.userId"}}]}}`,
			[]any{map[string]any{"id": "a", "user": "u-1"}, map[string]any{"id": "b", "user": "u-1"}}},
		{"arrayPath without item", `{"v": {"@arrayPath": ["$.properties.products"]}}`,
			[]any{map[string]any{"sku": "a", "price": 1.0}, map[string]any{"sku": "b"}}},
		{"json encode", `{"v": {"@json": {"mode": "encode", "value": {"@path": "$.context.page"}}}}`, `{"url":"https://x.test"}`},
		{"json decode", `{"v": {"@json": {"mode": "decode", "value": {"@path": "$.properties.blob"}}}}`, map[string]any{"k": []any{1.0, 2.0}}},
		{"literal directive", `{"v": {"@literal": {"@path": "$.event"}}}`, map[string]any{"@path": "$.event"}},
		{"case lower", `{"v": {"@case": {"operator": "lower", "value": {"@path": "$.traits.email"}}}}`, "ada@example.com"},
		{"case upper non-string", `{"v": {"@case": {"operator": "upper", "value": {"@path": "$.properties.count"}}}}`, 3.0},
		{"replace global", `{"v": {"@replace": {"pattern": "-", "replacement": "", "value": {"@path": "$.properties.phone"}}}}`, "5551234567"},
		{"replace first", `{"v": {"@replace": {"pattern": "-", "replacement": ".", "global": false, "value": {"@path": "$.properties.phone"}}}}`, "555.123-4567"},
		{"replace ignorecase", `{"v": {"@replace": {"pattern": "EXAMPLE", "replacement": "ex", "ignorecase": true, "value": {"@path": "$.traits.email"}}}}`, "Ada@ex.COM"},
		{"replace number", `{"v": {"@replace": {"pattern": ".", "replacement": ",", "value": {"@path": "$.properties.revenue"}}}}`, "99,99"},
		{"merge right", `{"v": {"@merge": {"objects": [{"plan": "x", "a": 1}, {"@path": "$.traits"}]}}}`,
			map[string]any{"plan": "free", "a": 1.0, "first_name": "Ada", "email": "Ada@Example.COM"}},
		{"merge left", `{"v": {"@merge": {"direction": "left", "objects": [{"plan": "x"}, {"@path": "$.traits"}]}}}`,
			map[string]any{"plan": "x", "first_name": "Ada", "email": "Ada@Example.COM"}},
		{"flatten", `{"v": {"@flatten": {"separator": "_", "value": {"@path": "$.context"}}}}`,
			map[string]any{"page_url": "https://x.test", "ip": "1.2.3.4"}},
		{"flatten arrays", `{"v": {"@flatten": {"value": {"@path": "$.properties.products"}}}}`,
			map[string]any{"0.sku": "a", "0.price": 1.0, "1.sku": "b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := transformObject(t, obj(t, tc.tpl), data)
			assert.Equal(t, tc.want, got["v"])
		})
	}
}

func TestTransform_UndefinedResults(t *testing.T) {
	data := obj(t, `{"s": "text", "bad": "{nope", "n": 1}`)
	cases := map[string]string{
		"if without else":     `{"v": {"@if": {"exists": {"@path": "$.missing"}, "then": 1}}}`,
		"arrayPath non-array": `{"v": {"@arrayPath": ["$.s", {"x": 1}]}}`,
		"arrayPath missing":   `{"v": {"@arrayPath": ["$.missing", {"x": 1}]}}`,
		"json decode invalid": `{"v": {"@json": {"mode": "decode", "value": {"@path": "$.bad"}}}}`,
		"json decode number":  `{"v": {"@json": {"mode": "decode", "value": {"@path": "$.n"}}}}`,
		"json encode missing": `{"v": {"@json": {"mode": "encode", "value": {"@path": "$.missing"}}}}`,
		"case missing":        `{"v": {"@case": {"operator": "lower", "value": {"@path": "$.missing"}}}}`,
		"flatten missing":     `{"v": {"@flatten": {"value": {"@path": "$.missing"}}}}`,
	}
	for name, tpl := range cases {
		t.Run(name, func(t *testing.T) {
			got := transformObject(t, obj(t, tpl), data)
			_, present := got["v"]
			assert.False(t, present, "got %v", got)
		})
	}
}

func TestTransform_RootDirective(t *testing.T) {
	data := obj(t, `{"traits": {"a": 1}}`)

	got, err := Transform(obj(t, `{"@path": "$.traits"}`), data)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, got)

	got, err = Transform(obj(t, `{"@path": "$.missing"}`), data)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTransform_RootIf(t *testing.T) {
	tpl := obj(t, `{"@if": {"exists": {"@path": "$.x"}, "then": "Y", "else": "N"}}`)

	got, err := Transform(tpl, obj(t, `{"x": 1}`))
	require.NoError(t, err)
	assert.Equal(t, "Y", got)

	got, err = Transform(tpl, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "N", got)
}

func TestTransform_RootArrayPath(t *testing.T) {
	tpl := obj(t, `{"@arrayPath": ["$.items", {"id": {"@path": "$.sku"}}]}`)
	data := obj(t, `{"items": [{"sku": "a"}, {"sku": "b"}]}`)

	got, err := Transform(tpl, data)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"id": "a"}, map[string]any{"id": "b"}}, got)
}

func TestTransform_ArrayPathScope(t *testing.T) {
	data := obj(t, `{
		"name": "Pricing",
		"userId": "u-1",
		"properties": {"products": [{"sku": "a"}, {"sku": "b", "name": "Boots"}]}
	}`)

	cases := []struct {
		name string
		item string
		want []any
	}{
		{
			name: "rooted path reads the element only",
			item: `{"name": {"@path": "$.name"}}`,
			want: []any{map[string]any{}, map[string]any{"name": "Boots"}},
		},
		{
			name: "relative path falls back to the event",
			item: `{"name": {"@path": "name"}}`,
			want: []any{map[string]any{"name": "Pricing"}, map[string]any{"name": "Boots"}},
		},
		{
			name: "root prefix reads the event only",
			item: `{"name": {"@path": "$root.name"}, "user": {"@path": "$root.userId"}}`,
			want: []any{
				map[string]any{"name": "Pricing", "user": "u-1"},
				map[string]any{"name": "Pricing", "user": "u-1"},
			},
		},
		{
			name: "template tags follow the same rules",
			item: `{"label": {"@template": "{{$.name}}|{{name}}|{{$root.userId}}"}}`,
			want: []any{map[string]any{"label": "|Pricing|u-1"}, map[string]any{"label": "Boots|Boots|u-1"}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tpl := map[string]any{"p": map[string]any{"@arrayPath": []any{"$.properties.products", obj(t, tc.item)}}}
			got := transformObject(t, tpl, data)
			assert.Equal(t, tc.want, got["p"])
		})
	}
}

func TestTransform_ArrayKeepsPositions(t *testing.T) {
	got := transformObject(t, obj(t, `{"v": [{"@path": "$.a"}, {"@path": "$.missing"}, "lit"]}`), obj(t, `{"a": 1}`))
	assert.Equal(t, []any{1.0, nil, "lit"}, got["v"])
}

func TestTransformBatch(t *testing.T) {
	tpl := obj(t, `{"id": {"@path": "$.userId"}}`)
	data := []map[string]any{{"userId": "1"}, {}, {"userId": "3"}}

	got, err := TransformBatch(tpl, data)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"id": "1"}, map[string]any{}, map[string]any{"id": "3"}}, got)
}

func TestCompile_ConfigurationErrors(t *testing.T) {
	cases := map[string]string{
		"sibling keys":         `{"a": {"@path": "$.x", "other": 1}}`,
		"two directives":       `{"a": {"@path": "$.x", "@template": "y"}}`,
		"unknown directive":    `{"a": {"@nope": 1}}`,
		"path not string":      `{"a": {"@path": 5}}`,
		"bad path":             `{"a": {"@path": "$..x"}}`,
		"template not string":  `{"a": {"@template": {}}}`,
		"template unclosed":    `{"a": {"@template": "hi {{name"}}`,
		"if without condition": `{"a": {"@if": {"then": 1}}}`,
		"if both conditions":   `{"a": {"@if": {"exists": 1, "blank": 2}}}`,
		"if unknown option":    `{"a": {"@if": {"exists": 1, "when": 2}}}`,
		"arrayPath shape":      `{"a": {"@arrayPath": "$.x"}}`,
		"arrayPath too long":   `{"a": {"@arrayPath": ["$.x", {}, {}]}}`,
		"json bad mode":        `{"a": {"@json": {"mode": "zip", "value": 1}}}`,
		"json no value":        `{"a": {"@json": {"mode": "encode"}}}`,
		"case bad operator":    `{"a": {"@case": {"operator": "title", "value": "x"}}}`,
		"replace no pattern":   `{"a": {"@replace": {"value": "x"}}}`,
		"replace bad global":   `{"a": {"@replace": {"pattern": "x", "global": "yes", "value": "x"}}}`,
		"merge no objects":     `{"a": {"@merge": {"direction": "right"}}}`,
		"merge bad direction":  `{"a": {"@merge": {"objects": [], "direction": "up"}}}`,
		"flatten bad sep":      `{"a": {"@flatten": {"value": 1, "separator": 2}}}`,
		"nested in array":      `{"a": [1, {"@nope": true}]}`,
	}
	for name, tpl := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(obj(t, tpl))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errkind.ErrConfiguration), "err = %v", err)

			_, err = Transform(obj(t, tpl), nil)
			assert.True(t, errors.Is(err, errkind.ErrConfiguration))
		})
	}
}

func TestCompile_ErrorLocation(t *testing.T) {
	err := Validate(obj(t, `{"user": {"ids": [0, {"@path": 1}]}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "$.user.ids[1].@path")
}

func TestApply_DoesNotAliasLiterals(t *testing.T) {
	m, err := Compile(obj(t, `{"fixed": {"@literal": {"k": "v"}}, "obj": {"k": "v"}}`))
	require.NoError(t, err)

	first := m.ApplyObject(nil)
	first["fixed"].(map[string]any)["k"] = "mutated"
	first["obj"].(map[string]any)["k"] = "mutated"

	second := m.ApplyObject(nil)
	assert.Equal(t, "v", second["fixed"].(map[string]any)["k"])
	assert.Equal(t, "v", second["obj"].(map[string]any)["k"])
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	data := obj(t, `{"traits": {"a": 1}}`)
	m, err := Compile(obj(t, `{"merged": {"@merge": {"objects": [{"@path": "$.traits"}, {"b": 2}]}}}`))
	require.NoError(t, err)
	_ = m.ApplyObject(data)
	assert.Equal(t, map[string]any{"a": 1.0}, data["traits"])
}
