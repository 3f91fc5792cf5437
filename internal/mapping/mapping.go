package mapping

import (
	"fmt"
)

// Mapping is a compiled template. It is immutable and safe for concurrent use.
type Mapping struct {
	root node
}

// Compile validates template and builds its evaluation tree.
func Compile(template any) (*Mapping, error) {
	n, err := compile(template, "$")
	if err != nil {
		return nil, err
	}
	return &Mapping{root: n}, nil
}

// Validate reports whether template compiles.
func Validate(template any) error {
	_, err := Compile(template)
	return err
}

// Apply evaluates the mapping against data. ok is false when the whole
// template resolved to undefined.
func (m *Mapping) Apply(data any) (any, bool) {
	return m.root.eval(&scope{local: data})
}

// ApplyObject evaluates the mapping and returns the result as an object.
// Undefined and non-object results become an empty object.
func (m *Mapping) ApplyObject(data any) map[string]any {
	v, ok := m.Apply(data)
	if !ok {
		return map[string]any{}
	}
	if obj, isObj := v.(map[string]any); isObj {
		return obj
	}
	return map[string]any{}
}

// ApplyBatch evaluates the mapping against each element of data, in order.
func (m *Mapping) ApplyBatch(data []map[string]any) []map[string]any {
	out := make([]map[string]any, len(data))
	for i, d := range data {
		out[i] = m.ApplyObject(d)
	}
	return out
}

// Transform compiles template and applies it to data. The result is any
// JSON value: a root directive yields its own value, and a template that
// resolves to undefined yields nil.
func Transform(template any, data map[string]any) (any, error) {
	m, err := Compile(template)
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	v, _ := m.Apply(data)
	return v, nil
}

// TransformBatch applies the same template to every input, preserving order.
// No state is carried between inputs.
func TransformBatch(template any, data []map[string]any) ([]any, error) {
	m, err := Compile(template)
	if err != nil {
		return nil, fmt.Errorf("transform batch: %w", err)
	}
	out := make([]any, len(data))
	for i, d := range data {
		out[i], _ = m.Apply(d)
	}
	return out, nil
}
