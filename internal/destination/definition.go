// Package destination runs partner integrations: a Definition describes a
// partner API and its actions, an Instance binds a Definition to one
// customer's settings and executes actions for matching subscriptions.
package destination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/gyaneshwarpardhi/actionkit/internal/mapping"
	"github.com/gyaneshwarpardhi/actionkit/internal/request"
)

// FieldType is the JSON type of an action or settings field.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldInteger  FieldType = "integer"
	FieldBoolean  FieldType = "boolean"
	FieldDatetime FieldType = "datetime"
	FieldObject   FieldType = "object"
	FieldPassword FieldType = "password"
	FieldAny      FieldType = "any"
)

// Field describes one input of an action payload or of destination settings.
type Field struct {
	Label       string
	Description string
	Type        FieldType
	Required    bool
	Multiple    bool
	// Default is a mapping template used when the subscription's mapping
	// does not provide the field.
	Default any
	// Properties describes the keys of an object field. Empty means any keys.
	Properties map[string]Field
}

// AuthScheme selects how settings turn into request credentials.
type AuthScheme string

const (
	AuthNone   AuthScheme = "none"
	AuthBasic  AuthScheme = "basic"
	AuthCustom AuthScheme = "custom"
)

// Authentication declares the settings a destination needs and how to
// verify them.
type Authentication struct {
	Scheme AuthScheme
	Fields map[string]Field
	// TestAuthentication, when set, checks the settings against the partner.
	TestAuthentication func(ctx context.Context, client *request.Client, settings map[string]any) error
}

// PerformInput is passed to an action's Perform.
type PerformInput struct {
	Settings map[string]any
	Payload  map[string]any
	Event    map[string]any
}

// BatchInput is passed to an action's PerformBatch. Payloads and Events
// are index-aligned.
type BatchInput struct {
	Settings map[string]any
	Payloads []map[string]any
	Events   []map[string]any
}

// ActionDefinition is one operation a destination can perform.
type ActionDefinition struct {
	Title       string
	Description string
	// DefaultSubscription is the FQL query suggested for new subscriptions.
	DefaultSubscription string
	Fields              map[string]Field

	Perform      func(ctx context.Context, client *request.Client, in PerformInput) (any, error)
	PerformBatch func(ctx context.Context, client *request.Client, in BatchInput) (any, error)

	schema   *jsonschema.Schema
	defaults map[string]*mapping.Mapping
}

// Definition is a partner integration.
type Definition struct {
	Slug           string
	Name           string
	Authentication Authentication
	// ExtendRequest derives per-instance request defaults, such as the
	// partner's base URL and auth headers, from settings.
	ExtendRequest func(settings map[string]any) request.Options
	Actions       map[string]*ActionDefinition

	once           sync.Once
	prepareErr     error
	settingsSchema *jsonschema.Schema
}

// Action returns the named action.
func (d *Definition) Action(name string) (*ActionDefinition, bool) {
	a, ok := d.Actions[name]
	return a, ok
}

// ActionNames returns the action keys in sorted order.
func (d *Definition) ActionNames() []string {
	out := make([]string, 0, len(d.Actions))
	for k := range d.Actions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// prepare compiles the settings and action schemas once.
func (d *Definition) prepare() error {
	d.once.Do(func() {
		d.prepareErr = d.compileSchemas()
	})
	return d.prepareErr
}

func (d *Definition) compileSchemas() error {
	if d.Slug == "" {
		return fmt.Errorf("destination definition: slug is required")
	}
	s, err := compileSchema(d.Slug, "settings", d.Authentication.Fields)
	if err != nil {
		return err
	}
	d.settingsSchema = s
	for _, name := range d.ActionNames() {
		a := d.Actions[name]
		if a.Perform == nil && a.PerformBatch == nil {
			return fmt.Errorf("destination %s: action %s: one of Perform or PerformBatch is required", d.Slug, name)
		}
		s, err := compileSchema(d.Slug, name, a.Fields)
		if err != nil {
			return err
		}
		a.schema = s
		for _, field := range sortedFieldNames(a.Fields) {
			def := a.Fields[field].Default
			if def == nil {
				continue
			}
			m, err := mapping.Compile(def)
			if err != nil {
				return fmt.Errorf("destination %s: action %s: field %s default: %w", d.Slug, name, field, err)
			}
			if a.defaults == nil {
				a.defaults = make(map[string]*mapping.Mapping)
			}
			a.defaults[field] = m
		}
	}
	return nil
}

// withDefaults fills fields the payload lacks from their default templates.
func (a *ActionDefinition) withDefaults(payload, data map[string]any) map[string]any {
	for field, m := range a.defaults {
		if _, ok := payload[field]; ok {
			continue
		}
		if v, ok := m.Apply(data); ok {
			payload[field] = v
		}
	}
	return payload
}

func sortedFieldNames(fields map[string]Field) []string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func compileSchema(slug, name string, fields map[string]Field) (*jsonschema.Schema, error) {
	doc, err := objectSchema(fields)
	if err != nil {
		return nil, fmt.Errorf("destination %s: %s schema: %w", slug, name, err)
	}
	doc["$schema"] = "https://json-schema.org/draft/2020-12/schema"
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("destination %s: %s schema: %w", slug, name, err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	url := fmt.Sprintf("https://actionkit.local/destinations/%s/%s.schema.json", slug, name)
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("destination %s: %s schema load failed: %w", slug, name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("destination %s: %s schema compile failed: %w", slug, name, err)
	}
	return compiled, nil
}

// objectSchema renders fields as a JSON schema object.
func objectSchema(fields map[string]Field) (map[string]any, error) {
	props := make(map[string]any, len(fields))
	required := []any{}
	for _, name := range sortedFieldNames(fields) {
		f := fields[name]
		s, err := fieldSchema(f)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		if f.Multiple {
			s = map[string]any{"type": "array", "items": s}
		}
		props[name] = s
		if f.Required {
			required = append(required, name)
		}
	}
	doc := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc, nil
}

func fieldSchema(f Field) (map[string]any, error) {
	switch f.Type {
	case FieldString, FieldText, FieldPassword:
		return map[string]any{"type": "string"}, nil
	case FieldDatetime:
		return map[string]any{"type": "string", "format": "date-time"}, nil
	case FieldNumber:
		return map[string]any{"type": "number"}, nil
	case FieldInteger:
		return map[string]any{"type": "integer"}, nil
	case FieldBoolean:
		return map[string]any{"type": "boolean"}, nil
	case FieldObject:
		if len(f.Properties) == 0 {
			return map[string]any{"type": "object"}, nil
		}
		return objectSchema(f.Properties)
	case FieldAny, "":
		return map[string]any{}, nil
	}
	return nil, fmt.Errorf("unknown field type %q", f.Type)
}
