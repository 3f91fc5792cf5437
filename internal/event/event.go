package event

import (
	"fmt"
	"time"
)

// Type is the kind of analytics call an Event represents.
type Type string

const (
	TypeTrack    Type = "track"
	TypeIdentify Type = "identify"
	TypePage     Type = "page"
	TypeScreen   Type = "screen"
	TypeGroup    Type = "group"
	TypeAlias    Type = "alias"
)

// Valid reports whether t is one of the known call types.
func (t Type) Valid() bool {
	switch t {
	case TypeTrack, TypeIdentify, TypePage, TypeScreen, TypeGroup, TypeAlias:
		return true
	}
	return false
}

// Event is the canonical input model for all incoming events.
// It is read-only once accepted; core components consume the Data view.
type Event struct {
	MessageID    string         `json:"messageId"`
	Type         Type           `json:"type"`
	Event        string         `json:"event,omitempty"` // track only
	Name         string         `json:"name,omitempty"`  // page/screen
	UserID       string         `json:"userId,omitempty"`
	AnonymousID  string         `json:"anonymousId,omitempty"`
	GroupID      string         `json:"groupId,omitempty"`
	PreviousID   string         `json:"previousId,omitempty"`
	Traits       map[string]any `json:"traits,omitempty"`
	Properties   map[string]any `json:"properties,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	Integrations map[string]any `json:"integrations,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	ReceivedAt   time.Time      `json:"receivedAt"`
}

// Validate checks the fields every call type needs.
func (e *Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Type == TypeTrack && e.Event == "" {
		return fmt.Errorf("track event requires an event name")
	}
	if e.UserID == "" && e.AnonymousID == "" {
		return fmt.Errorf("one of userId or anonymousId is required")
	}
	return nil
}

// Data returns the event as a generic JSON map, the shape mapping templates
// and FQL paths are written against. Empty optional fields are left out so
// that paths to them resolve as missing rather than "".
func (e *Event) Data() map[string]any {
	m := make(map[string]any, 16)
	m["type"] = string(e.Type)
	putString(m, "messageId", e.MessageID)
	putString(m, "event", e.Event)
	putString(m, "name", e.Name)
	putString(m, "userId", e.UserID)
	putString(m, "anonymousId", e.AnonymousID)
	putString(m, "groupId", e.GroupID)
	putString(m, "previousId", e.PreviousID)
	putMap(m, "traits", e.Traits)
	putMap(m, "properties", e.Properties)
	putMap(m, "context", e.Context)
	putMap(m, "integrations", e.Integrations)
	if !e.Timestamp.IsZero() {
		m["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if !e.ReceivedAt.IsZero() {
		m["receivedAt"] = e.ReceivedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func putString(m map[string]any, k, v string) {
	if v != "" {
		m[k] = v
	}
}

func putMap(m map[string]any, k string, v map[string]any) {
	if v != nil {
		m[k] = v
	}
}
