package models

import "fmt"

// Well known event fields.
const (
	FieldMessage    = "message"
	FieldAttributes = "attributes"
	FieldMessageID  = "message_id"
	FieldTimestamp  = "timestamp"
	FieldSourceType = "source_type"
)

// Event is a single log-like record flowing through the relay.
type Event struct {
	Fields map[string]interface{} `json:"fields"`

	// AckID is set for events read from a subscription and is never encoded.
	AckID string `json:"-"`
}

func NewEvent(message string) Event {
	return Event{Fields: map[string]interface{}{FieldMessage: message}}
}

func (e *Event) Get(key string) (interface{}, bool) {
	if e.Fields == nil {
		return nil, false
	}
	v, ok := e.Fields[key]
	return v, ok
}

func (e *Event) Set(key string, value interface{}) {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
}

// GetString renders the field as a string; non-string values use fmt.
func (e *Event) GetString(key string) (string, bool) {
	v, ok := e.Get(key)
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Message returns the "message" field or an empty string.
func (e *Event) Message() string {
	s, _ := e.GetString(FieldMessage)
	return s
}

// Attributes returns string-valued attributes attached to the event.
func (e *Event) Attributes() map[string]string {
	v, ok := e.Get(FieldAttributes)
	if !ok {
		return nil
	}
	switch attrs := v.(type) {
	case map[string]string:
		return attrs
	case map[string]interface{}:
		out := make(map[string]string, len(attrs))
		for k, val := range attrs {
			out[k] = fmt.Sprint(val)
		}
		return out
	}
	return nil
}
