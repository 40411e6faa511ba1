package events

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTransport wraps failures of the underlying transport on send.
var ErrTransport = errors.New("event transport failure")

// ValidationError reports an envelope or payload that breaks the contract.
type ValidationError struct {
	Event  Name
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid event %q: %s", e.Event, e.Reason)
	}
	return fmt.Sprintf("invalid event %q: field %s %s", e.Event, e.Field, e.Reason)
}

var required = map[Name][]string{
	OrderCreated:       {"orderId", "userId"},
	OrderStatusUpdated: {"orderId", "status"},
	OrderStatusChanged: {"orderId", "status", "previousStatus"},
}

// optional fields may be omitted, but when present they must be non-empty
// strings. An ownership claim that cannot be read is never treated as absent.
var optional = map[Name][]string{
	OrderStatusUpdated: {"userId", "actorId"},
}

// Known reports whether name belongs to the recognized set.
func Known(name Name) bool {
	_, ok := required[name]
	return ok
}

// RequiredFields lists the payload fields name must carry.
func RequiredFields(name Name) []string {
	fields := required[name]
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}

// ValidatePayload checks a payload against the required fields of name.
func ValidatePayload(name Name, payload Payload) error {
	if strings.TrimSpace(string(name)) == "" {
		return &ValidationError{Event: name, Field: "name", Reason: "is required"}
	}
	fields, ok := required[name]
	if !ok {
		return &ValidationError{Event: name, Field: "name", Reason: "is not a recognized event"}
	}
	for _, field := range fields {
		if _, ok := payload.String(field); !ok {
			return &ValidationError{Event: name, Field: field, Reason: "is required"}
		}
	}
	for _, field := range optional[name] {
		if _, present := payload[field]; !present {
			continue
		}
		if _, ok := payload.String(field); !ok {
			return &ValidationError{Event: name, Field: field, Reason: "must be a non-empty string"}
		}
	}
	return nil
}

// Validate checks the envelope of a received event. Unknown names pass the
// envelope check; routing decides what to do with them.
func Validate(e Event) error {
	if strings.TrimSpace(e.ID) == "" {
		return &ValidationError{Event: e.Name, Field: "id", Reason: "is required"}
	}
	if strings.TrimSpace(string(e.Name)) == "" {
		return &ValidationError{Event: e.Name, Field: "name", Reason: "is required"}
	}
	if !Known(e.Name) {
		return nil
	}
	return ValidatePayload(e.Name, e.Payload)
}
