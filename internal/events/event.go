// Package events defines the order event envelope, the payload contract per
// event name, and the fire-and-forget publisher.
package events

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Name identifies an event type on the wire.
type Name string

const (
	OrderCreated       Name = "order/created"
	OrderStatusUpdated Name = "order/status.updated"
	OrderStatusChanged Name = "order/status.changed"
)

func (n Name) String() string { return string(n) }

// Payload is the structured body of an event. Field presence is the contract.
type Payload map[string]any

// String returns a non-empty string field.
func (p Payload) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Int64 returns an integral numeric field. JSON decoding yields float64, so
// whole floats are accepted.
func (p Payload) Int64(key string) (int64, bool) {
	switch v := p[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Decode re-marshals a field into out, for nested structures.
func (p Payload) Decode(key string, out any) error {
	raw, err := json.Marshal(p[key])
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Event is a message in flight. ID is stable across redeliveries. Trace
// carries the W3C context of the span that sent it.
type Event struct {
	ID         string            `json:"id"`
	Name       Name              `json:"name"`
	Payload    Payload           `json:"payload"`
	Attempt    int               `json:"attempt"`
	NotBefore  time.Time         `json:"notBefore,omitzero"`
	OccurredAt time.Time         `json:"occurredAt"`
	Trace      map[string]string `json:"trace,omitempty"`
}

// New builds a first-attempt event with a fresh id.
func New(name Name, payload Payload) Event {
	if payload == nil {
		payload = Payload{}
	}
	return Event{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    payload,
		Attempt:    1,
		OccurredAt: time.Now().UTC(),
	}
}

// OrderID returns the orderId field, which is also the partitioning key.
func (e Event) OrderID() string {
	id, _ := e.Payload.String("orderId")
	return id
}

// Retry returns the next delivery attempt of e, due at notBefore.
func (e Event) Retry(notBefore time.Time) Event {
	next := e
	next.Attempt = e.Attempt + 1
	next.NotBefore = notBefore
	return next
}

// Defer returns e due at notBefore without consuming an attempt.
func (e Event) Defer(notBefore time.Time) Event {
	next := e
	next.NotBefore = notBefore
	return next
}

// Due reports whether e may be handled at now.
func (e Event) Due(now time.Time) bool {
	return e.NotBefore.IsZero() || !now.Before(e.NotBefore)
}
