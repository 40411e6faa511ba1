package events_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dejobratic/orderflow/internal/events"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		event     events.Event
		wantField string
	}{
		{
			name:  "valid status update",
			event: events.Event{ID: "e1", Name: events.OrderStatusUpdated, Payload: events.Payload{"orderId": "o1", "status": "shipped"}},
		},
		{
			name:      "missing id",
			event:     events.Event{Name: events.OrderCreated, Payload: events.Payload{"orderId": "o1", "userId": "u1"}},
			wantField: "id",
		},
		{
			name:      "missing name",
			event:     events.Event{ID: "e1"},
			wantField: "name",
		},
		{
			name:      "empty orderId",
			event:     events.Event{ID: "e1", Name: events.OrderCreated, Payload: events.Payload{"orderId": "", "userId": "u1"}},
			wantField: "orderId",
		},
		{
			name:      "non-string userId",
			event:     events.Event{ID: "e1", Name: events.OrderCreated, Payload: events.Payload{"orderId": "o1", "userId": 42}},
			wantField: "userId",
		},
		{
			name:      "status update with numeric userId",
			event:     events.Event{ID: "e1", Name: events.OrderStatusUpdated, Payload: events.Payload{"orderId": "o1", "status": "shipped", "userId": 42}},
			wantField: "userId",
		},
		{
			name:      "status update with object actorId",
			event:     events.Event{ID: "e1", Name: events.OrderStatusUpdated, Payload: events.Payload{"orderId": "o1", "status": "shipped", "actorId": map[string]any{"id": "s1"}}},
			wantField: "actorId",
		},
		{
			name:  "status update with owner claim",
			event: events.Event{ID: "e1", Name: events.OrderStatusUpdated, Payload: events.Payload{"orderId": "o1", "status": "shipped", "userId": "u1"}},
		},
		{
			name:  "unknown names pass envelope check",
			event: events.Event{ID: "e1", Name: "test/connection"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := events.Validate(tt.event)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			var validationErr *events.ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if validationErr.Field != tt.wantField {
				t.Errorf("expected field %s, got %s", tt.wantField, validationErr.Field)
			}
		})
	}
}

func TestPayloadInt64(t *testing.T) {
	var decoded events.Payload
	if err := json.Unmarshal([]byte(`{"whole": 1020, "fraction": 10.5, "text": "7"}`), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if v, ok := decoded.Int64("whole"); !ok || v != 1020 {
		t.Errorf("Int64(whole) = %d, %v", v, ok)
	}
	if _, ok := decoded.Int64("fraction"); ok {
		t.Error("expected fractional number to be rejected")
	}
	if v, ok := decoded.Int64("text"); !ok || v != 7 {
		t.Errorf("Int64(text) = %d, %v", v, ok)
	}
	if _, ok := decoded.Int64("missing"); ok {
		t.Error("expected missing field to be rejected")
	}
}

func TestEventRetryAndDefer(t *testing.T) {
	e := events.New(events.OrderCreated, events.Payload{"orderId": "o1", "userId": "u1"})
	at := time.Now().Add(time.Minute)

	retried := e.Retry(at)
	if retried.ID != e.ID || retried.Attempt != 2 || !retried.NotBefore.Equal(at) {
		t.Errorf("unexpected retry: %+v", retried)
	}

	deferred := e.Defer(at)
	if deferred.Attempt != 1 || !deferred.NotBefore.Equal(at) {
		t.Errorf("unexpected defer: %+v", deferred)
	}
	if deferred.Due(time.Now()) {
		t.Error("deferred event should not be due yet")
	}
	if !deferred.Due(at) {
		t.Error("deferred event should be due at its NotBefore")
	}
}

func TestEventJSONRoundTripKeepsPayload(t *testing.T) {
	e := events.New(events.OrderStatusUpdated, events.Payload{"orderId": "o1", "status": "shipped"})

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded events.Event
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := events.Validate(decoded); err != nil {
		t.Errorf("decoded event should validate: %v", err)
	}
	if !decoded.NotBefore.IsZero() {
		t.Errorf("expected zero NotBefore, got %v", decoded.NotBefore)
	}
}
