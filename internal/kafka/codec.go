package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dejobratic/orderflow/internal/events"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	headerEventName    = "event-name"
	headerEventID      = "event-id"
	headerEventAttempt = "event-attempt"
)

// Encode turns an event into a Kafka message keyed by orderId so every event
// of one order lands on the same partition.
func Encode(e events.Event) (kafkago.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("encode event %s: %w", e.ID, err)
	}

	key := e.OrderID()
	if key == "" {
		key = e.ID
	}

	return kafkago.Message{
		Key:   []byte(key),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafkago.Header{
			{Key: headerEventName, Value: []byte(e.Name)},
			{Key: headerEventID, Value: []byte(e.ID)},
			{Key: headerEventAttempt, Value: []byte(strconv.Itoa(e.Attempt))},
		},
	}, nil
}

// Decode reads the JSON envelope of msg. Headers fill in envelope fields
// the body left empty, which keeps producers that only set headers readable.
func Decode(msg kafkago.Message) (events.Event, error) {
	var e events.Event
	if err := json.Unmarshal(msg.Value, &e); err != nil {
		return events.Event{}, fmt.Errorf("decode message at offset %d: %w", msg.Offset, err)
	}

	for _, h := range msg.Headers {
		switch h.Key {
		case headerEventName:
			if e.Name == "" {
				e.Name = events.Name(h.Value)
			}
		case headerEventID:
			if e.ID == "" {
				e.ID = string(h.Value)
			}
		case headerEventAttempt:
			if e.Attempt == 0 {
				if n, err := strconv.Atoi(string(h.Value)); err == nil {
					e.Attempt = n
				}
			}
		}
	}

	if e.Attempt < 1 {
		e.Attempt = 1
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = msg.Time
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if e.Payload == nil {
		e.Payload = events.Payload{}
	}

	return e, nil
}
