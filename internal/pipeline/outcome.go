// Package pipeline consumes events: it batches deliveries, routes them to
// handlers by name, isolates item failures, and retries or reschedules what
// did not settle.
package pipeline

import (
	"errors"
	"time"

	"github.com/dejobratic/orderflow/internal/events"
)

// Outcome is the settled state of one event in a batch.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
	OutcomeSuspended Outcome = "suspended"
	OutcomeDropped   Outcome = "dropped"
)

// Retryable reports whether the event should be delivered again.
func (o Outcome) Retryable() bool {
	return o == OutcomeFailed || o == OutcomeSuspended
}

// ErrRejected marks handler errors that no retry can fix.
var ErrRejected = errors.New("event rejected")

type rejectedError struct {
	err error
}

func (e *rejectedError) Error() string        { return e.err.Error() }
func (e *rejectedError) Unwrap() error        { return e.err }
func (e *rejectedError) Is(target error) bool { return target == ErrRejected }

// Reject marks err as terminal. Classify maps it to OutcomeRejected.
func Reject(err error) error {
	if err == nil {
		return nil
	}
	return &rejectedError{err: err}
}

// Classify maps a handler error to an outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeProcessed
	}

	var suspend *SuspendError
	if errors.As(err, &suspend) {
		return OutcomeSuspended
	}

	var validationErr *events.ValidationError
	if errors.Is(err, ErrRejected) || errors.As(err, &validationErr) {
		return OutcomeRejected
	}

	return OutcomeFailed
}

// ItemResult is the result of handling one event.
type ItemResult struct {
	Event   events.Event
	Outcome Outcome
	Err     error
	// RetryAt is set for suspended items.
	RetryAt time.Time
}

// BatchResult holds one ItemResult per dispatched event, in input order.
type BatchResult struct {
	Items []ItemResult
}

// Count returns how many items settled with outcome.
func (r BatchResult) Count(outcome Outcome) int {
	n := 0
	for _, item := range r.Items {
		if item.Outcome == outcome {
			n++
		}
	}
	return n
}

func normalize(e events.Event, r ItemResult) ItemResult {
	r.Event = e
	if r.Err != nil {
		var suspend *SuspendError
		if errors.As(r.Err, &suspend) {
			r.Outcome = OutcomeSuspended
			r.RetryAt = suspend.Until
			return r
		}
		if r.Outcome == "" || r.Outcome == OutcomeProcessed || r.Outcome == OutcomeUnchanged {
			r.Outcome = Classify(r.Err)
		}
		return r
	}
	if r.Outcome == "" {
		r.Outcome = OutcomeProcessed
	}
	return r
}
