package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dejobratic/orderflow/internal/events"
)

const sleepStepPrefix = "sleep:"

// SuspendError is returned by Run.Sleep. The dispatcher releases the item
// and the consumer redelivers the event once Until has passed.
type SuspendError struct {
	Step  string
	Until time.Time
}

func (e *SuspendError) Error() string {
	return fmt.Sprintf("suspended at step %s until %s", e.Step, e.Until.Format(time.RFC3339))
}

// Run is the execution context of one event delivery.
type Run struct {
	Event events.Event

	store CheckpointStore
	now   func() time.Time
}

func NewRun(event events.Event, store CheckpointStore, now func() time.Time) *Run {
	if store == nil {
		store = NewMemoryCheckpoints()
	}
	if now == nil {
		now = time.Now
	}
	return &Run{Event: event, store: store, now: now}
}

// Step runs fn once per event. A completed step's JSON result is memoized,
// so a redelivery returns it without calling fn again.
func Step[T any](ctx context.Context, run *Run, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	raw, ok, err := run.store.Load(ctx, run.Event.ID, name)
	if err != nil {
		return zero, fmt.Errorf("load checkpoint %s: %w", name, err)
	}
	if ok {
		var memo T
		if err := json.Unmarshal(raw, &memo); err != nil {
			return zero, fmt.Errorf("decode checkpoint %s: %w", name, err)
		}
		return memo, nil
	}

	result, err := fn(ctx)
	if err != nil {
		return zero, err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("encode checkpoint %s: %w", name, err)
	}
	if err := run.store.Save(ctx, run.Event.ID, name, encoded); err != nil {
		return zero, fmt.Errorf("save checkpoint %s: %w", name, err)
	}
	return result, nil
}

// Sleep pauses the run for d without holding a worker. The first call
// records the wake-up time and returns a *SuspendError; once the event is
// redelivered after that time the call returns nil.
func (r *Run) Sleep(ctx context.Context, name string, d time.Duration) error {
	key := sleepStepPrefix + name

	raw, ok, err := r.store.Load(ctx, r.Event.ID, key)
	if err != nil {
		return fmt.Errorf("load checkpoint %s: %w", key, err)
	}

	var wake time.Time
	if ok {
		if err := json.Unmarshal(raw, &wake); err != nil {
			return fmt.Errorf("decode checkpoint %s: %w", key, err)
		}
	} else {
		wake = r.now().Add(d).UTC()
		encoded, err := json.Marshal(wake)
		if err != nil {
			return fmt.Errorf("encode checkpoint %s: %w", key, err)
		}
		if err := r.store.Save(ctx, r.Event.ID, key, encoded); err != nil {
			return fmt.Errorf("save checkpoint %s: %w", key, err)
		}
	}

	if r.now().Before(wake) {
		return &SuspendError{Step: name, Until: wake}
	}
	return nil
}
