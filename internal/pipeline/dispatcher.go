package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dejobratic/orderflow/internal/events"
	"github.com/dejobratic/orderflow/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency    = 8
	defaultHandlerTimeout = 30 * time.Second
)

// ErrHandlerPanic wraps a panic raised inside a handler.
var ErrHandlerPanic = errors.New("event handler panicked")

type DispatcherConfig struct {
	Concurrency    int
	HandlerTimeout time.Duration
}

// Dispatcher routes a batch of events to registered handlers.
//
// Batch handlers receive their group first, then single-event handlers run
// in lanes: one lane per orderId, processed in arrival order and serialized
// by a keyed lock, with lanes running in parallel up to Concurrency.
type Dispatcher struct {
	registry    *Registry
	checkpoints CheckpointStore
	metrics     *Metrics
	logger      *slog.Logger
	concurrency int
	timeout     time.Duration
	locks       *keyedMutex
	now         func() time.Time
}

func NewDispatcher(registry *Registry, checkpoints CheckpointStore, metrics *Metrics, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaultHandlerTimeout
	}
	if checkpoints == nil {
		checkpoints = NewMemoryCheckpoints()
	}
	return &Dispatcher{
		registry:    registry,
		checkpoints: checkpoints,
		metrics:     metrics,
		logger:      logger,
		concurrency: cfg.Concurrency,
		timeout:     cfg.HandlerTimeout,
		locks:       newKeyedMutex(),
		now:         time.Now,
	}
}

// Dispatch handles every event of batch and never fails as a whole: each
// item settles independently.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []events.Event) BatchResult {
	results := make([]ItemResult, len(batch))

	var (
		batchGroups = make(map[events.Name][]int)
		groupOrder  []events.Name
		lanes       = make(map[string][]int)
		laneOrder   []string
	)

	for i, e := range batch {
		if err := events.Validate(e); err != nil {
			d.logger.WarnContext(ctx, "skipping invalid event",
				"event", e.Name,
				"event_id", e.ID,
				"order_id", e.OrderID(),
				"error", err,
			)
			results[i] = ItemResult{Event: e, Outcome: OutcomeSkipped, Err: err}
			continue
		}

		single, batched := d.registry.lookup(e.Name)
		switch {
		case batched != nil:
			if _, seen := batchGroups[e.Name]; !seen {
				groupOrder = append(groupOrder, e.Name)
			}
			batchGroups[e.Name] = append(batchGroups[e.Name], i)
		case single != nil:
			key := e.OrderID()
			if key == "" {
				key = "event:" + e.ID
			}
			if _, seen := lanes[key]; !seen {
				laneOrder = append(laneOrder, key)
			}
			lanes[key] = append(lanes[key], i)
		default:
			results[i] = ItemResult{Event: e, Outcome: OutcomeIgnored}
		}
	}

	for _, name := range groupOrder {
		_, h := d.registry.lookup(name)
		d.dispatchGroup(ctx, h, name, batch, batchGroups[name], results)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, key := range laneOrder {
		indexes := lanes[key]
		g.Go(func() error {
			unlock := d.locks.Lock(key)
			defer unlock()
			for _, i := range indexes {
				h, _ := d.registry.lookup(batch[i].Name)
				results[i] = d.dispatchOne(gctx, h, batch[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	return BatchResult{Items: results}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, h Handler, e events.Event) ItemResult {
	ctx, span := telemetry.StartSpan(telemetry.ExtractTrace(ctx, e.Trace), "EventHandler.Handle",
		trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	telemetry.AddSpanAttributes(span,
		attribute.String("event.name", e.Name.String()),
		attribute.String("event.id", e.ID),
		attribute.Int("event.attempt", e.Attempt),
	)
	ctx = telemetry.WithLogAttrs(ctx,
		slog.String("event_id", e.ID),
		slog.String("order_id", e.OrderID()),
	)

	run := NewRun(e, d.checkpoints, d.now)

	start := time.Now()
	res, err := invoke(ctx, d.timeout, func(ctx context.Context) (ItemResult, error) {
		outcome, err := h.Handle(ctx, run, e)
		return ItemResult{Outcome: outcome, Err: err}, nil
	})
	d.metrics.RecordHandlerDuration(ctx, e.Name, time.Since(start).Seconds())

	if err != nil {
		telemetry.RecordSpanError(span, err)
		return ItemResult{Event: e, Outcome: OutcomeFailed, Err: err}
	}
	item := normalize(e, res)
	telemetry.AddSpanAttributes(span, attribute.String("event.outcome", string(item.Outcome)))
	return item
}

func (d *Dispatcher) dispatchGroup(ctx context.Context, h BatchHandler, name events.Name, batch []events.Event, indexes []int, results []ItemResult) {
	group := make([]events.Event, len(indexes))
	for j, i := range indexes {
		group[j] = batch[i]
	}

	start := time.Now()
	out, err := invoke(ctx, d.timeout, func(ctx context.Context) ([]ItemResult, error) {
		return h.HandleBatch(ctx, group), nil
	})
	d.metrics.RecordHandlerDuration(ctx, name, time.Since(start).Seconds())

	for j, i := range indexes {
		switch {
		case err != nil:
			results[i] = ItemResult{Event: batch[i], Outcome: OutcomeFailed, Err: err}
		case j >= len(out):
			results[i] = ItemResult{Event: batch[i], Outcome: OutcomeFailed, Err: fmt.Errorf("batch handler for %s returned no result for item %d", name, j)}
		default:
			results[i] = normalize(batch[i], out[j])
		}
	}
}

// invoke runs fn under the handler timeout. A handler that ignores its
// context is abandoned when the timeout fires so no lock outlives it.
func invoke[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: fmt.Errorf("%w: %v", ErrHandlerPanic, rec)}
			}
		}()
		value, err := fn(ctx)
		done <- result{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("handler did not finish within %s: %w", timeout, ctx.Err())
	}
}
