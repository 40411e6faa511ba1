package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dejobratic/orderflow/internal/events"
)

const defaultRequeueTimeout = 5 * time.Second

type ConsumerConfig struct {
	Retry          RetryPolicy
	RequeueTimeout time.Duration
}

// Consumer drives the fetch, batch, dispatch, reschedule, commit loop.
//
// Events that are not yet due, failed events awaiting retry, and suspended
// events are held on timers and sent back through requeue once due; their
// original deliveries are committed immediately. A requeue that fails is held
// again with backoff until the retry policy is exhausted. Held events are
// flushed to requeue on shutdown and are lost only if the process dies while
// holding them.
type Consumer struct {
	batcher     *Batcher
	source      events.Source
	requeue     events.Transport
	dispatcher  *Dispatcher
	checkpoints CheckpointStore
	metrics     *Metrics
	logger      *slog.Logger
	retry       RetryPolicy
	sendTimeout time.Duration
	now         func() time.Time

	mu      sync.Mutex
	timers  map[*time.Timer]heldEvent
	closing bool
	wg      sync.WaitGroup
}

// heldEvent is an event waiting for requeue and the number of sends that
// already failed for it.
type heldEvent struct {
	event    events.Event
	failures int
}

func NewConsumer(
	source events.Source,
	batcher *Batcher,
	requeue events.Transport,
	dispatcher *Dispatcher,
	metrics *Metrics,
	logger *slog.Logger,
	cfg ConsumerConfig,
) *Consumer {
	if cfg.RequeueTimeout <= 0 {
		cfg.RequeueTimeout = defaultRequeueTimeout
	}
	return &Consumer{
		batcher:     batcher,
		source:      source,
		requeue:     requeue,
		dispatcher:  dispatcher,
		checkpoints: dispatcher.checkpoints,
		metrics:     metrics,
		logger:      logger,
		retry:       cfg.Retry.withDefaults(),
		sendTimeout: cfg.RequeueTimeout,
		now:         time.Now,
		timers:      make(map[*time.Timer]heldEvent),
	}
}

// Run consumes until ctx is cancelled or the source closes. A batch already
// fetched is still dispatched and committed after cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.flush()

	for {
		deliveries, err := c.batcher.Next(ctx)
		if len(deliveries) > 0 {
			c.process(context.WithoutCancel(ctx), deliveries)
		}
		if err != nil {
			if errors.Is(err, events.ErrSourceClosed) || ctx.Err() != nil {
				c.logger.InfoContext(ctx, "event consumer stopped")
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "event consumer stopped")
			return nil
		}
	}
}

// Process settles one batch of deliveries. It is exported for callers that
// drive their own fetching.
func (c *Consumer) Process(ctx context.Context, deliveries []events.Delivery) BatchResult {
	return c.process(ctx, deliveries)
}

func (c *Consumer) process(ctx context.Context, deliveries []events.Delivery) BatchResult {
	now := c.now()

	due := make([]events.Event, 0, len(deliveries))
	for _, d := range deliveries {
		if d.Event.Due(now) {
			due = append(due, d.Event)
			continue
		}
		c.hold(d.Event)
	}

	c.metrics.RecordBatch(ctx, len(due))
	result := c.dispatcher.Dispatch(ctx, due)

	for i, item := range result.Items {
		result.Items[i] = c.settle(ctx, item)
	}

	if err := c.source.Commit(ctx, deliveries...); err != nil {
		c.logger.ErrorContext(ctx, "failed to commit deliveries",
			"count", len(deliveries),
			"error", err,
		)
	}

	return result
}

func (c *Consumer) settle(ctx context.Context, item ItemResult) ItemResult {
	e := item.Event

	switch item.Outcome {
	case OutcomeSuspended:
		c.hold(e.Defer(item.RetryAt))
	case OutcomeFailed:
		if c.retry.Exhausted(e.Attempt) {
			item.Outcome = OutcomeDropped
			break
		}
		c.hold(e.Retry(c.now().Add(c.retry.Backoff(e.Attempt))))
	}

	if !item.Outcome.Retryable() {
		if err := c.checkpoints.Clear(ctx, e.ID); err != nil {
			c.logger.WarnContext(ctx, "failed to clear checkpoints", "event_id", e.ID, "error", err)
		}
	}

	c.metrics.RecordOutcome(ctx, e.Name, item.Outcome)
	c.logResult(ctx, item)
	return item
}

func (c *Consumer) logResult(ctx context.Context, item ItemResult) {
	attrs := []any{
		"event", item.Event.Name,
		"event_id", item.Event.ID,
		"order_id", item.Event.OrderID(),
		"outcome", item.Outcome,
		"attempt", item.Event.Attempt,
	}
	if item.Err != nil {
		attrs = append(attrs, "error", item.Err)
	}

	switch item.Outcome {
	case OutcomeDropped:
		c.logger.ErrorContext(ctx, "event dropped after final attempt", attrs...)
	case OutcomeFailed:
		c.logger.WarnContext(ctx, "event failed, retry scheduled", attrs...)
	case OutcomeRejected, OutcomeSkipped:
		c.logger.WarnContext(ctx, "event not applied", attrs...)
	case OutcomeIgnored:
		c.logger.DebugContext(ctx, "event ignored", attrs...)
	default:
		c.logger.InfoContext(ctx, "event settled", attrs...)
	}
}

// hold sends e back through requeue once it is due.
func (c *Consumer) hold(e events.Event) {
	c.schedule(heldEvent{event: e}, e.NotBefore.Sub(c.now()))
}

func (c *Consumer) schedule(h heldEvent, delay time.Duration) {
	c.mu.Lock()
	if delay <= 0 || c.closing {
		c.mu.Unlock()
		c.send(h)
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		_, pending := c.timers[timer]
		delete(c.timers, timer)
		c.mu.Unlock()
		if pending {
			c.send(h)
			c.wg.Done()
		}
	})
	c.timers[timer] = h
	c.wg.Add(1)
	c.mu.Unlock()
}

// flush sends every held event now. Receivers hold them again until due.
func (c *Consumer) flush() {
	c.mu.Lock()
	c.closing = true
	held := make([]heldEvent, 0, len(c.timers))
	for timer, h := range c.timers {
		if timer.Stop() {
			held = append(held, h)
			delete(c.timers, timer)
			c.wg.Done()
		}
	}
	c.mu.Unlock()

	for _, h := range held {
		c.send(h)
	}
	c.wg.Wait()
}

// Held returns the number of events waiting on timers.
func (c *Consumer) Held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// send requeues h. A failed send is held again with backoff; the event is
// dropped once the retry policy is exhausted or the consumer is shutting down.
func (c *Consumer) send(h heldEvent) {
	e := h.event
	ctx, cancel := context.WithTimeout(context.Background(), c.sendTimeout)
	err := c.requeue.Send(ctx, e)
	cancel()
	if err == nil {
		return
	}

	h.failures++
	attrs := []any{
		"event", e.Name,
		"event_id", e.ID,
		"order_id", e.OrderID(),
		"attempt", e.Attempt,
		"requeue_failures", h.failures,
		"error", err,
	}

	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()

	if closing || c.retry.Exhausted(h.failures) {
		ctx := context.Background()
		c.metrics.RecordOutcome(ctx, e.Name, OutcomeDropped)
		c.logger.ErrorContext(ctx, "event dropped, requeue failed", attrs...)
		return
	}

	c.logger.WarnContext(context.Background(), "failed to requeue event, retry scheduled", attrs...)
	c.schedule(h, c.retry.Backoff(h.failures))
}
