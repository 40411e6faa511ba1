package eventhandlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dejobratic/orderflow/internal/events"
	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/dejobratic/orderflow/internal/pipeline"
)

// OrderCreated handles order/created batches in the deployment's creation
// mode. In advance mode each order moves from placed to processing; in
// materialize mode the batch is written to the store.
type OrderCreated struct {
	mode     commands.CreationMode
	applier  commands.StatusApplier
	repo     ports.OrderRepository
	notifier *Notifier
	logger   *slog.Logger
}

func NewOrderCreated(
	mode commands.CreationMode,
	applier commands.StatusApplier,
	repo ports.OrderRepository,
	notifier *Notifier,
	logger *slog.Logger,
) *OrderCreated {
	if mode == "" {
		mode = commands.ModeAdvance
	}
	return &OrderCreated{
		mode:     mode,
		applier:  applier,
		repo:     repo,
		notifier: notifier,
		logger:   logger,
	}
}

func (h *OrderCreated) HandleBatch(ctx context.Context, batch []events.Event) []pipeline.ItemResult {
	if h.mode == commands.ModeMaterialize {
		return h.materialize(ctx, batch)
	}
	return h.advance(ctx, batch)
}

func (h *OrderCreated) advance(ctx context.Context, batch []events.Event) []pipeline.ItemResult {
	results := make([]pipeline.ItemResult, len(batch))
	for i, e := range batch {
		results[i] = pipeline.ItemResult{Event: e}

		if err := ctx.Err(); err != nil {
			results[i].Outcome = pipeline.OutcomeFailed
			results[i].Err = err
			continue
		}

		orderID, _ := e.Payload.String("orderId")
		ownerID, _ := e.Payload.String("userId")

		change, err := h.applier.Handle(ctx, commands.ApplyStatusCommand{
			OrderID:           orderID,
			Status:            string(domain.StatusProcessing),
			RequestingOwnerID: ownerID,
			EventID:           e.ID,
		})
		if err != nil {
			err = terminal(fmt.Errorf("advance %s: %w", orderID, err))
			results[i].Outcome = pipeline.Classify(err)
			results[i].Err = err
			if results[i].Outcome == pipeline.OutcomeRejected {
				h.logger.WarnContext(ctx, "order/created event rejected",
					"order_id", orderID,
					"event_id", e.ID,
					"error", err,
				)
			}
			continue
		}

		results[i].Outcome = outcomeOf(change)
		if _, err := h.notifier.Notify(ctx, change, e.ID); err != nil {
			h.logger.WarnContext(ctx, "status change notification not published",
				"order_id", orderID,
				"error", err,
			)
		}
	}
	return results
}

// decodeCreated reads the full order carried by a materialize-mode event.
func decodeCreated(e events.Event) (domain.NewOrderParams, error) {
	params := domain.NewOrderParams{CreatedAt: e.OccurredAt}
	params.ID, _ = e.Payload.String("orderId")
	params.OwnerID, _ = e.Payload.String("userId")

	if err := e.Payload.Decode("lineItems", &params.LineItems); err != nil {
		return params, &events.ValidationError{Event: e.Name, Field: "lineItems", Reason: "is malformed"}
	}
	if err := e.Payload.Decode("shippingAddress", &params.ShippingAddress); err != nil {
		return params, &events.ValidationError{Event: e.Name, Field: "shippingAddress", Reason: "is malformed"}
	}

	amount, ok := e.Payload.Int64("amountCents")
	if !ok {
		return params, &events.ValidationError{Event: e.Name, Field: "amountCents", Reason: "must be an integer"}
	}
	params.AmountCents = amount

	if raw, ok := e.Payload.String("createdAt"); ok {
		createdAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return params, &events.ValidationError{Event: e.Name, Field: "createdAt", Reason: "is not an RFC 3339 timestamp"}
		}
		params.CreatedAt = createdAt
	}

	return params, nil
}

func (h *OrderCreated) materialize(ctx context.Context, batch []events.Event) []pipeline.ItemResult {
	results := make([]pipeline.ItemResult, len(batch))
	seen := make(map[string]bool, len(batch))
	orders := make([]domain.Order, 0, len(batch))
	pending := make(map[string]int, len(batch))

	for i, e := range batch {
		results[i] = pipeline.ItemResult{Event: e}

		params, err := decodeCreated(e)
		var order *domain.Order
		if err == nil {
			order, err = domain.NewOrder(params)
		}
		if err != nil {
			results[i].Outcome = pipeline.OutcomeRejected
			results[i].Err = pipeline.Reject(err)
			h.logger.WarnContext(ctx, "invalid order in order/created event",
				"event_id", e.ID,
				"order_id", params.ID,
				"error", err,
			)
			continue
		}

		if seen[order.ID] {
			results[i].Outcome = pipeline.OutcomeUnchanged
			continue
		}
		seen[order.ID] = true
		pending[order.ID] = i
		orders = append(orders, *order)
	}

	if len(orders) == 0 {
		h.logger.InfoContext(ctx, "materialized orders", "count", 0, "batch_size", len(batch))
		return results
	}

	inserted, err := h.repo.CreateMany(ctx, orders)
	if err != nil {
		for _, i := range pending {
			results[i].Outcome = pipeline.OutcomeFailed
			results[i].Err = fmt.Errorf("materialize orders: %w", err)
		}
		return results
	}

	for _, i := range pending {
		results[i].Outcome = pipeline.OutcomeUnchanged
	}
	for _, id := range inserted {
		if i, ok := pending[id]; ok {
			results[i].Outcome = pipeline.OutcomeProcessed
		}
	}

	h.logger.InfoContext(ctx, "materialized orders",
		"count", len(inserted),
		"batch_size", len(batch),
	)
	return results
}
