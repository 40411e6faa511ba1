// Package worker assembles the event consumer: handler registry, dispatcher,
// batcher and consumer loop over an events.Source.
package worker

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dejobratic/orderflow/internal/config"
	"github.com/dejobratic/orderflow/internal/events"
	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/app/eventhandlers"
	"github.com/dejobratic/orderflow/internal/orders/metrics"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/dejobratic/orderflow/internal/pipeline"
	"go.opentelemetry.io/otel/metric"
)

// Deps are the collaborators the consumer needs. Checkpoints defaults to an
// in-memory store; Publisher is only used for status change notifications.
type Deps struct {
	Source      events.Source
	Requeue     events.Transport
	Repository  ports.OrderRepository
	Publisher   ports.EventPublisher
	Checkpoints pipeline.CheckpointStore
	Meter       metric.Meter
	Logger      *slog.Logger
}

func New(cfg config.Config, deps Deps) (*pipeline.Consumer, error) {
	if deps.Source == nil || deps.Requeue == nil || deps.Repository == nil {
		return nil, errors.New("worker: source, requeue and repository are required")
	}

	mode, err := commands.ParseCreationMode(cfg.Orders.CreationMode)
	if err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}

	orderMetrics, err := metrics.NewMetrics(deps.Meter)
	if err != nil {
		return nil, fmt.Errorf("worker: order metrics: %w", err)
	}
	pipelineMetrics, err := pipeline.NewMetrics(deps.Meter)
	if err != nil {
		return nil, fmt.Errorf("worker: pipeline metrics: %w", err)
	}

	applier := commands.NewObservableStatusApplier(
		commands.NewApplyStatusCommandHandler(deps.Repository),
		deps.Logger,
		orderMetrics,
	)

	var notifier *eventhandlers.Notifier
	if cfg.Events.NotifyStatusChanges && deps.Publisher != nil {
		notifier = eventhandlers.NewNotifier(deps.Publisher)
	}

	registry := pipeline.NewRegistry()
	if err := registry.RegisterBatch(events.OrderCreated,
		eventhandlers.NewOrderCreated(mode, applier, deps.Repository, notifier, deps.Logger),
	); err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}
	if err := registry.Register(events.OrderStatusUpdated,
		eventhandlers.NewStatusUpdated(applier, notifier, deps.Logger),
	); err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}

	dispatcher := pipeline.NewDispatcher(registry, deps.Checkpoints, pipelineMetrics, deps.Logger, pipeline.DispatcherConfig{
		Concurrency:    cfg.Worker.Concurrency,
		HandlerTimeout: cfg.Worker.HandlerTimeout,
	})
	batcher := pipeline.NewBatcher(deps.Source, pipeline.BatcherConfig{
		MaxSize: cfg.Worker.BatchSize,
		MaxWait: cfg.Worker.BatchWait,
	})

	deps.Logger.Info("event consumer configured",
		"creation_mode", mode,
		"handlers", registry.Names(),
		"notify_status_changes", notifier != nil,
	)

	return pipeline.NewConsumer(deps.Source, batcher, deps.Requeue, dispatcher, pipelineMetrics, deps.Logger, pipeline.ConsumerConfig{
		Retry: pipeline.RetryPolicy{
			MaxAttempts: cfg.Worker.MaxAttempts,
			BaseDelay:   cfg.Worker.RetryBaseDelay,
			MaxDelay:    cfg.Worker.RetryMaxDelay,
		},
		RequeueTimeout: cfg.Events.PublishTimeout,
	}), nil
}
