package eventhandlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dejobratic/orderflow/internal/events"
	"github.com/dejobratic/orderflow/internal/orders/adapters/memory"
	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/app/eventhandlers"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/dejobratic/orderflow/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockPublisher struct {
	mu        sync.Mutex
	published []events.Event
	publishFn func(name events.Name, payload events.Payload) events.Receipt
}

func (m *mockPublisher) Publish(_ context.Context, name events.Name, payload events.Payload) events.Receipt {
	if m.publishFn != nil {
		if receipt := m.publishFn(name, payload); !receipt.Accepted {
			return receipt
		}
	}
	e := events.New(name, payload)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, e)
	return events.Receipt{EventID: e.ID, Accepted: true}
}

func (m *mockPublisher) names() []events.Name {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]events.Name, 0, len(m.published))
	for _, e := range m.published {
		names = append(names, e.Name)
	}
	return names
}

type countingApplier struct {
	inner commands.StatusApplier
	mu    sync.Mutex
	calls int
}

func (c *countingApplier) Handle(ctx context.Context, cmd commands.ApplyStatusCommand) (domain.StatusChange, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Handle(ctx, cmd)
}

func seedOrder(t *testing.T, repo ports.OrderRepository, id, owner string) {
	t.Helper()
	order, err := domain.NewOrder(domain.NewOrderParams{
		ID:              id,
		OwnerID:         owner,
		LineItems:       []domain.LineItem{{ProductRef: "sku-1", Quantity: 1}},
		AmountCents:     1020,
		ShippingAddress: domain.Address{FullName: "Ada Lovelace", City: "London"},
	})
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), *order))
}

func statusOf(t *testing.T, repo ports.OrderRepository, id string) domain.OrderStatus {
	t.Helper()
	order, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return order.Status
}

func createdEvent(orderID, userID string) events.Event {
	return events.New(events.OrderCreated, events.Payload{"orderId": orderID, "userId": userID})
}

func statusEvent(orderID, status string) events.Event {
	return events.New(events.OrderStatusUpdated, events.Payload{"orderId": orderID, "status": status})
}

func newRun(e events.Event, store pipeline.CheckpointStore) *pipeline.Run {
	return pipeline.NewRun(e, store, nil)
}

func TestOrderCreatedAdvance(t *testing.T) {
	repo := memory.NewRepository()
	seedOrder(t, repo, "o1", "u1")
	seedOrder(t, repo, "o2", "u2")
	seedOrder(t, repo, "o3", "u1")

	handler := eventhandlers.NewOrderCreated(commands.ModeAdvance, commands.NewApplyStatusCommandHandler(repo), repo, nil, discardLogger())
	ctx := context.Background()

	first := createdEvent("o1", "u1")
	batch := []events.Event{
		first,
		createdEvent("missing", "u1"),
		createdEvent("o2", "u1"),
		createdEvent("o3", "u1"),
	}

	results := handler.HandleBatch(ctx, batch)
	require.Len(t, results, 4)

	assert.Equal(t, pipeline.OutcomeProcessed, results[0].Outcome)
	assert.Equal(t, pipeline.OutcomeRejected, results[1].Outcome)
	assert.ErrorIs(t, results[1].Err, ports.ErrNotFound)
	assert.Equal(t, pipeline.OutcomeRejected, results[2].Outcome, "userId must match the owner")
	assert.Equal(t, pipeline.OutcomeProcessed, results[3].Outcome)

	assert.Equal(t, domain.StatusProcessing, statusOf(t, repo, "o1"))
	assert.Equal(t, domain.StatusPlaced, statusOf(t, repo, "o2"))

	t.Run("redelivery is unchanged", func(t *testing.T) {
		results := handler.HandleBatch(ctx, []events.Event{first})
		assert.Equal(t, pipeline.OutcomeUnchanged, results[0].Outcome)

		history, err := repo.Transitions(ctx, "o1")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, first.ID, history[0].EventID)
	})

	t.Run("cancelled order is not advanced", func(t *testing.T) {
		applier := commands.NewApplyStatusCommandHandler(repo)
		_, err := applier.Handle(ctx, commands.ApplyStatusCommand{OrderID: "o2", Status: "cancelled"})
		require.NoError(t, err)

		results := handler.HandleBatch(ctx, []events.Event{createdEvent("o2", "u2")})
		assert.Equal(t, pipeline.OutcomeRejected, results[0].Outcome)
		assert.Equal(t, domain.StatusCancelled, statusOf(t, repo, "o2"))
	})

	t.Run("cancelled context fails remaining items", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		results := handler.HandleBatch(cancelled, []events.Event{createdEvent("o3", "u1")})
		assert.Equal(t, pipeline.OutcomeFailed, results[0].Outcome)
		assert.ErrorIs(t, results[0].Err, context.Canceled)
	})
}

type failingCreateMany struct {
	*memory.Repository
	err error
}

func (f *failingCreateMany) CreateMany(context.Context, []domain.Order) ([]string, error) {
	return nil, f.err
}

func TestOrderCreatedMaterialize(t *testing.T) {
	ctx := context.Background()

	materializeEvent := func(id, owner string) events.Event {
		order, err := domain.NewOrder(domain.NewOrderParams{
			ID:              id,
			OwnerID:         owner,
			LineItems:       []domain.LineItem{{ProductRef: "sku-1", Quantity: 2}},
			AmountCents:     1020,
			ShippingAddress: domain.Address{FullName: "Ada Lovelace", City: "London"},
		})
		require.NoError(t, err)
		return events.New(events.OrderCreated, commands.MaterializePayload(*order))
	}

	t.Run("writes valid orders once", func(t *testing.T) {
		repo := memory.NewRepository()
		seedOrder(t, repo, "existing", "u1")
		handler := eventhandlers.NewOrderCreated(commands.ModeMaterialize, nil, repo, nil, discardLogger())

		invalid := materializeEvent("o3", "u1")
		invalid.Payload["lineItems"] = []any{}

		batch := []events.Event{
			materializeEvent("o1", "u1"),
			materializeEvent("o2", "u2"),
			materializeEvent("o1", "u1"),
			invalid,
			materializeEvent("existing", "u1"),
		}

		results := handler.HandleBatch(ctx, batch)
		require.Len(t, results, 5)
		assert.Equal(t, pipeline.OutcomeProcessed, results[0].Outcome)
		assert.Equal(t, pipeline.OutcomeProcessed, results[1].Outcome)
		assert.Equal(t, pipeline.OutcomeUnchanged, results[2].Outcome)
		assert.Equal(t, pipeline.OutcomeRejected, results[3].Outcome)
		assert.ErrorIs(t, results[3].Err, domain.ErrValidation)
		assert.Equal(t, pipeline.OutcomeUnchanged, results[4].Outcome)

		stored, err := repo.GetByID(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPlaced, stored.Status)
		assert.Equal(t, int64(1020), stored.AmountCents)
		assert.Equal(t, "London", stored.ShippingAddress.City)

		_, err = repo.GetByID(ctx, "o3")
		assert.ErrorIs(t, err, ports.ErrNotFound)

		t.Run("redelivery does not duplicate", func(t *testing.T) {
			results := handler.HandleBatch(ctx, batch[:2])
			assert.Equal(t, pipeline.OutcomeUnchanged, results[0].Outcome)
			assert.Equal(t, pipeline.OutcomeUnchanged, results[1].Outcome)

			all, err := repo.List(ctx, ports.ListFilter{PageSize: 100})
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	})

	t.Run("empty after filtering succeeds", func(t *testing.T) {
		repo := memory.NewRepository()
		handler := eventhandlers.NewOrderCreated(commands.ModeMaterialize, nil, repo, nil, discardLogger())

		broken := materializeEvent("o1", "u1")
		broken.Payload["amountCents"] = "ten"

		results := handler.HandleBatch(ctx, []events.Event{broken})
		require.Len(t, results, 1)
		assert.Equal(t, pipeline.OutcomeRejected, results[0].Outcome)
		var validationErr *events.ValidationError
		require.ErrorAs(t, results[0].Err, &validationErr)
		assert.Equal(t, "amountCents", validationErr.Field)
	})

	t.Run("store failure fails the pending items", func(t *testing.T) {
		storeErr := errors.New("connection reset")
		repo := &failingCreateMany{Repository: memory.NewRepository(), err: storeErr}
		handler := eventhandlers.NewOrderCreated(commands.ModeMaterialize, nil, repo, nil, discardLogger())

		results := handler.HandleBatch(ctx, []events.Event{materializeEvent("o1", "u1"), materializeEvent("o2", "u1")})
		for _, r := range results {
			assert.Equal(t, pipeline.OutcomeFailed, r.Outcome)
			assert.ErrorIs(t, r.Err, storeErr)
		}
	})
}

func TestStatusUpdated(t *testing.T) {
	ctx := context.Background()

	t.Run("applies and records the transition", func(t *testing.T) {
		repo := memory.NewRepository()
		seedOrder(t, repo, "o1", "u1")
		handler := eventhandlers.NewStatusUpdated(commands.NewApplyStatusCommandHandler(repo), nil, discardLogger())

		e := statusEvent("o1", "processing")
		e.Payload["actorId"] = "seller-1"

		outcome, err := handler.Handle(ctx, newRun(e, pipeline.NewMemoryCheckpoints()), e)
		require.NoError(t, err)
		assert.Equal(t, pipeline.OutcomeProcessed, outcome)

		history, err := repo.Transitions(ctx, "o1")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "seller-1", history[0].ActorID)
		assert.Equal(t, e.ID, history[0].EventID)
	})

	t.Run("terminal errors are rejected", func(t *testing.T) {
		repo := memory.NewRepository()
		seedOrder(t, repo, "o1", "u1")
		handler := eventhandlers.NewStatusUpdated(commands.NewApplyStatusCommandHandler(repo), nil, discardLogger())

		tests := []struct {
			name  string
			event events.Event
		}{
			{name: "unknown status", event: statusEvent("o1", "teleported")},
			{name: "missing order", event: statusEvent("missing", "shipped")},
			{name: "foreign owner", event: events.New(events.OrderStatusUpdated, events.Payload{"orderId": "o1", "status": "processing", "userId": "u2"})},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := handler.Handle(ctx, newRun(tt.event, pipeline.NewMemoryCheckpoints()), tt.event)
				assert.Equal(t, pipeline.OutcomeRejected, pipeline.Classify(err))
			})
		}
		assert.Equal(t, domain.StatusPlaced, statusOf(t, repo, "o1"))
	})

	t.Run("unreadable owner claim is never treated as absent", func(t *testing.T) {
		repo := memory.NewRepository()
		seedOrder(t, repo, "o1", "u1")
		applier := &countingApplier{inner: commands.NewApplyStatusCommandHandler(repo)}
		handler := eventhandlers.NewStatusUpdated(applier, nil, discardLogger())

		tests := []struct {
			name   string
			userID any
		}{
			{name: "number", userID: 42},
			{name: "float", userID: 42.0},
			{name: "json number", userID: json.Number("7")},
			{name: "array", userID: []any{"u2"}},
			{name: "object", userID: map[string]any{"id": "u2"}},
			{name: "empty string", userID: ""},
			{name: "null", userID: nil},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				e := events.New(events.OrderStatusUpdated, events.Payload{"orderId": "o1", "status": "processing", "userId": tt.userID})

				var validationErr *events.ValidationError
				require.ErrorAs(t, events.Validate(e), &validationErr)
				assert.Equal(t, "userId", validationErr.Field)

				outcome, err := handler.Handle(ctx, newRun(e, pipeline.NewMemoryCheckpoints()), e)
				require.Error(t, err)
				assert.Equal(t, pipeline.OutcomeRejected, outcome)
				assert.Equal(t, pipeline.OutcomeRejected, pipeline.Classify(err))
			})
		}
		assert.Equal(t, 0, applier.calls)
		assert.Equal(t, domain.StatusPlaced, statusOf(t, repo, "o1"))
	})

	t.Run("delivered order ignores a late processing event", func(t *testing.T) {
		repo := memory.NewRepository()
		seedOrder(t, repo, "o1", "u1")
		applier := commands.NewApplyStatusCommandHandler(repo)
		for _, s := range []string{"processing", "shipped", "delivered"} {
			_, err := applier.Handle(ctx, commands.ApplyStatusCommand{OrderID: "o1", Status: s})
			require.NoError(t, err)
		}

		handler := eventhandlers.NewStatusUpdated(applier, nil, discardLogger())
		e := statusEvent("o1", "processing")

		outcome, err := handler.Handle(ctx, newRun(e, pipeline.NewMemoryCheckpoints()), e)
		require.NoError(t, err)
		assert.Equal(t, pipeline.OutcomeRejected, outcome)
		assert.Equal(t, domain.StatusDelivered, statusOf(t, repo, "o1"))
	})

	t.Run("failed notification resumes without reapplying", func(t *testing.T) {
		repo := memory.NewRepository()
		seedOrder(t, repo, "o1", "u1")
		applier := &countingApplier{inner: commands.NewApplyStatusCommandHandler(repo)}

		fail := true
		publisher := &mockPublisher{
			publishFn: func(name events.Name, payload events.Payload) events.Receipt {
				if fail {
					return events.Receipt{Err: events.ErrTransport}
				}
				return events.Receipt{Accepted: true}
			},
		}
		handler := eventhandlers.NewStatusUpdated(applier, eventhandlers.NewNotifier(publisher), discardLogger())

		checkpoints := pipeline.NewMemoryCheckpoints()
		e := statusEvent("o1", "processing")

		_, err := handler.Handle(ctx, newRun(e, checkpoints), e)
		require.Error(t, err)
		assert.Equal(t, pipeline.OutcomeFailed, pipeline.Classify(err))

		fail = false
		outcome, err := handler.Handle(ctx, newRun(e.Retry(time.Now()), checkpoints), e.Retry(time.Now()))
		require.NoError(t, err)
		assert.Equal(t, pipeline.OutcomeProcessed, outcome)

		assert.Equal(t, 1, applier.calls)
		assert.Equal(t, []events.Name{events.OrderStatusChanged}, publisher.names())
	})
}

func TestOrderLifecycleThroughDispatcher(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	seedOrder(t, repo, "o1", "u1")

	applier := commands.NewApplyStatusCommandHandler(repo)
	publisher := &mockPublisher{}
	notifier := eventhandlers.NewNotifier(publisher)

	registry := pipeline.NewRegistry()
	require.NoError(t, registry.RegisterBatch(events.OrderCreated, eventhandlers.NewOrderCreated(commands.ModeAdvance, applier, repo, notifier, discardLogger())))
	require.NoError(t, registry.Register(events.OrderStatusUpdated, eventhandlers.NewStatusUpdated(applier, notifier, discardLogger())))

	dispatcher := pipeline.NewDispatcher(registry, pipeline.NewMemoryCheckpoints(), nil, discardLogger(), pipeline.DispatcherConfig{
		Concurrency:    4,
		HandlerTimeout: time.Second,
	})

	result := dispatcher.Dispatch(ctx, []events.Event{createdEvent("o1", "u1")})
	require.Equal(t, 1, result.Count(pipeline.OutcomeProcessed))

	result = dispatcher.Dispatch(ctx, []events.Event{statusEvent("o1", "shipped")})
	require.Equal(t, 1, result.Count(pipeline.OutcomeProcessed))

	assert.Equal(t, domain.StatusShipped, statusOf(t, repo, "o1"))

	history, err := repo.Transitions(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.StatusPlaced, history[0].From)
	assert.Equal(t, domain.StatusProcessing, history[0].To)
	assert.Equal(t, domain.StatusProcessing, history[1].From)
	assert.Equal(t, domain.StatusShipped, history[1].To)

	assert.Equal(t, []events.Name{events.OrderStatusChanged, events.OrderStatusChanged}, publisher.names())
}
