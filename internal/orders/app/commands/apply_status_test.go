package commands_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dejobratic/orderflow/internal/auth"
	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

func seed(t *testing.T, repo ports.OrderRepository, id, owner string) {
	t.Helper()
	order, err := domain.NewOrder(domain.NewOrderParams{
		ID:              id,
		OwnerID:         owner,
		LineItems:       []domain.LineItem{{ProductRef: "sku-1", Quantity: 1}},
		AmountCents:     510,
		ShippingAddress: domain.Address{FullName: "Ada Lovelace", City: "London"},
	})
	if err != nil {
		t.Fatalf("build order: %v", err)
	}
	if err := repo.Create(context.Background(), *order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func TestApplyStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("moves the order and records the transition", func(t *testing.T) {
		repo := newMockRepository()
		seed(t, repo, "o1", "u1")
		handler := commands.NewApplyStatusCommandHandler(repo)

		change, err := handler.Handle(ctx, commands.ApplyStatusCommand{
			OrderID:           "o1",
			Status:            "processing",
			RequestingOwnerID: "u1",
			EventID:           "evt-1",
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !change.Changed || change.Previous != domain.StatusPlaced || change.Current != domain.StatusProcessing {
			t.Errorf("unexpected change: %+v", change)
		}

		history, err := repo.Transitions(ctx, "o1")
		if err != nil {
			t.Fatalf("transitions: %v", err)
		}
		if len(history) != 1 || history[0].EventID != "evt-1" {
			t.Errorf("unexpected history: %+v", history)
		}
	})

	t.Run("repeating a status is a no-op", func(t *testing.T) {
		repo := newMockRepository()
		seed(t, repo, "o1", "u1")
		handler := commands.NewApplyStatusCommandHandler(repo)

		cmd := commands.ApplyStatusCommand{OrderID: "o1", Status: "processing"}
		if _, err := handler.Handle(ctx, cmd); err != nil {
			t.Fatalf("first apply: %v", err)
		}
		change, err := handler.Handle(ctx, cmd)
		if err != nil {
			t.Fatalf("second apply: %v", err)
		}
		if change.Changed || change.Rejected {
			t.Errorf("expected unchanged, got %+v", change)
		}

		history, _ := repo.Transitions(ctx, "o1")
		if len(history) != 1 {
			t.Errorf("expected a single transition, got %d", len(history))
		}
	})

	t.Run("moves outside the table are rejected without error", func(t *testing.T) {
		repo := newMockRepository()
		seed(t, repo, "o1", "u1")
		handler := commands.NewApplyStatusCommandHandler(repo)

		for _, s := range []string{"processing", "shipped", "delivered"} {
			if _, err := handler.Handle(ctx, commands.ApplyStatusCommand{OrderID: "o1", Status: s}); err != nil {
				t.Fatalf("apply %s: %v", s, err)
			}
		}

		change, err := handler.Handle(ctx, commands.ApplyStatusCommand{OrderID: "o1", Status: "processing"})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if change.Changed || !change.Rejected || change.Current != domain.StatusDelivered {
			t.Errorf("expected rejected no-op on delivered order, got %+v", change)
		}
	})

	t.Run("returns typed errors", func(t *testing.T) {
		repo := newMockRepository()
		seed(t, repo, "o1", "u1")
		handler := commands.NewApplyStatusCommandHandler(repo)

		tests := []struct {
			name string
			cmd  commands.ApplyStatusCommand
			want error
		}{
			{name: "missing order id", cmd: commands.ApplyStatusCommand{Status: "shipped"}, want: domain.ErrValidation},
			{name: "unknown status", cmd: commands.ApplyStatusCommand{OrderID: "o1", Status: "lost"}, want: domain.ErrValidation},
			{name: "absent order", cmd: commands.ApplyStatusCommand{OrderID: "o404", Status: "shipped"}, want: ports.ErrNotFound},
			{name: "foreign owner", cmd: commands.ApplyStatusCommand{OrderID: "o1", Status: "processing", RequestingOwnerID: "u2"}, want: auth.ErrUnauthorized},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := handler.Handle(ctx, tt.cmd); !errors.Is(err, tt.want) {
					t.Errorf("expected %v, got %v", tt.want, err)
				}
			})
		}

		order, _ := repo.GetByID(ctx, "o1")
		if order.Status != domain.StatusPlaced {
			t.Errorf("expected order untouched, got %s", order.Status)
		}
	})

	t.Run("retries on version conflict", func(t *testing.T) {
		repo := newMockRepository()
		seed(t, repo, "o1", "u1")

		conflicts := 1
		repo.saveFn = func(ctx context.Context, order domain.Order, transition domain.Transition) error {
			if conflicts > 0 {
				conflicts--
				return ports.ErrConflict
			}
			return repo.Repository.Save(ctx, order, transition)
		}
		handler := commands.NewApplyStatusCommandHandler(repo)

		change, err := handler.Handle(ctx, commands.ApplyStatusCommand{OrderID: "o1", Status: "cancelled"})
		if err != nil {
			t.Fatalf("expected retry to succeed, got %v", err)
		}
		if !change.Changed {
			t.Errorf("expected change, got %+v", change)
		}
	})

	t.Run("gives up after repeated conflicts", func(t *testing.T) {
		repo := newMockRepository()
		seed(t, repo, "o1", "u1")

		saves := 0
		repo.saveFn = func(ctx context.Context, order domain.Order, transition domain.Transition) error {
			saves++
			return ports.ErrConflict
		}
		handler := commands.NewApplyStatusCommandHandler(repo)

		_, err := handler.Handle(ctx, commands.ApplyStatusCommand{OrderID: "o1", Status: "cancelled"})
		if !errors.Is(err, ports.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
		if saves != 3 {
			t.Errorf("expected 3 save attempts, got %d", saves)
		}
	})
}
