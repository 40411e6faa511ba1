package commands_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dejobratic/orderflow/internal/auth"
	"github.com/dejobratic/orderflow/internal/events"
	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/domain"
)

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	seller := auth.Principal{UserID: "seller-1", Roles: []string{auth.RoleSeller}}

	t.Run("seller update is applied then announced", func(t *testing.T) {
		repo := newMockRepository()
		seed(t, repo, "o1", "u1")
		publisher := &mockPublisher{}
		handler := commands.NewUpdateStatusCommandHandler(commands.NewApplyStatusCommandHandler(repo), publisher)

		result, err := handler.Handle(ctx, commands.UpdateStatusCommand{OrderID: "o1", Status: "processing", Principal: seller})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !result.Change.Changed || !result.Receipt.Accepted {
			t.Errorf("unexpected result: %+v", result)
		}

		if len(publisher.published) != 1 {
			t.Fatalf("expected 1 event, got %d", len(publisher.published))
		}
		payload := publisher.published[0].Payload
		for key, want := range map[string]string{
			"orderId":        "o1",
			"status":         "processing",
			"previousStatus": "placed",
			"userId":         "u1",
			"actorId":        "seller-1",
		} {
			if got, _ := payload.String(key); got != want {
				t.Errorf("payload %s = %q, want %q", key, got, want)
			}
		}

		history, _ := repo.Transitions(ctx, "o1")
		if len(history) != 1 || history[0].ActorID != "seller-1" {
			t.Errorf("expected transition attributed to the seller, got %+v", history)
		}
	})

	t.Run("unchanged update publishes nothing", func(t *testing.T) {
		repo := newMockRepository()
		seed(t, repo, "o1", "u1")
		publisher := &mockPublisher{}
		handler := commands.NewUpdateStatusCommandHandler(commands.NewApplyStatusCommandHandler(repo), publisher)

		result, err := handler.Handle(ctx, commands.UpdateStatusCommand{OrderID: "o1", Status: "placed", Principal: seller})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.Change.Changed || len(publisher.published) != 0 {
			t.Errorf("expected no event, got %d", len(publisher.published))
		}
	})

	t.Run("non-seller is refused", func(t *testing.T) {
		repo := newMockRepository()
		seed(t, repo, "o1", "u1")
		publisher := &mockPublisher{}
		handler := commands.NewUpdateStatusCommandHandler(commands.NewApplyStatusCommandHandler(repo), publisher)

		tests := []struct {
			name      string
			principal auth.Principal
			want      error
		}{
			{name: "anonymous", principal: auth.Principal{}, want: auth.ErrUnauthenticated},
			{name: "owner", principal: auth.Principal{UserID: "u1"}, want: auth.ErrUnauthorized},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := handler.Handle(ctx, commands.UpdateStatusCommand{OrderID: "o1", Status: "shipped", Principal: tt.principal})
				if !errors.Is(err, tt.want) {
					t.Errorf("expected %v, got %v", tt.want, err)
				}
			})
		}

		order, _ := repo.GetByID(ctx, "o1")
		if order.Status != domain.StatusPlaced || len(publisher.published) != 0 {
			t.Error("expected order untouched and nothing published")
		}
	})

	t.Run("publish failure does not undo the transition", func(t *testing.T) {
		repo := newMockRepository()
		seed(t, repo, "o1", "u1")
		publisher := &mockPublisher{
			publishFn: func(ctx context.Context, name events.Name, payload events.Payload) events.Receipt {
				return events.Receipt{Err: events.ErrTransport}
			},
		}
		handler := commands.NewUpdateStatusCommandHandler(commands.NewApplyStatusCommandHandler(repo), publisher)

		result, err := handler.Handle(ctx, commands.UpdateStatusCommand{OrderID: "o1", Status: "cancelled", Principal: seller})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.Receipt.Accepted {
			t.Error("expected degraded receipt")
		}
		order, _ := repo.GetByID(ctx, "o1")
		if order.Status != domain.StatusCancelled {
			t.Errorf("expected cancelled, got %s", order.Status)
		}
	})
}
