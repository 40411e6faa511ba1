package database

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckHealth(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	t.Run("all dependencies reachable", func(t *testing.T) {
		if err := CheckHealth(context.Background(), Dependency{Name: "postgres", Pinger: ok}); err != nil {
			t.Fatalf("CheckHealth() failed: %v", err)
		}
	})

	t.Run("reports every failing dependency by name", func(t *testing.T) {
		err := CheckHealth(context.Background(),
			Dependency{Name: "postgres", Pinger: down},
			Dependency{Name: "redis", Pinger: ok},
			Dependency{Name: "checkpoints", Pinger: down},
		)
		if err == nil {
			t.Fatal("expected an error")
		}
		msg := err.Error()
		if !strings.Contains(msg, "postgres: connection refused") || !strings.Contains(msg, "checkpoints: connection refused") {
			t.Errorf("unexpected error: %v", msg)
		}
		if strings.Contains(msg, "redis") {
			t.Errorf("healthy dependency reported: %v", msg)
		}
	})

	t.Run("applies a deadline", func(t *testing.T) {
		var hasDeadline bool
		pinger := pingFunc(func(ctx context.Context) error {
			_, hasDeadline = ctx.Deadline()
			return nil
		})
		_ = CheckHealth(context.Background(), Dependency{Name: "cache", Pinger: pinger})
		if !hasDeadline {
			t.Error("expected ping context to carry a deadline")
		}
	})
}
