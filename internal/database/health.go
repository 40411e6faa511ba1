package database

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const healthTimeout = 2 * time.Second

// Pinger is anything that can prove its backing store is reachable, such as
// a pgx pool or a Redis-backed store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependency names a Pinger in readiness reports.
type Dependency struct {
	Name   string
	Pinger Pinger
}

// CheckHealth pings every dependency within a shared deadline and joins the
// failures, each prefixed with the dependency name.
func CheckHealth(ctx context.Context, deps ...Dependency) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	var errs []error
	for _, dep := range deps {
		if err := dep.Pinger.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dep.Name, err))
		}
	}
	return errors.Join(errs...)
}
