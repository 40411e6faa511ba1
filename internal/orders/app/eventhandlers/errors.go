// Package eventhandlers applies order events delivered by the pipeline.
package eventhandlers

import (
	"errors"

	"github.com/dejobratic/orderflow/internal/auth"
	"github.com/dejobratic/orderflow/internal/orders/domain"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/dejobratic/orderflow/internal/pipeline"
)

// terminal marks errors that a redelivery cannot fix.
func terminal(err error) error {
	switch {
	case errors.Is(err, ports.ErrNotFound),
		errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, domain.ErrValidation):
		return pipeline.Reject(err)
	default:
		return err
	}
}

func outcomeOf(change domain.StatusChange) pipeline.Outcome {
	switch {
	case change.Changed:
		return pipeline.OutcomeProcessed
	case change.Rejected:
		return pipeline.OutcomeRejected
	default:
		return pipeline.OutcomeUnchanged
	}
}
