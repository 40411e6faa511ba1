package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/dejobratic/orderflow/internal/events"
)

const (
	defaultBatchSize = 100
	defaultBatchWait = time.Second
)

type BatcherConfig struct {
	MaxSize int
	MaxWait time.Duration
}

// Batcher groups deliveries from a Source. A batch closes at MaxSize events
// or MaxWait after its first event, whichever comes first.
type Batcher struct {
	source  events.Source
	maxSize int
	maxWait time.Duration
	closed  bool
}

func NewBatcher(source events.Source, cfg BatcherConfig) *Batcher {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultBatchSize
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultBatchWait
	}
	return &Batcher{source: source, maxSize: cfg.MaxSize, maxWait: cfg.MaxWait}
}

// Next blocks for the first delivery, then collects more until the batch
// closes. A partial batch is returned when ctx ends or the source closes;
// the following call reports the error.
func (b *Batcher) Next(ctx context.Context) ([]events.Delivery, error) {
	if b.closed {
		return nil, events.ErrSourceClosed
	}

	first, err := b.source.Fetch(ctx)
	if err != nil {
		if errors.Is(err, events.ErrSourceClosed) {
			b.closed = true
		}
		return nil, err
	}

	batch := []events.Delivery{first}

	windowCtx, cancel := context.WithTimeout(ctx, b.maxWait)
	defer cancel()

	for len(batch) < b.maxSize {
		d, err := b.source.Fetch(windowCtx)
		if err != nil {
			if errors.Is(err, events.ErrSourceClosed) {
				b.closed = true
			}
			break
		}
		batch = append(batch, d)
	}

	return batch, nil
}
