package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dejobratic/orderflow/internal/events"
	kafkago "github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Source reads events as a consumer group member. Offsets are committed
// explicitly after the pipeline has settled a batch.
type Source struct {
	reader  messageReader
	topic   string
	metrics *Metrics
	logger  *slog.Logger
}

type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

func NewSource(cfg ReaderConfig, metrics *Metrics, logger *slog.Logger) *Source {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newSource(reader, cfg.Topic, metrics, logger)
}

func newSource(reader messageReader, topic string, metrics *Metrics, logger *slog.Logger) *Source {
	return &Source{reader: reader, topic: topic, metrics: metrics, logger: logger}
}

// Fetch returns the next decodable event. Messages that cannot be decoded
// are committed and skipped; redelivering them would never succeed.
func (s *Source) Fetch(ctx context.Context) (events.Delivery, error) {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return events.Delivery{}, events.ErrSourceClosed
			}
			return events.Delivery{}, err
		}

		e, err := Decode(msg)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable message",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			s.metrics.RecordConsumed(ctx, s.topic, false)
			if err := s.reader.CommitMessages(ctx, msg); err != nil {
				return events.Delivery{}, fmt.Errorf("commit undecodable message: %w", err)
			}
			continue
		}

		s.metrics.RecordConsumed(ctx, s.topic, true)
		return events.Delivery{Event: e, Ack: msg}, nil
	}
}

// Commit acknowledges the Kafka messages behind deliveries. Deliveries
// without a Kafka handle are ignored.
func (s *Source) Commit(ctx context.Context, deliveries ...events.Delivery) error {
	msgs := make([]kafkago.Message, 0, len(deliveries))
	for _, d := range deliveries {
		if msg, ok := d.Ack.(kafkago.Message); ok {
			msgs = append(msgs, msg)
		}
	}
	if len(msgs) == 0 {
		return nil
	}

	err := s.reader.CommitMessages(ctx, msgs...)
	s.metrics.RecordCommit(ctx, s.topic, len(msgs), err == nil)
	if err != nil {
		return fmt.Errorf("commit %d messages: %w", len(msgs), err)
	}
	return nil
}

func (s *Source) Close() error {
	return s.reader.Close()
}
