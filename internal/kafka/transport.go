// Package kafka carries order events over Kafka using segmentio/kafka-go.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/dejobratic/orderflow/internal/events"
	kafkago "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Transport publishes events to a single topic.
type Transport struct {
	writer  messageWriter
	topic   string
	metrics *Metrics
}

type WriterConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// NewTransport builds a transport with a hash balancer on the message key.
func NewTransport(cfg WriterConfig, metrics *Metrics) *Transport {
	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return newTransport(writer, cfg.Topic, metrics)
}

func newTransport(writer messageWriter, topic string, metrics *Metrics) *Transport {
	return &Transport{writer: writer, topic: topic, metrics: metrics}
}

func (t *Transport) Send(ctx context.Context, evs ...events.Event) error {
	if len(evs) == 0 {
		return nil
	}

	msgs := make([]kafkago.Message, 0, len(evs))
	for _, e := range evs {
		msg, err := Encode(e)
		if err != nil {
			return fmt.Errorf("%w: %w", events.ErrTransport, err)
		}
		msgs = append(msgs, msg)
	}

	start := time.Now()
	err := t.writer.WriteMessages(ctx, msgs...)
	t.metrics.RecordPublish(ctx, t.topic, len(msgs), time.Since(start).Seconds(), err == nil)
	if err != nil {
		return fmt.Errorf("%w: write to %s: %w", events.ErrTransport, t.topic, err)
	}
	return nil
}

func (t *Transport) Close() error {
	return t.writer.Close()
}
