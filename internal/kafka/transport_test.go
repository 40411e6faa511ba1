package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dejobratic/orderflow/internal/events"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	written []kafkago.Message
	writeFn func(ctx context.Context, msgs ...kafkago.Message) error
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if m.writeFn != nil {
		if err := m.writeFn(ctx, msgs...); err != nil {
			return err
		}
	}
	m.written = append(m.written, msgs...)
	return nil
}

func (m *mockWriter) Close() error { return nil }

type mockReader struct {
	queue     []kafkago.Message
	committed []kafkago.Message
	commitFn  func(ctx context.Context, msgs ...kafkago.Message) error
}

func (m *mockReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	if len(m.queue) == 0 {
		return kafkago.Message{}, io.EOF
	}
	msg := m.queue[0]
	m.queue = m.queue[1:]
	return msg, nil
}

func (m *mockReader) CommitMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if m.commitFn != nil {
		if err := m.commitFn(ctx, msgs...); err != nil {
			return err
		}
	}
	m.committed = append(m.committed, msgs...)
	return nil
}

func (m *mockReader) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTransportSend(t *testing.T) {
	t.Run("keys messages by order id", func(t *testing.T) {
		writer := &mockWriter{}
		metrics, _ := newTestMetrics(t)
		transport := newTransport(writer, "order-events", metrics)

		e := events.New(events.OrderStatusUpdated, events.Payload{"orderId": "o1", "status": "shipped"})
		require.NoError(t, transport.Send(context.Background(), e))

		require.Len(t, writer.written, 1)
		msg := writer.written[0]
		assert.Equal(t, "o1", string(msg.Key))

		headers := map[string]string{}
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, string(events.OrderStatusUpdated), headers[headerEventName])
		assert.Equal(t, e.ID, headers[headerEventID])
		assert.Equal(t, "1", headers[headerEventAttempt])
	})

	t.Run("wraps writer failures as transport errors", func(t *testing.T) {
		writerErr := errors.New("leader not available")
		writer := &mockWriter{
			writeFn: func(ctx context.Context, msgs ...kafkago.Message) error { return writerErr },
		}
		transport := newTransport(writer, "order-events", nil)

		err := transport.Send(context.Background(), events.New(events.OrderCreated, events.Payload{"orderId": "o1", "userId": "u1"}))
		assert.ErrorIs(t, err, events.ErrTransport)
		assert.ErrorIs(t, err, writerErr)
	})
}

func TestSourceFetchAndCommit(t *testing.T) {
	e := events.New(events.OrderCreated, events.Payload{"orderId": "o1", "userId": "u1"}).Retry(time.Now())
	good, err := Encode(e)
	require.NoError(t, err)

	reader := &mockReader{queue: []kafkago.Message{
		{Value: []byte("not json"), Offset: 7},
		good,
	}}
	source := newSource(reader, "order-events", nil, discardLogger())
	ctx := context.Background()

	delivery, err := source.Fetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, e.ID, delivery.Event.ID)
	assert.Equal(t, 2, delivery.Event.Attempt)
	assert.Equal(t, "o1", delivery.Event.OrderID())

	require.Len(t, reader.committed, 1, "undecodable message should be committed and skipped")

	require.NoError(t, source.Commit(ctx, delivery, events.Delivery{Event: e}))
	assert.Len(t, reader.committed, 2)

	_, err = source.Fetch(ctx)
	assert.ErrorIs(t, err, events.ErrSourceClosed)
}

func TestDecodeFallsBackToHeaders(t *testing.T) {
	msg := kafkago.Message{
		Value: []byte(`{"payload":{"orderId":"o9","status":"delivered"}}`),
		Headers: []kafkago.Header{
			{Key: headerEventName, Value: []byte(events.OrderStatusUpdated)},
			{Key: headerEventID, Value: []byte("evt-1")},
			{Key: headerEventAttempt, Value: []byte("3")},
		},
	}

	e, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", e.ID)
	assert.Equal(t, events.OrderStatusUpdated, e.Name)
	assert.Equal(t, 3, e.Attempt)
	assert.NoError(t, events.Validate(e))
}
