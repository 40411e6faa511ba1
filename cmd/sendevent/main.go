// Command sendevent publishes a single named event to the configured Kafka
// topic, for example:
//
//	sendevent -name order/created -payload '{"orderId":"...","userId":"..."}'
//
// It exits 0 when the transport accepted the event.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dejobratic/orderflow/internal/config"
	"github.com/dejobratic/orderflow/internal/events"
	"github.com/dejobratic/orderflow/internal/kafka"
	"github.com/dejobratic/orderflow/internal/telemetry"
	_ "github.com/joho/godotenv/autoload"
	"go.opentelemetry.io/otel/metric/noop"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sendevent", flag.ContinueOnError)
	fs.SetOutput(stderr)
	name := fs.String("name", "", "event name, e.g. order/created")
	rawPayload := fs.String("payload", "{}", "event payload as a JSON object")
	brokers := fs.String("brokers", "", "comma separated Kafka brokers (default KAFKA_BROKERS)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	payload, err := parsePayload(*rawPayload)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	cfg, err := config.Load(config.WithKafkaBrokers(*brokers))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(cfg.Kafka.Brokers) == 0 {
		fmt.Fprintln(stderr, "no Kafka brokers configured: pass -brokers or set KAFKA_BROKERS")
		return 1
	}

	level, err := telemetry.ParseLevel(cfg.Telemetry.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	logger := telemetry.NewLogger(level, slog.String("service", "sendevent"))

	kafkaMetrics, err := kafka.NewMetrics(noop.NewMeterProvider().Meter("sendevent"))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	transport := kafka.NewTransport(kafka.WriterConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.Topic,
		WriteTimeout: cfg.Events.PublishTimeout,
	}, kafkaMetrics)

	receipt := events.NewPublisher(transport, logger, cfg.Events.PublishTimeout).
		Publish(context.Background(), events.Name(*name), payload)

	if err := transport.Close(); err != nil && receipt.Accepted {
		receipt.Accepted = false
		receipt.Err = err
	}

	if !receipt.Accepted {
		fmt.Fprintf(stderr, "event %s not accepted: %v\n", receipt.EventID, receipt.Err)
		return 1
	}
	fmt.Fprintf(stdout, "event %s accepted: %s\n", receipt.EventID, *name)
	return 0
}

func parsePayload(raw string) (events.Payload, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var payload events.Payload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("invalid -payload: %w", err)
	}
	if payload == nil {
		return nil, errors.New("invalid -payload: must be a JSON object")
	}
	return payload, nil
}
