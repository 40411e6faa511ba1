package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dejobratic/orderflow/internal/config"
	"github.com/dejobratic/orderflow/internal/database"
	"github.com/dejobratic/orderflow/internal/events"
	"github.com/dejobratic/orderflow/internal/kafka"
	"github.com/dejobratic/orderflow/internal/orders/adapters"
	orderspostgres "github.com/dejobratic/orderflow/internal/orders/adapters/postgres"
	"github.com/dejobratic/orderflow/internal/orders/metrics"
	"github.com/dejobratic/orderflow/internal/pipeline"
	"github.com/dejobratic/orderflow/internal/pipeline/redisstore"
	"github.com/dejobratic/orderflow/internal/telemetry"
	"github.com/dejobratic/orderflow/internal/worker"
	_ "github.com/joho/godotenv/autoload"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Events.Transport != config.TransportKafka {
		return errors.New("the worker consumes from kafka: set KAFKA_BROKERS or EVENTS_TRANSPORT=kafka")
	}

	level, err := telemetry.ParseLevel(cfg.Telemetry.LogLevel)
	if err != nil {
		return err
	}
	logger := telemetry.NewLogger(level, slog.String("service", cfg.Service.Name+"-worker"))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    cfg.Service.Name + "-worker",
		ServiceVersion: cfg.Service.Version,
		Environment:    cfg.Service.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTelEndpoint,
		EnableTracing:  cfg.Telemetry.EnableTracing,
		EnableMetrics:  cfg.Telemetry.EnableMetrics,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	meter := tel.Meter(cfg.Service.Name)

	pool, err := database.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsPath, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	dbMetrics, err := database.NewMetrics(meter)
	if err != nil {
		return err
	}
	kafkaMetrics, err := kafka.NewMetrics(meter)
	if err != nil {
		return err
	}
	eventMetrics, err := events.NewMetrics(meter)
	if err != nil {
		return err
	}
	orderMetrics, err := metrics.NewMetrics(meter)
	if err != nil {
		return err
	}

	source := kafka.NewSource(kafka.ReaderConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
	}, kafkaMetrics, logger)
	transport := kafka.NewTransport(kafka.WriterConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.Topic,
		WriteTimeout: cfg.Events.PublishTimeout,
	}, kafkaMetrics)
	requeue := events.NewObservableTransport(transport, eventMetrics)

	var checkpoints pipeline.CheckpointStore
	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		store := redisstore.NewStore(client, cfg.Redis.Prefix, cfg.Redis.CheckpointTTL)
		if err := database.CheckHealth(ctx, database.Dependency{Name: "checkpoints", Pinger: store}); err != nil {
			return fmt.Errorf("checkpoint store: %w", err)
		}
		checkpoints = store
	} else {
		logger.Warn("REDIS_ADDR not set, step checkpoints are kept in memory")
	}

	consumer, err := worker.New(*cfg, worker.Deps{
		Source:      source,
		Requeue:     requeue,
		Repository:  adapters.NewObservableRepository(orderspostgres.NewRepository(pool), dbMetrics),
		Publisher:   adapters.NewObservablePublisher(events.NewPublisher(requeue, logger, cfg.Events.PublishTimeout), orderMetrics),
		Checkpoints: checkpoints,
		Meter:       meter,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	logger.Info("worker starting", "topic", cfg.Kafka.Topic, "group_id", cfg.Kafka.GroupID)
	runErr := consumer.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return errors.Join(
		runErr,
		source.Close(),
		transport.Close(),
		tel.Shutdown(shutdownCtx),
	)
}
