package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dejobratic/orderflow/internal/config"
	"github.com/dejobratic/orderflow/internal/database"
	"github.com/dejobratic/orderflow/internal/events"
	eventsmemory "github.com/dejobratic/orderflow/internal/events/memory"
	idemmemory "github.com/dejobratic/orderflow/internal/idempotency/memory"
	idempostgres "github.com/dejobratic/orderflow/internal/idempotency/postgres"
	idemredis "github.com/dejobratic/orderflow/internal/idempotency/redis"
	"github.com/dejobratic/orderflow/internal/kafka"
	"github.com/dejobratic/orderflow/internal/orders/adapters"
	httpadapter "github.com/dejobratic/orderflow/internal/orders/adapters/http"
	orderspostgres "github.com/dejobratic/orderflow/internal/orders/adapters/postgres"
	ordersapp "github.com/dejobratic/orderflow/internal/orders/app"
	"github.com/dejobratic/orderflow/internal/orders/app/commands"
	"github.com/dejobratic/orderflow/internal/orders/metrics"
	"github.com/dejobratic/orderflow/internal/orders/ports"
	"github.com/dejobratic/orderflow/internal/pipeline"
	"github.com/dejobratic/orderflow/internal/pipeline/redisstore"
	"github.com/dejobratic/orderflow/internal/telemetry"
	"github.com/dejobratic/orderflow/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const idempotencyPurgeInterval = time.Hour

type sendCloser interface {
	events.Transport
	io.Closer
}

func main() {
	if err := run(); err != nil {
		slog.Error("api exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := telemetry.ParseLevel(cfg.Telemetry.LogLevel)
	if err != nil {
		return err
	}
	logger := telemetry.NewLogger(level, slog.String("service", cfg.Service.Name+"-api"))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    cfg.Service.Name + "-api",
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
	eventMetrics, err := events.NewMetrics(meter)
	if err != nil {
		return err
	}
	orderMetrics, err := metrics.NewMetrics(meter)
	if err != nil {
		return err
	}
	httpMetrics, err := httpadapter.NewMetrics(meter)
	if err != nil {
		return err
	}

	var redisClient *goredis.Client
	if cfg.Redis.Addr != "" {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	kafkaMetrics, err := kafka.NewMetrics(meter)
	if err != nil {
		return err
	}

	transport, memTransport, err := openTransport(cfg, kafkaMetrics)
	if err != nil {
		return err
	}

	publisher := adapters.NewObservablePublisher(
		events.NewPublisher(events.NewObservableTransport(transport, eventMetrics), logger, cfg.Events.PublishTimeout),
		orderMetrics,
	)
	repo := adapters.NewObservableRepository(orderspostgres.NewRepository(pool), dbMetrics)

	idemStore, readiness, err := openIdempotencyStore(cfg, pool, redisClient)
	if err != nil {
		return err
	}

	mode, err := commands.ParseCreationMode(cfg.Orders.CreationMode)
	if err != nil {
		return err
	}

	service := ordersapp.NewService(repo, orderspostgres.NewCatalog(pool), publisher, idemStore, mode, logger, orderMetrics)

	router := httpadapter.NewRouter(httpadapter.NewHandler(service, logger), httpMetrics, logger)
	registerHealthRoutes(router, cfg.HTTP.MetricsPath, readiness)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server starting", "port", cfg.HTTP.Port, "creation_mode", mode, "transport", cfg.Events.Transport)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownGrace)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		logger.Info("http server stopped")
		return nil
	})

	// With the in-process transport nothing else can consume, so the API
	// runs the consumer itself.
	if memTransport != nil {
		var checkpoints pipeline.CheckpointStore
		if redisClient != nil {
			checkpoints = redisstore.NewStore(redisClient, cfg.Redis.Prefix, cfg.Redis.CheckpointTTL)
		}
		consumer, err := worker.New(*cfg, worker.Deps{
			Source:      memTransport,
			Requeue:     memTransport,
			Repository:  repo,
			Publisher:   publisher,
			Checkpoints: checkpoints,
			Meter:       meter,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if purger, ok := idemStore.(*idempostgres.Store); ok {
		g.Go(func() error {
			purgeIdempotencyKeys(gctx, purger, logger)
			return nil
		})
	}

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return errors.Join(
		runErr,
		transport.Close(),
		tel.Shutdown(shutdownCtx),
	)
}

// openTransport returns the publishing transport. The second result is set
// when events stay in process.
func openTransport(cfg *config.Config, kafkaMetrics *kafka.Metrics) (sendCloser, *eventsmemory.Transport, error) {
	switch cfg.Events.Transport {
	case config.TransportKafka:
		return kafka.NewTransport(kafka.WriterConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Events.PublishTimeout,
		}, kafkaMetrics), nil, nil
	case config.TransportMemory:
		transport := eventsmemory.NewTransport(cfg.Events.MemoryBuffer)
		return transport, transport, nil
	default:
		return nil, nil, fmt.Errorf("unknown event transport %q", cfg.Events.Transport)
	}
}

func openIdempotencyStore(cfg *config.Config, pool *pgxpool.Pool, redisClient *goredis.Client) (ports.IdempotencyStore, []database.Dependency, error) {
	deps := []database.Dependency{{Name: "postgres", Pinger: pool}}

	switch cfg.Orders.IdempotencyStore {
	case "redis":
		if redisClient == nil {
			return nil, nil, errors.New("redis idempotency store requires REDIS_ADDR")
		}
		store := idemredis.NewStore(redisClient, cfg.Redis.Prefix, cfg.Orders.IdempotencyTTL)
		return store, append(deps, database.Dependency{Name: "redis", Pinger: store}), nil
	case "memory":
		return idemmemory.NewStore(cfg.Orders.IdempotencyTTL), deps, nil
	default:
		return idempostgres.NewStore(pool, cfg.Orders.IdempotencyTTL), deps, nil
	}
}

func purgeIdempotencyKeys(ctx context.Context, store *idempostgres.Store, logger *slog.Logger) {
	ticker := time.NewTicker(idempotencyPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := store.Purge(ctx)
			if err != nil {
				logger.WarnContext(ctx, "failed to purge idempotency keys", "error", err)
				continue
			}
			if purged > 0 {
				logger.InfoContext(ctx, "purged idempotency keys", "count", purged)
			}
		}
	}
}

func registerHealthRoutes(r chi.Router, metricsPath string, deps []database.Dependency) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.CheckHealth(r.Context(), deps...); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	// Metrics are pushed over OTLP; the path only confirms where they go.
	r.Get(metricsPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("# metrics are exported over OTLP\n"))
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
