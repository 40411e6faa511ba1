package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures runtime configuration shared by the API and the worker.
type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Events    EventsConfig
	Worker    WorkerConfig
	Orders    OrdersConfig
	Telemetry TelemetryConfig
	Service   ServiceConfig
}

type HTTPConfig struct {
	Port          int
	MetricsPath   string
	ShutdownGrace int
}

type DatabaseConfig struct {
	URL            string
	AutoMigrate    bool
	MigrationsPath string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// RedisConfig is optional; an empty Addr keeps step checkpoints in memory.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	Prefix        string
	CheckpointTTL time.Duration
}

// EventsConfig selects the transport behind the publisher.
type EventsConfig struct {
	Transport           string
	PublishTimeout      time.Duration
	NotifyStatusChanges bool
	MemoryBuffer        int
}

type WorkerConfig struct {
	Concurrency    int
	BatchSize      int
	BatchWait      time.Duration
	HandlerTimeout time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

type OrdersConfig struct {
	CreationMode     string
	IdempotencyStore string // postgres, redis or memory
	IdempotencyTTL   time.Duration
}

type TelemetryConfig struct {
	LogLevel      string
	OTelEndpoint  string
	EnableTracing bool
	EnableMetrics bool
	SampleRate    float64
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

const (
	TransportKafka  = "kafka"
	TransportMemory = "memory"
)

const (
	defaultHTTPPort         = 8080
	defaultMetricsPath      = "/metrics"
	defaultShutdownGrace    = 15
	defaultMigrationsPath   = ""
	defaultAutoMigrate      = true
	defaultServiceName      = "orderflow"
	defaultServiceVersion   = "0.1.0"
	defaultEnvironment      = "development"
	defaultLogLevel         = "info"
	defaultOTelSampleRate   = 1.0
	defaultKafkaTopic       = "orderflow.events"
	defaultKafkaGroupID     = "orderflow-worker"
	defaultRedisPrefix      = "orderflow"
	defaultCheckpointTTL    = 24 * time.Hour
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultPublishTimeout   = 5 * time.Second
	defaultMemoryBuffer     = 1024
	defaultConcurrency      = 8
	defaultBatchSize        = 100
	defaultBatchWait        = time.Second
	defaultHandlerTimeout   = 30 * time.Second
	defaultMaxAttempts      = 5
	defaultRetryBaseDelay   = time.Second
	defaultRetryMaxDelay    = 5 * time.Minute
	defaultCreationMode     = "advance"
	defaultIdempotencyStore = "postgres"
)

type options struct {
	brokers []string
}

// Option overrides a value read from the environment. Overrides are applied
// before the configuration is validated.
type Option func(*options)

// WithKafkaBrokers replaces KAFKA_BROKERS with a comma separated list. A blank
// list keeps the environment value.
func WithKafkaBrokers(list string) Option {
	return func(o *options) {
		o.brokers = ParseBrokers(list)
	}
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(list string) []string {
	var brokers []string
	for _, broker := range strings.Split(list, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// Load reads configuration from environment variables, applying defaults when needed.
func Load(opts ...Option) (*Config, error) {
	httpCfg, err := loadHTTPConfig()
	if err != nil {
		return nil, fmt.Errorf("loading HTTP config: %w", err)
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		return nil, fmt.Errorf("loading redis config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	kafkaCfg := loadKafkaConfig()
	if len(o.brokers) > 0 {
		kafkaCfg.Brokers = o.brokers
	}

	eventsCfg, err := loadEventsConfig(len(kafkaCfg.Brokers) > 0)
	if err != nil {
		return nil, fmt.Errorf("loading events config: %w", err)
	}

	workerCfg, err := loadWorkerConfig()
	if err != nil {
		return nil, fmt.Errorf("loading worker config: %w", err)
	}

	ordersCfg, err := loadOrdersConfig()
	if err != nil {
		return nil, fmt.Errorf("loading orders config: %w", err)
	}

	telCfg, err := loadTelemetryConfig()
	if err != nil {
		return nil, fmt.Errorf("loading telemetry config: %w", err)
	}

	if eventsCfg.Transport == TransportKafka && len(kafkaCfg.Brokers) == 0 {
		return nil, fmt.Errorf("loading kafka config: KAFKA_BROKERS is required when EVENTS_TRANSPORT=kafka")
	}

	return &Config{
		HTTP:      httpCfg,
		Database:  loadDatabaseConfig(),
		Kafka:     kafkaCfg,
		Redis:     redisCfg,
		Events:    eventsCfg,
		Worker:    workerCfg,
		Orders:    ordersCfg,
		Telemetry: telCfg,
		Service:   loadServiceConfig(),
	}, nil
}

func loadHTTPConfig() (HTTPConfig, error) {
	port, err := getIntEnv("API_HTTP_PORT", defaultHTTPPort)
	if err != nil {
		return HTTPConfig{}, err
	}

	shutdownGrace, err := getIntEnv("API_SHUTDOWN_GRACE_SECONDS", defaultShutdownGrace)
	if err != nil {
		return HTTPConfig{}, err
	}

	return HTTPConfig{
		Port:          port,
		MetricsPath:   getEnvOrDefault("API_METRICS_PATH", defaultMetricsPath),
		ShutdownGrace: shutdownGrace,
	}, nil
}

func loadDatabaseConfig() DatabaseConfig {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		databaseURL = buildDatabaseURL()
	}

	return DatabaseConfig{
		URL:            databaseURL,
		AutoMigrate:    getBoolEnv("AUTO_MIGRATE", defaultAutoMigrate),
		MigrationsPath: getEnvOrDefault("MIGRATIONS_PATH", defaultMigrationsPath),
	}
}

func loadKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers: ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		Topic:   getEnvOrDefault("KAFKA_TOPIC", defaultKafkaTopic),
		GroupID: getEnvOrDefault("KAFKA_GROUP_ID", defaultKafkaGroupID),
	}
}

func loadRedisConfig() (RedisConfig, error) {
	db, err := getIntEnv("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	checkpointTTL, err := getDurationEnv("REDIS_CHECKPOINT_TTL", defaultCheckpointTTL)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Addr:          os.Getenv("REDIS_ADDR"),
		Password:      os.Getenv("REDIS_PASSWORD"),
		DB:            db,
		Prefix:        getEnvOrDefault("REDIS_PREFIX", defaultRedisPrefix),
		CheckpointTTL: checkpointTTL,
	}, nil
}

// loadEventsConfig defaults to Kafka when brokers are configured and to the
// in-process transport otherwise.
func loadEventsConfig(haveBrokers bool) (EventsConfig, error) {
	defaultTransport := TransportMemory
	if haveBrokers {
		defaultTransport = TransportKafka
	}

	transport := strings.ToLower(getEnvOrDefault("EVENTS_TRANSPORT", defaultTransport))
	if transport != TransportKafka && transport != TransportMemory {
		return EventsConfig{}, fmt.Errorf("invalid EVENTS_TRANSPORT %q", transport)
	}

	timeout, err := getDurationEnv("EVENTS_PUBLISH_TIMEOUT", defaultPublishTimeout)
	if err != nil {
		return EventsConfig{}, err
	}
	buffer, err := getIntEnv("EVENTS_MEMORY_BUFFER", defaultMemoryBuffer)
	if err != nil {
		return EventsConfig{}, err
	}

	return EventsConfig{
		Transport:           transport,
		PublishTimeout:      timeout,
		NotifyStatusChanges: getBoolEnv("EVENTS_NOTIFY_STATUS_CHANGES", false),
		MemoryBuffer:        buffer,
	}, nil
}

func loadWorkerConfig() (WorkerConfig, error) {
	var (
		cfg WorkerConfig
		err error
	)

	if cfg.Concurrency, err = getIntEnv("WORKER_CONCURRENCY", defaultConcurrency); err != nil {
		return WorkerConfig{}, err
	}
	if cfg.BatchSize, err = getIntEnv("WORKER_BATCH_SIZE", defaultBatchSize); err != nil {
		return WorkerConfig{}, err
	}
	if cfg.BatchWait, err = getDurationEnv("WORKER_BATCH_WAIT", defaultBatchWait); err != nil {
		return WorkerConfig{}, err
	}
	if cfg.HandlerTimeout, err = getDurationEnv("WORKER_HANDLER_TIMEOUT", defaultHandlerTimeout); err != nil {
		return WorkerConfig{}, err
	}
	if cfg.MaxAttempts, err = getIntEnv("WORKER_MAX_ATTEMPTS", defaultMaxAttempts); err != nil {
		return WorkerConfig{}, err
	}
	if cfg.RetryBaseDelay, err = getDurationEnv("WORKER_RETRY_BASE_DELAY", defaultRetryBaseDelay); err != nil {
		return WorkerConfig{}, err
	}
	if cfg.RetryMaxDelay, err = getDurationEnv("WORKER_RETRY_MAX_DELAY", defaultRetryMaxDelay); err != nil {
		return WorkerConfig{}, err
	}

	if cfg.Concurrency <= 0 || cfg.BatchSize <= 0 || cfg.MaxAttempts <= 0 {
		return WorkerConfig{}, fmt.Errorf("WORKER_CONCURRENCY, WORKER_BATCH_SIZE and WORKER_MAX_ATTEMPTS must be positive")
	}

	return cfg, nil
}

func loadOrdersConfig() (OrdersConfig, error) {
	mode := strings.ToLower(getEnvOrDefault("ORDERS_CREATION_MODE", defaultCreationMode))
	if mode != "advance" && mode != "materialize" {
		return OrdersConfig{}, fmt.Errorf("invalid ORDERS_CREATION_MODE %q", mode)
	}

	store := strings.ToLower(getEnvOrDefault("ORDERS_IDEMPOTENCY_STORE", defaultIdempotencyStore))
	switch store {
	case "postgres", "redis", "memory":
	default:
		return OrdersConfig{}, fmt.Errorf("invalid ORDERS_IDEMPOTENCY_STORE %q", store)
	}

	ttl, err := getDurationEnv("ORDERS_IDEMPOTENCY_TTL", defaultIdempotencyTTL)
	if err != nil {
		return OrdersConfig{}, err
	}

	return OrdersConfig{CreationMode: mode, IdempotencyStore: store, IdempotencyTTL: ttl}, nil
}

func loadTelemetryConfig() (TelemetryConfig, error) {
	sampleRate := defaultOTelSampleRate
	if value, ok := os.LookupEnv("OTEL_SAMPLE_RATE"); ok {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return TelemetryConfig{}, fmt.Errorf("invalid OTEL_SAMPLE_RATE: %w", err)
		}
		sampleRate = parsed
	}

	return TelemetryConfig{
		LogLevel:      getEnvOrDefault("LOG_LEVEL", defaultLogLevel),
		OTelEndpoint:  getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		EnableTracing: getBoolEnv("OTEL_ENABLE_TRACING", true),
		EnableMetrics: getBoolEnv("OTEL_ENABLE_METRICS", true),
		SampleRate:    sampleRate,
	}, nil
}

func loadServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:        getEnvOrDefault("SERVICE_NAME", defaultServiceName),
		Version:     getEnvOrDefault("SERVICE_VERSION", defaultServiceVersion),
		Environment: getEnvOrDefault("ENVIRONMENT", defaultEnvironment),
	}
}

func buildDatabaseURL() string {
	host := getEnvOrDefault("DB_HOST", "localhost")
	port := getEnvOrDefault("DB_PORT", "5432")
	user := getEnvOrDefault("DB_USER", "postgres")
	password := getEnvOrDefault("DB_PASSWORD", "postgres")
	dbName := getEnvOrDefault("DB_NAME", "orderflow")
	sslMode := getEnvOrDefault("DB_SSLMODE", "disable")

	maxConns := getEnvOrDefault("DB_MAX_CONNS", "25")
	minConns := getEnvOrDefault("DB_MIN_CONNS", "5")
	maxLifetime := getEnvOrDefault("DB_MAX_CONN_LIFETIME", "5m")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%s&pool_min_conns=%s&pool_max_conn_lifetime=%s",
		user, password, host, port, dbName, sslMode, maxConns, minConns, maxLifetime,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		return value == "true"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
