package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendBolt     = "bolt"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName  string `envconfig:"SERVICE_NAME" default:"gymcore"`
	HTTPPort     string `envconfig:"HTTP_PORT" default:"8080"`
	StoreBackend string `envconfig:"STORE_BACKEND" default:"memory"`

	PostgresDSN         string `envconfig:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `envconfig:"POSTGRES_AUTO_MIGRATE" default:"true"`
	MongoURI            string `envconfig:"MONGO_URI"`
	MongoDatabase       string `envconfig:"MONGO_DATABASE" default:"gym"`
	BoltPath            string `envconfig:"BOLT_PATH" default:"gymcore.db"`

	RabbitMQURL      string `envconfig:"RABBITMQ_URL"`
	RabbitMQExchange string `envconfig:"RABBITMQ_EXCHANGE" default:"gymcore.events"`

	JWTSecret               string        `envconfig:"JWT_SECRET"`
	JWTTTL                  time.Duration `envconfig:"JWT_TTL" default:"168h"`
	AuthDevIssuer           bool          `envconfig:"AUTH_DEV_ISSUER" default:"false"`
	AuthAllowHeaderIdentity bool          `envconfig:"AUTH_ALLOW_HEADER_IDENTITY" default:"false"`
	CORSAllowedOrigins      []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"http://localhost:5173"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	StoreTimeout         time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
	StepRetryAttempts    int           `envconfig:"STEP_RETRY_ATTEMPTS" default:"3"`
	RetryInitialInterval time.Duration `envconfig:"STEP_RETRY_INITIAL_INTERVAL" default:"100ms"`
	WorkerPollInterval   time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"2s"`
	OutboxBatchSize      int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	ReconcileGrace       time.Duration `envconfig:"RECONCILE_GRACE" default:"30s"`
	ReconcileMaxAttempts int           `envconfig:"RECONCILE_MAX_ATTEMPTS" default:"10"`
	ReconcileBatchSize   int           `envconfig:"RECONCILE_BATCH_SIZE" default:"50"`

	EnableVoteOutboxRelay     bool `envconfig:"ENABLE_VOTE_OUTBOX_RELAY" default:"true"`
	EnableBookingOutboxRelay  bool `envconfig:"ENABLE_BOOKING_OUTBOX_RELAY" default:"true"`
	EnableSettlementReconcile bool `envconfig:"ENABLE_SETTLEMENT_RECONCILE" default:"true"`
}

// Load reads an optional .env file, then the process environment. Values
// already present in the environment win over the file.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !isMissingFile(err) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values each backend and feature needs.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres backend"))
		}
	case BackendMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo backend"))
		}
	case BackendBolt:
		if strings.TrimSpace(c.BoltPath) == "" {
			errs = append(errs, errors.New("BOLT_PATH is required for the bolt backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	if c.AuthDevIssuer && len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET of at least 16 bytes is required when AUTH_DEV_ISSUER is on"))
	}
	if c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}
	if c.StepRetryAttempts < 1 {
		errs = append(errs, errors.New("STEP_RETRY_ATTEMPTS must be at least 1"))
	}
	if c.WorkerPollInterval <= 0 {
		errs = append(errs, errors.New("WORKER_POLL_INTERVAL must be positive"))
	}
	if c.ReconcileMaxAttempts < 1 {
		errs = append(errs, errors.New("RECONCILE_MAX_ATTEMPTS must be at least 1"))
	}
	return errors.Join(errs...)
}

// EmbeddedWorkers reports whether worker loops must run inside the API
// process because the store cannot be shared with a second process.
func (c Config) EmbeddedWorkers() bool {
	return c.StoreBackend == BackendMemory || c.StoreBackend == BackendBolt
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
