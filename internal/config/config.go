// Package config defines the configuration for the maintdesk PM engine.
// Configuration is loaded once at process initialization and is immutable
// thereafter, following 12-Factor principles: OS environment takes priority
// over a local .env file, and any missing required value fails startup.
package config

import (
	"time"

	"maintdesk/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used for configuration values that must never appear in logs.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"maintdesk-pm-engine"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server    ServerConfig
	Database  DatabaseConfig
	AWS       AWSConfig
	WorkOrder WorkOrderConfig
	Engine    EngineConfig
}

// ServerConfig holds HTTP server settings for the API binary.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `envconfig:"SERVER_REQUEST_TIMEOUT" default:"25s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// PassQueueURL is the SQS queue used to trigger asynchronous
	// generation passes. Empty disables async triggering.
	PassQueueURL string `envconfig:"SQS_PASS_QUEUE" validate:"omitempty,url"`

	// MetricsEnabled toggles CloudWatch metric emission. Disabled for
	// local development.
	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"true"`
}

// WorkOrderConfig holds settings for the work-order collaborator that
// receives generated drafts.
type WorkOrderConfig struct {
	// Mode selects the collaborator implementation: "local" inserts rows
	// into this database's work_orders table; "remote" calls the separate
	// work-order service over HTTP.
	Mode string `envconfig:"WORKORDER_MODE" default:"local" validate:"oneof=local remote"`

	// BaseURL and APIKey apply to remote mode only.
	BaseURL string       `envconfig:"WORKORDER_API_URL" validate:"required_if=Mode remote,omitempty,url"`
	APIKey  SecretString `envconfig:"WORKORDER_API_KEY" validate:"required_if=Mode remote"`

	Timeout    time.Duration `envconfig:"WORKORDER_TIMEOUT" default:"10s"`
	MaxRetries int           `envconfig:"WORKORDER_MAX_RETRIES" default:"3"`
}

// EngineConfig holds generation pass tuning parameters.
type EngineConfig struct {
	// Parallelism bounds concurrent schedule processing within a pass.
	Parallelism int `envconfig:"PASS_PARALLELISM" default:"8" validate:"min=1,max=64"`

	// LockTTL bounds how long a pass holds the job lock before another
	// runner may take over.
	LockTTL time.Duration `envconfig:"PASS_LOCK_TTL" default:"10m"`

	// StaleReservationAge is the age past which a reservation that never
	// committed is reported by the ledger sweep.
	StaleReservationAge time.Duration `envconfig:"LEDGER_STALE_AGE" default:"1h"`
}
