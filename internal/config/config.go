// Package config loads the cadence application configuration.
//
// Values are layered, highest precedence first: runtime overrides passed to
// Load, CADENCE_* environment variables, the config file, built-in
// defaults. Job definitions are not part of this configuration; they live
// in the jobs file named by jobs_file.
package config

import (
	"time"
)

// Config is the application configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	JobsFile  string          `mapstructure:"jobs_file" validate:"required"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// StorageConfig selects the object store.
type StorageConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=file s3"`

	// Prefix is prepended to every key written.
	Prefix string `mapstructure:"prefix"`

	// BaseDir roots the file backend.
	BaseDir string `mapstructure:"base_dir" validate:"required_if=Backend file"`

	Bucket         string `mapstructure:"bucket" validate:"required_if=Backend s3"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint" validate:"omitempty,url"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`

	// MaxRetries bounds attempts on throttled or unavailable store calls.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=1"`
}

// GitHubConfig configures the activity source.
type GitHubConfig struct {
	Token       string  `mapstructure:"token"`
	APIURL      string  `mapstructure:"api_url" validate:"required,url"`
	RateLimit   float64 `mapstructure:"rate_limit" validate:"gte=0"`
	Concurrency int     `mapstructure:"concurrency" validate:"gte=1"`
	MaxRetries  int     `mapstructure:"max_retries" validate:"gte=1"`
}

// LLMConfig configures the model-backed generator. An empty APIKey leaves
// the generator unconfigured; jobs that ask for it then fail.
type LLMConfig struct {
	BaseURL    string        `mapstructure:"base_url" validate:"required,url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model" validate:"required"`
	MaxTokens  int           `mapstructure:"max_tokens" validate:"gte=0"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=1"`
}

// NotifyConfig configures webhook delivery.
type NotifyConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=1"`
}

// LedgerConfig configures the local run ledger.
type LedgerConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// SchedulerConfig configures tick and daemon.
type SchedulerConfig struct {
	// Tick is a robfig/cron spec, e.g. "@every 5m" or "*/10 * * * *".
	Tick        string `mapstructure:"tick" validate:"required"`
	Concurrency int    `mapstructure:"concurrency" validate:"gte=1,lte=64"`
}

// ServerConfig configures the read-only HTTP API.
type ServerConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}
