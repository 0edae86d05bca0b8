// Copyright (c) 2026 Lerian Studio. All rights reserved.
// Use of this source code is governed by the Elastic License 2.0
// that can be found in the LICENSE file.

// Package bootstrap loads configuration and wires the runtime layers into a
// ready-to-embed service.
package bootstrap

import (
	"fmt"
	"os"
	"time"

	norm "github.com/LerianStudio/lib-norm"
	cn "github.com/LerianStudio/lib-norm/constant"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top level configuration struct for the runtime. Values load
// from a YAML file when one is given, then environment variables override.
type Config struct {
	EnvName  string `env:"ENV_NAME"      yaml:"env_name"`
	LogLevel string `env:"LOG_LEVEL"     yaml:"log_level"`

	MongoURI string `env:"MONGO_URI"     yaml:"mongo_uri"  validate:"required"`
	Database string `env:"MONGO_NAME"    yaml:"database"   validate:"required"`
	RedisURI string `env:"REDIS_URI"     yaml:"redis_uri"`

	PoolMinSize            int           `env:"POOL_MIN_SIZE"            yaml:"-" validate:"gte=0"`
	PoolMaxSize            int           `env:"POOL_MAX_SIZE"            yaml:"-" validate:"gte=0"`
	PoolAcquireTimeout     time.Duration `env:"POOL_ACQUIRE_TIMEOUT"     yaml:"-"`
	PoolIdleTTL            time.Duration `env:"POOL_IDLE_TTL"            yaml:"-"`
	PoolValidationInterval time.Duration `env:"POOL_VALIDATION_INTERVAL" yaml:"-"`

	CircuitFailureThreshold int           `env:"CIRCUIT_FAILURE_THRESHOLD" yaml:"-" validate:"gte=0"`
	CircuitOpenDuration     time.Duration `env:"CIRCUIT_OPEN_DURATION"     yaml:"-"`
	CircuitHalfOpenProbes   int           `env:"CIRCUIT_HALF_OPEN_PROBES"  yaml:"-" validate:"gte=0"`

	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" yaml:"-" validate:"gte=0"`
	RetryBaseDelay   time.Duration `env:"RETRY_BASE_DELAY"   yaml:"-"`
	RetryMaxDelay    time.Duration `env:"RETRY_MAX_DELAY"    yaml:"-"`

	EventsQueueName      string        `env:"EVENTS_QUEUE_NAME"       yaml:"-"`
	EventsBatchSize      int           `env:"EVENTS_BATCH_SIZE"       yaml:"-" validate:"gte=0"`
	EventsPollInterval   time.Duration `env:"EVENTS_POLL_INTERVAL"    yaml:"-"`
	EventsMaxRetries     int           `env:"EVENTS_MAX_RETRIES"      yaml:"-" validate:"gte=0"`
	EventsRetryBaseDelay time.Duration `env:"EVENTS_RETRY_BASE_DELAY" yaml:"-"`
	EventsRetryMaxDelay  time.Duration `env:"EVENTS_RETRY_MAX_DELAY"  yaml:"-"`
	EventsNumWorkers     int           `env:"EVENTS_NUM_WORKERS"      yaml:"-" validate:"gte=0"`

	Pool    poolFileConfig    `env:"-" yaml:"pool"`
	Circuit circuitFileConfig `env:"-" yaml:"circuit"`
	Retry   retryFileConfig   `env:"-" yaml:"retry"`
	Events  eventsFileConfig  `env:"-" yaml:"events"`
}

// duration decodes yaml strings like "250ms" or "5s".
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return err
	}

	*d = duration(parsed)

	return nil
}

// The nested yaml sections mirror the flat runtime fields.
type poolFileConfig struct {
	MinSize            int      `yaml:"min_size"`
	MaxSize            int      `yaml:"max_size"`
	AcquireTimeout     duration `yaml:"acquire_timeout"`
	IdleTTL            duration `yaml:"idle_ttl"`
	ValidationInterval duration `yaml:"validation_interval"`
}

type circuitFileConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	OpenDuration     duration `yaml:"open_duration"`
	HalfOpenProbes   int      `yaml:"half_open_probes"`
}

type retryFileConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   duration `yaml:"base_delay"`
	MaxDelay    duration `yaml:"max_delay"`
}

type eventsFileConfig struct {
	QueueName      string   `yaml:"queue_name"`
	BatchSize      int      `yaml:"batch_size"`
	PollInterval   duration `yaml:"poll_interval"`
	MaxRetries     int      `yaml:"max_retries"`
	RetryBaseDelay duration `yaml:"retry_base_delay"`
	RetryMaxDelay  duration `yaml:"retry_max_delay"`
	NumWorkers     int      `yaml:"num_workers"`
}

func configurationError(detail string, err error) error {
	return norm.ValidationError{
		EntityType: "config",
		Code:       cn.ErrConfiguration.Error(),
		Title:      "Configuration Error",
		Message:    fmt.Sprintf("The configuration is invalid or incomplete: %s.", detail),
		Err:        err,
	}
}

// LoadConfig reads the optional YAML file at path, overlays environment
// variables and validates the result. An empty path skips the file step.
func LoadConfig(path string) (*Config, error) {
	norm.InitLocalEnvConfig()

	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, configurationError("reading config file", err)
		}

		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, configurationError("parsing config file", err)
		}

		cfg.applyFileSections()
	}

	if err := norm.SetConfigFromEnvVars(cfg); err != nil {
		return nil, configurationError("reading environment", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, configurationError("validating values", err)
	}

	return cfg, nil
}

// applyFileSections copies the nested yaml sections onto the flat runtime
// fields, which environment variables may then override.
func (c *Config) applyFileSections() {
	c.PoolMinSize = c.Pool.MinSize
	c.PoolMaxSize = c.Pool.MaxSize
	c.PoolAcquireTimeout = time.Duration(c.Pool.AcquireTimeout)
	c.PoolIdleTTL = time.Duration(c.Pool.IdleTTL)
	c.PoolValidationInterval = time.Duration(c.Pool.ValidationInterval)

	c.CircuitFailureThreshold = c.Circuit.FailureThreshold
	c.CircuitOpenDuration = time.Duration(c.Circuit.OpenDuration)
	c.CircuitHalfOpenProbes = c.Circuit.HalfOpenProbes

	c.RetryMaxAttempts = c.Retry.MaxAttempts
	c.RetryBaseDelay = time.Duration(c.Retry.BaseDelay)
	c.RetryMaxDelay = time.Duration(c.Retry.MaxDelay)

	c.EventsQueueName = c.Events.QueueName
	c.EventsBatchSize = c.Events.BatchSize
	c.EventsPollInterval = time.Duration(c.Events.PollInterval)
	c.EventsMaxRetries = c.Events.MaxRetries
	c.EventsRetryBaseDelay = time.Duration(c.Events.RetryBaseDelay)
	c.EventsRetryMaxDelay = time.Duration(c.Events.RetryMaxDelay)
	c.EventsNumWorkers = c.Events.NumWorkers
}

