package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rxtech-lab/argo-stats/internal/stats"
	"github.com/rxtech-lab/argo-stats/internal/worker"
	"github.com/rxtech-lab/argo-stats/pkg/errors"
)

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
}

// UnmarshalYAML implements custom unmarshaling for DatabaseConfig so that
// conn_max_lifetime accepts duration strings such as "30m". Fields omitted
// from the document keep their current values.
func (c *DatabaseConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type rawConfig struct {
		DSN             *string `yaml:"dsn"`
		MaxOpenConns    *int    `yaml:"max_open_conns"`
		MaxIdleConns    *int    `yaml:"max_idle_conns"`
		ConnMaxLifetime *string `yaml:"conn_max_lifetime"`
	}

	var raw rawConfig
	if err := unmarshal(&raw); err != nil {
		return err
	}

	if raw.DSN != nil {
		c.DSN = *raw.DSN
	}
	if raw.MaxOpenConns != nil {
		c.MaxOpenConns = *raw.MaxOpenConns
	}
	if raw.MaxIdleConns != nil {
		c.MaxIdleConns = *raw.MaxIdleConns
	}
	if raw.ConnMaxLifetime != nil {
		lifetime, err := time.ParseDuration(*raw.ConnMaxLifetime)
		if err != nil {
			return err
		}
		c.ConnMaxLifetime = lifetime
	}

	return nil
}

// EngineConfig tunes how position history is read and folded.
type EngineConfig struct {
	// ChunkSize is the page size of the streaming read path.
	ChunkSize uint64 `yaml:"chunk_size" validate:"gte=1"`

	// SingleQueryThreshold routes entities with at most this many positions
	// to one unpaginated query.
	SingleQueryThreshold int `yaml:"single_query_threshold" validate:"gte=0"`
}

// WorkerConfig sizes the job executor.
type WorkerConfig struct {
	Workers    int                `yaml:"workers" validate:"gte=0"`
	QueueDepth int                `yaml:"queue_depth" validate:"gte=0"`
	Retry      worker.RetryPolicy `yaml:"retry"`
}

// Config is the full statsworker configuration, loaded from a YAML file.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Engine        EngineConfig        `yaml:"engine"`
	Worker        WorkerConfig        `yaml:"worker"`
	RatingWeights stats.RatingWeights `yaml:"rating_weights"`
	LogLevel      string              `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// MetricsAddr is the listen address of the Prometheus /metrics endpoint.
	// Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns the production defaults. The database DSN has no
// default and must come from the file.
func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Engine: EngineConfig{
			ChunkSize:            500,
			SingleQueryThreshold: 750,
		},
		Worker: WorkerConfig{
			Workers:    4,
			QueueDepth: 64,
			Retry:      worker.DefaultRetryPolicy(),
		},
		RatingWeights: stats.DefaultRatingWeights(),
		LogLevel:      "info",
	}
}

// LoadConfig reads a YAML file on top of the defaults and validates the
// result.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config file %s", path)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to parse config file %s", path)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate validates the Config struct.
func (c *Config) Validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	if err := c.RatingWeights.Validate(); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid rating weights", err)
	}

	return nil
}
