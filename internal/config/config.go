// Package config loads fieldsync settings from an optional YAML file and
// FIELDSYNC_* environment variables, in that order of precedence (the
// environment wins).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/fieldsync/internal/conflict"
	"github.com/roach88/fieldsync/internal/record"
)

// Config holds every tunable of the sync engine and its collaborators.
type Config struct {
	DatabasePath  string `yaml:"database_path" env:"FIELDSYNC_DATABASE_PATH"`
	RemoteURL     string `yaml:"remote_url" env:"FIELDSYNC_REMOTE_URL"`
	HealthURL     string `yaml:"health_url" env:"FIELDSYNC_HEALTH_URL"`
	CredentialDir string `yaml:"credential_dir" env:"FIELDSYNC_CREDENTIAL_DIR"`
	ListenAddr    string `yaml:"listen_addr" env:"FIELDSYNC_LISTEN_ADDR"`

	Workers        int           `yaml:"workers" env:"FIELDSYNC_WORKERS"`
	MaxRetries     int           `yaml:"max_retries" env:"FIELDSYNC_MAX_RETRIES"`
	SkewBuffer     time.Duration `yaml:"skew_buffer" env:"FIELDSYNC_SKEW_BUFFER"`
	BackoffInitial time.Duration `yaml:"backoff_initial" env:"FIELDSYNC_BACKOFF_INITIAL"`
	BackoffMax     time.Duration `yaml:"backoff_max" env:"FIELDSYNC_BACKOFF_MAX"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"FIELDSYNC_REQUEST_TIMEOUT"`
	SyncInterval   time.Duration `yaml:"sync_interval" env:"FIELDSYNC_SYNC_INTERVAL"`
	ProbeInterval  time.Duration `yaml:"probe_interval" env:"FIELDSYNC_PROBE_INTERVAL"`
	PageSize       int           `yaml:"page_size" env:"FIELDSYNC_PAGE_SIZE"`

	DefaultStrategy string `yaml:"default_strategy" env:"FIELDSYNC_DEFAULT_STRATEGY"`
	// Strategies overrides the strategy per entity type, e.g.
	// FIELDSYNC_STRATEGIES="ticket:ask_user,log_entry:client_wins".
	Strategies map[string]string `yaml:"strategies" env:"FIELDSYNC_STRATEGIES" envSeparator:"," envKeyValSeparator:":"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DatabasePath:    "fieldsync.db",
		RemoteURL:       "http://127.0.0.1:8765",
		CredentialDir:   ".fieldsync",
		ListenAddr:      "127.0.0.1:8765",
		Workers:         4,
		MaxRetries:      5,
		SkewBuffer:      conflict.DefaultSkew,
		BackoffInitial:  time.Second,
		BackoffMax:      5 * time.Minute,
		RequestTimeout:  30 * time.Second,
		SyncInterval:    5 * time.Minute,
		ProbeInterval:   15 * time.Second,
		PageSize:        100,
		DefaultStrategy: string(conflict.ServerWins),
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then the environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if cfg.HealthURL == "" {
		cfg.HealthURL = cfg.RemoteURL + "/healthz"
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if u, err := url.Parse(c.RemoteURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("remote_url %q is not an absolute URL", c.RemoteURL))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries))
	}
	if c.SkewBuffer < 0 {
		errs = append(errs, fmt.Errorf("skew_buffer must not be negative, got %s", c.SkewBuffer))
	}
	if c.BackoffInitial <= 0 {
		errs = append(errs, fmt.Errorf("backoff_initial must be positive, got %s", c.BackoffInitial))
	}
	if c.BackoffMax < c.BackoffInitial {
		errs = append(errs, fmt.Errorf("backoff_max %s is below backoff_initial %s", c.BackoffMax, c.BackoffInitial))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout))
	}
	if c.SyncInterval <= 0 {
		errs = append(errs, fmt.Errorf("sync_interval must be positive, got %s", c.SyncInterval))
	}
	if c.ProbeInterval <= 0 {
		errs = append(errs, fmt.Errorf("probe_interval must be positive, got %s", c.ProbeInterval))
	}
	if c.PageSize < 1 {
		errs = append(errs, fmt.Errorf("page_size must be at least 1, got %d", c.PageSize))
	}
	if _, err := conflict.ParseStrategy(c.DefaultStrategy); err != nil {
		errs = append(errs, fmt.Errorf("default_strategy: %w", err))
	}
	for et, s := range c.Strategies {
		if _, err := record.ParseEntityType(et); err != nil {
			errs = append(errs, fmt.Errorf("strategies: %w", err))
		}
		if _, err := conflict.ParseStrategy(s); err != nil {
			errs = append(errs, fmt.Errorf("strategies[%s]: %w", et, err))
		}
	}
	return errors.Join(errs...)
}

// Policy returns the conflict policy described by the configuration.
// Call it on a validated Config.
func (c Config) Policy() conflict.Policy {
	p := conflict.Policy{
		Default: conflict.Strategy(c.DefaultStrategy),
		PerType: map[record.EntityType]conflict.Strategy{},
	}
	for et, s := range c.Strategies {
		p.PerType[record.EntityType(et)] = conflict.Strategy(s)
	}
	return p
}
