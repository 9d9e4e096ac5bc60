// Package config loads the agent configuration from an optional YAML file
// with BARONG_AGENT_* environment overrides applied on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/layer-3/barong-agent/scheduler"
)

const EnvPrefix = "BARONG_AGENT_"

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreFile   = "file"

	PublisherNone        = "none"
	PublisherRedisStream = "redisstream"
)

type Config struct {
	Auth      AuthConfig      `yaml:"auth" envPrefix:"AUTH_"`
	Store     StoreConfig     `yaml:"store" envPrefix:"STORE_"`
	Scheduler SchedulerConfig `yaml:"scheduler" envPrefix:"SCHEDULER_"`
	History   HistoryConfig   `yaml:"history" envPrefix:"HISTORY_"`
	Events    EventsConfig    `yaml:"events" envPrefix:"EVENTS_"`
	HTTP      HTTPConfig      `yaml:"http" envPrefix:"HTTP_"`
	Probe     ProbeConfig     `yaml:"probe" envPrefix:"PROBE_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
}

// AuthConfig describes the authorization server and how tokens are keyed.
type AuthConfig struct {
	TokenURL     string   `yaml:"token_url" env:"TOKEN_URL"`
	RevokeURL    string   `yaml:"revoke_url" env:"REVOKE_URL"`
	ClientID     string   `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" env:"CLIENT_SECRET"`
	Scopes       []string `yaml:"scopes" env:"SCOPES" envSeparator:","`
	AuthInParams bool     `yaml:"auth_in_params" env:"AUTH_IN_PARAMS"`
	BaseURL      string   `yaml:"base_url" env:"BASE_URL"`
	KeyPrefix    string   `yaml:"key_prefix" env:"KEY_PREFIX"`
}

type StoreConfig struct {
	Kind     string `yaml:"kind" env:"KIND"`
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	Path     string `yaml:"path" env:"PATH"`
	Watch    bool   `yaml:"watch" env:"WATCH"`
}

type SchedulerConfig struct {
	Grace            time.Duration `yaml:"grace" env:"GRACE"`
	MaxCheckInterval time.Duration `yaml:"max_check_interval" env:"MAX_CHECK_INTERVAL"`
	FailureCooldown  time.Duration `yaml:"failure_cooldown" env:"FAILURE_COOLDOWN"`
	RequestTimeout   time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
}

type HistoryConfig struct {
	Size int `yaml:"size" env:"SIZE"`
}

// EventsConfig selects where session events are forwarded. An empty
// RedisURL reuses the store's redis.
type EventsConfig struct {
	Publisher string `yaml:"publisher" env:"PUBLISHER"`
	Topic     string `yaml:"topic" env:"TOPIC"`
	RedisURL  string `yaml:"redis_url" env:"REDIS_URL"`
	Buffer    int    `yaml:"buffer" env:"BUFFER"`
}

type HTTPConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	ControlToken string `yaml:"control_token" env:"CONTROL_TOKEN"`
}

// ProbeConfig enables backend reachability probing when URL is set.
type ProbeConfig struct {
	URL      string        `yaml:"url" env:"URL"`
	Schedule string        `yaml:"schedule" env:"SCHEDULE"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

func Default() Config {
	sched := scheduler.DefaultConfig()
	return Config{
		Auth: AuthConfig{
			ClientID:  "barong-agent",
			KeyPrefix: "barong",
		},
		Store: StoreConfig{
			Kind:     StoreMemory,
			RedisURL: "redis://localhost:6379/0",
		},
		Scheduler: SchedulerConfig{
			Grace:            sched.Grace,
			MaxCheckInterval: sched.MaxCheckInterval,
			FailureCooldown:  sched.FailureCooldown,
			RequestTimeout:   sched.RequestTimeout,
		},
		History: HistoryConfig{Size: 50},
		Events: EventsConfig{
			Publisher: PublisherNone,
			Topic:     "barong.session",
			Buffer:    256,
		},
		HTTP: HTTPConfig{Addr: "127.0.0.1:9100"},
		Probe: ProbeConfig{
			Schedule: "@every 30s",
			Timeout:  5 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (if not empty) over the defaults, then applies the
// environment and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.Auth.TokenURL == "" {
		errs = append(errs, errors.New("auth.token_url is required"))
	}
	if c.Auth.ClientID == "" {
		errs = append(errs, errors.New("auth.client_id is required"))
	}

	switch c.Store.Kind {
	case StoreMemory:
	case StoreRedis:
		if c.Store.RedisURL == "" {
			errs = append(errs, errors.New("store.redis_url is required for the redis store"))
		}
	case StoreFile:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the file store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.kind %q", c.Store.Kind))
	}
	if c.Store.Watch && c.Store.Kind != StoreFile {
		errs = append(errs, errors.New("store.watch is only supported by the file store"))
	}

	switch c.Events.Publisher {
	case PublisherNone:
	case PublisherRedisStream:
		if c.Events.Topic == "" {
			errs = append(errs, errors.New("events.topic is required"))
		}
		if c.Events.RedisURL == "" && c.Store.RedisURL == "" {
			errs = append(errs, errors.New("events.redis_url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown events.publisher %q", c.Events.Publisher))
	}

	if c.Scheduler.MaxCheckInterval <= 0 || c.Scheduler.FailureCooldown <= 0 || c.Scheduler.RequestTimeout <= 0 {
		errs = append(errs, errors.New("scheduler intervals must be positive"))
	}
	if c.History.Size <= 0 {
		errs = append(errs, errors.New("history.size must be positive"))
	}
	if c.Probe.URL != "" && c.Probe.Schedule == "" {
		errs = append(errs, errors.New("probe.schedule is required when probe.url is set"))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}

func (c SchedulerConfig) Config() scheduler.Config {
	return scheduler.Config{
		Grace:            c.Grace,
		MaxCheckInterval: c.MaxCheckInterval,
		FailureCooldown:  c.FailureCooldown,
		RequestTimeout:   c.RequestTimeout,
	}.WithDefaults()
}

// EventsRedisURL falls back to the store redis when no dedicated stream
// redis is configured.
func (c Config) EventsRedisURL() string {
	if c.Events.RedisURL != "" {
		return c.Events.RedisURL
	}
	return c.Store.RedisURL
}

// NewLogger builds the process logger.
func (c LogConfig) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetLevel(level)
	if c.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}
