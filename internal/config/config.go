package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for runwatch.
type Config struct {
	Service      ServiceConfig
	Backoff      BackoffConfig
	RateLimit    RateLimitConfig
	History      HistoryConfig
	Notification NotificationConfig
	Store        StoreConfig
}

// ServiceConfig locates the job service and its endpoints.
type ServiceConfig struct {
	BaseURL    string
	SubmitPath string
	StatusPath string        // must contain {task_id}
	RunsPath   string
	Timeout    time.Duration // per-request timeout
}

// BackoffConfig tunes the poll delay: min(2^attempt * Base, Max).
type BackoffConfig struct {
	Base time.Duration
	Max  time.Duration
}

// RateLimitConfig enforces a minimum gap between requests to the service.
type RateLimitConfig struct {
	MinDelay time.Duration // zero disables rate limiting
}

// HistoryConfig controls the recent-runs listing.
type HistoryConfig struct {
	Limit int
}

// NotificationConfig controls which notifier is used and its settings.
type NotificationConfig struct {
	Type       string `yaml:"type"`        // "log" or "slack"
	WebhookURL string `yaml:"webhook_url"` // required if type is "slack"
}

// StoreConfig locates the notification ledger.
type StoreConfig struct {
	Path string `yaml:"path"`
}

const (
	defaultBaseURL    = "http://localhost:8001"
	defaultSubmitPath = "/run-agent/"
	defaultStatusPath = "/status/{task_id}"
	defaultRunsPath   = "/runs/"
	defaultStorePath  = "runwatch.db"
	defaultHistory    = 5
)

// rawConfig is used for YAML unmarshaling (snake_case fields and duration as string).
type rawConfig struct {
	Service      rawServiceConfig   `yaml:"service"`
	Backoff      rawBackoffConfig   `yaml:"backoff"`
	RateLimit    rawRateLimitConfig `yaml:"rate_limit"`
	History      rawHistoryConfig   `yaml:"history"`
	Notification NotificationConfig `yaml:"notification"`
	Store        StoreConfig        `yaml:"store"`
}

type rawServiceConfig struct {
	BaseURL    string `yaml:"base_url"`
	SubmitPath string `yaml:"submit_path"`
	StatusPath string `yaml:"status_path"`
	RunsPath   string `yaml:"runs_path"`
	Timeout    string `yaml:"timeout"`
}

type rawBackoffConfig struct {
	Base string `yaml:"base"`
	Max  string `yaml:"max"`
}

type rawRateLimitConfig struct {
	MinDelay string `yaml:"min_delay"`
}

type rawHistoryConfig struct {
	Limit int `yaml:"limit"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg, err := build(rawConfig{})
	if err != nil {
		// build of an empty raw config only applies defaults.
		panic(err)
	}
	return cfg
}

// Load reads and parses the YAML config file at path, validates it, and returns Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg, err := build(raw)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func build(raw rawConfig) (*Config, error) {
	timeout, err := parseDuration("service.timeout", raw.Service.Timeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	base, err := parseDuration("backoff.base", raw.Backoff.Base, 1*time.Second)
	if err != nil {
		return nil, err
	}
	maxDelay, err := parseDuration("backoff.max", raw.Backoff.Max, 30*time.Second)
	if err != nil {
		return nil, err
	}
	minDelay, err := parseDuration("rate_limit.min_delay", raw.RateLimit.MinDelay, 0)
	if err != nil {
		return nil, err
	}

	historyLimit := raw.History.Limit
	if historyLimit == 0 {
		historyLimit = defaultHistory
	}

	storePath := raw.Store.Path
	if storePath == "" {
		storePath = defaultStorePath
	}

	notification := raw.Notification
	if notification.Type == "" {
		notification.Type = "log"
	}

	return &Config{
		Service: ServiceConfig{
			BaseURL:    orDefault(raw.Service.BaseURL, defaultBaseURL),
			SubmitPath: orDefault(raw.Service.SubmitPath, defaultSubmitPath),
			StatusPath: orDefault(raw.Service.StatusPath, defaultStatusPath),
			RunsPath:   orDefault(raw.Service.RunsPath, defaultRunsPath),
			Timeout:    timeout,
		},
		Backoff: BackoffConfig{
			Base: base,
			Max:  maxDelay,
		},
		RateLimit:    RateLimitConfig{MinDelay: minDelay},
		History:      HistoryConfig{Limit: historyLimit},
		Notification: notification,
		Store:        StoreConfig{Path: storePath},
	}, nil
}

func parseDuration(key, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", key, value, err)
	}
	return d, nil
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

func validate(cfg *Config) error {
	u, err := url.Parse(cfg.Service.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("service.base_url must be an http(s) URL, got %q", cfg.Service.BaseURL)
	}
	if !strings.Contains(cfg.Service.StatusPath, "{task_id}") {
		return fmt.Errorf("service.status_path must contain {task_id}, got %q", cfg.Service.StatusPath)
	}
	if cfg.Service.Timeout <= 0 {
		return fmt.Errorf("service.timeout must be positive, got %v", cfg.Service.Timeout)
	}

	if cfg.Backoff.Base <= 0 || cfg.Backoff.Max <= 0 {
		return fmt.Errorf("backoff.base and backoff.max must be positive")
	}
	if cfg.Backoff.Max < cfg.Backoff.Base {
		return fmt.Errorf("backoff.max (%v) must not be below backoff.base (%v)", cfg.Backoff.Max, cfg.Backoff.Base)
	}
	if cfg.RateLimit.MinDelay < 0 {
		return fmt.Errorf("rate_limit.min_delay must not be negative, got %v", cfg.RateLimit.MinDelay)
	}
	if cfg.History.Limit < 1 || cfg.History.Limit > 100 {
		return fmt.Errorf("history.limit must be between 1 and 100, got %d", cfg.History.Limit)
	}

	switch cfg.Notification.Type {
	case "log":
	case "slack":
		if cfg.Notification.WebhookURL == "" {
			return fmt.Errorf("notification.webhook_url is required when type is \"slack\"")
		}
		if !strings.HasPrefix(cfg.Notification.WebhookURL, "https://hooks.slack.com/") {
			return fmt.Errorf("notification.webhook_url must start with https://hooks.slack.com/")
		}
	default:
		return fmt.Errorf("notification.type must be \"log\" or \"slack\", got %q", cfg.Notification.Type)
	}

	return nil
}
