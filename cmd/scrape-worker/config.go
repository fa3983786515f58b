package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"ojscraper/internal/common/cache"
	"ojscraper/internal/scraper/batch"
	"ojscraper/internal/scraper/coordinator"
	"ojscraper/internal/scraper/source"
	"ojscraper/internal/scraper/status"
	"ojscraper/internal/scraper/transport"
	"ojscraper/internal/scraper/worker"
	appErr "ojscraper/pkg/errors"
	"ojscraper/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv          = "SCRAPE_WORKER_CONFIG"
	defaultCoordinatorURL  = "http://127.0.0.1:5000"
	defaultStatsKeyPrefix  = "ojscraper:worker"
	defaultStatsTimeout    = 2 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// CoordinatorConfig holds coordinator endpoint and retry settings.
type CoordinatorConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	WorkPath       string        `yaml:"workPath"`
	SubmitPath     string        `yaml:"submitPath"`
	RetryDelay     time.Duration `yaml:"retryDelay"`
	AttemptTimeout time.Duration `yaml:"attemptTimeout"`
	IdleBackoff    time.Duration `yaml:"idleBackoff"`
	UserAgent      string        `yaml:"userAgent"`
}

// SourceConfig holds submission page settings.
type SourceConfig struct {
	URLTemplate string        `yaml:"urlTemplate"`
	Timeout     time.Duration `yaml:"timeout"`
	UserAgent   string        `yaml:"userAgent"`
}

// WorkerConfig holds batch processing settings.
type WorkerConfig struct {
	PoolSize      int           `yaml:"poolSize"`
	ShutdownGrace time.Duration `yaml:"shutdownGrace"`
}

// RedisConfig enables the stats mirror when Addr is set.
type RedisConfig struct {
	cache.RedisConfig `yaml:",inline"`
	Key               string        `yaml:"key"`
	TTL               time.Duration `yaml:"ttl"`
	Timeout           time.Duration `yaml:"timeout"`
}

// AppConfig holds the scrape worker configuration.
type AppConfig struct {
	Logger      logger.Config     `yaml:"logger"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Source      SourceConfig      `yaml:"source"`
	Worker      WorkerConfig      `yaml:"worker"`
	Redis       RedisConfig       `yaml:"redis"`
	Status      status.Config     `yaml:"status"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidConfig, "read config file failed")
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return appErr.Wrapf(err, appErr.InvalidConfig, "parse config file failed")
	}
	return nil
}

// loadAppConfig reads the optional YAML file, applies env overrides and
// defaults, and validates the result.
func loadAppConfig(path string, getenv func(string) string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *AppConfig, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv("COORDINATOR_URL")); v != "" {
		cfg.Coordinator.BaseURL = v
	}
	if v := strings.TrimSpace(getenv("POOL_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return appErr.Wrapf(err, appErr.InvalidConfig, "invalid POOL_SIZE %q", v)
		}
		cfg.Worker.PoolSize = n
	}
	if v := strings.TrimSpace(getenv("SOURCE_URL_TEMPLATE")); v != "" {
		cfg.Source.URLTemplate = v
	}
	if v := strings.TrimSpace(getenv("REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(getenv("STATUS_ADDR")); v != "" {
		cfg.Status.Addr = v
	}
	if v := strings.TrimSpace(getenv("LOG_LEVEL")); v != "" {
		cfg.Logger.Level = v
	}
	return nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Coordinator.BaseURL == "" {
		cfg.Coordinator.BaseURL = defaultCoordinatorURL
	}
	if cfg.Coordinator.WorkPath == "" {
		cfg.Coordinator.WorkPath = coordinator.DefaultWorkPath
	}
	if cfg.Coordinator.SubmitPath == "" {
		cfg.Coordinator.SubmitPath = coordinator.DefaultSubmitPath
	}
	if cfg.Coordinator.RetryDelay == 0 {
		cfg.Coordinator.RetryDelay = transport.DefaultRetryDelay
	}
	if cfg.Coordinator.AttemptTimeout == 0 {
		cfg.Coordinator.AttemptTimeout = transport.DefaultAttemptTimeout
	}
	if cfg.Coordinator.IdleBackoff == 0 {
		cfg.Coordinator.IdleBackoff = worker.DefaultIdleBackoff
	}
	if cfg.Source.URLTemplate == "" {
		cfg.Source.URLTemplate = source.DefaultURLTemplate
	}
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = source.DefaultTimeout
	}
	if cfg.Worker.PoolSize == 0 {
		cfg.Worker.PoolSize = batch.DefaultPoolSize
	}
	if cfg.Worker.ShutdownGrace == 0 {
		cfg.Worker.ShutdownGrace = worker.DefaultShutdownGrace
	}
	if cfg.Redis.Key == "" {
		cfg.Redis.Key = defaultStatsKeyPrefix
	}
	if cfg.Redis.Timeout == 0 {
		cfg.Redis.Timeout = defaultStatsTimeout
	}
}

func validate(cfg *AppConfig) error {
	if cfg.Worker.PoolSize < 1 {
		return appErr.Newf(appErr.InvalidConfig, "worker.poolSize must be positive, got %d", cfg.Worker.PoolSize)
	}
	durations := map[string]time.Duration{
		"coordinator.retryDelay":     cfg.Coordinator.RetryDelay,
		"coordinator.attemptTimeout": cfg.Coordinator.AttemptTimeout,
		"coordinator.idleBackoff":    cfg.Coordinator.IdleBackoff,
		"source.timeout":             cfg.Source.Timeout,
		"worker.shutdownGrace":       cfg.Worker.ShutdownGrace,
	}
	for name, d := range durations {
		if d < 0 {
			return appErr.Newf(appErr.InvalidConfig, "%s must not be negative", name)
		}
	}
	if _, err := source.TemplateOrigin(cfg.Source.URLTemplate); err != nil {
		return err
	}
	return nil
}
