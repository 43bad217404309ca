package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageConfig holds on-disk layout configuration
type StorageConfig struct {
	// DataDir is the launcher root; every other path defaults under it
	DataDir      string `yaml:"data_dir"`
	InstancesDir string `yaml:"instances_dir"`
	ObjectsDir   string `yaml:"objects_dir"`
	CacheDir     string `yaml:"cache_dir"`
}

// CatalogConfig holds version catalog cache configuration
type CatalogConfig struct {
	URL            string        `yaml:"url"`
	Freshness      time.Duration `yaml:"freshness"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	FallbackFile   string        `yaml:"fallback_file"`
}

// ProvisionConfig holds provisioner configuration
type ProvisionConfig struct {
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	DownloadRate   float64       `yaml:"download_rate"`
	DownloadBurst  int           `yaml:"download_burst"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AssetsURL      string        `yaml:"assets_url"`
}

// InstanceConfig holds per-instance defaults
type InstanceConfig struct {
	DefaultMinMemoryMB int `yaml:"default_min_memory_mb"`
	DefaultMaxMemoryMB int `yaml:"default_max_memory_mb"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete launcher configuration
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Provision ProvisionConfig `yaml:"provision"`
	Instance  InstanceConfig  `yaml:"instance"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file exists
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.Storage.DataDir = filepath.Join(home, ".openblock")
	}
	if cfg.Storage.InstancesDir == "" {
		cfg.Storage.InstancesDir = filepath.Join(cfg.Storage.DataDir, "instances")
	}
	if cfg.Storage.ObjectsDir == "" {
		cfg.Storage.ObjectsDir = filepath.Join(cfg.Storage.DataDir, "objects")
	}
	if cfg.Storage.CacheDir == "" {
		cfg.Storage.CacheDir = filepath.Join(cfg.Storage.DataDir, "cache")
	}

	if cfg.Catalog.URL == "" {
		cfg.Catalog.URL = "https://meta.openblock.dev/v1/catalog"
	}
	if cfg.Catalog.Freshness == 0 {
		cfg.Catalog.Freshness = 5 * time.Second
	}
	if cfg.Catalog.FetchTimeout == 0 {
		cfg.Catalog.FetchTimeout = 10 * time.Second
	}
	if cfg.Catalog.FallbackFile == "" {
		cfg.Catalog.FallbackFile = filepath.Join(cfg.Storage.CacheDir, "catalog_snapshot.json")
	}

	if cfg.Provision.Workers == 0 {
		cfg.Provision.Workers = 8
	}
	if cfg.Provision.QueueSize == 0 {
		cfg.Provision.QueueSize = 128
	}
	if cfg.Provision.MaxRetries == 0 {
		cfg.Provision.MaxRetries = 3
	}
	if cfg.Provision.RetryBackoff == 0 {
		cfg.Provision.RetryBackoff = 250 * time.Millisecond
	}
	if cfg.Provision.DownloadRate == 0 {
		cfg.Provision.DownloadRate = 64 // requests per second across all workers
	}
	if cfg.Provision.DownloadBurst == 0 {
		cfg.Provision.DownloadBurst = 16
	}
	if cfg.Provision.RequestTimeout == 0 {
		cfg.Provision.RequestTimeout = 30 * time.Second
	}
	if cfg.Provision.AssetsURL == "" {
		cfg.Provision.AssetsURL = "https://assets.openblock.dev"
	}

	if cfg.Instance.DefaultMinMemoryMB == 0 {
		cfg.Instance.DefaultMinMemoryMB = 1024
	}
	if cfg.Instance.DefaultMaxMemoryMB == 0 {
		cfg.Instance.DefaultMaxMemoryMB = 2048
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.Provision.Workers < 1 {
		return fmt.Errorf("provision.workers must be at least 1")
	}
	if c.Provision.MaxRetries < 0 {
		return fmt.Errorf("provision.max_retries cannot be negative")
	}
	if c.Catalog.Freshness <= 0 {
		return fmt.Errorf("catalog.freshness must be positive")
	}
	if c.Instance.DefaultMinMemoryMB > c.Instance.DefaultMaxMemoryMB {
		return fmt.Errorf("instance.default_min_memory_mb exceeds default_max_memory_mb")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}
