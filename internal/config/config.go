package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Network   NetworkConfig   `mapstructure:"network"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

// UpstreamConfig points at the remote billing server. The service only ever
// talks to it over plain HTTP; it is not a database peer.
type UpstreamConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	SalePath       string `mapstructure:"sale_path"`
	RequestTimeout string `mapstructure:"request_timeout"`
}

func (u UpstreamConfig) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(u.RequestTimeout)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

type StorageConfig struct {
	FilePath string `mapstructure:"file_path"`
}

type SyncConfig struct {
	StartupDelay   string `mapstructure:"startup_delay"`
	AttemptTimeout string `mapstructure:"attempt_timeout"`
	BackoffBase    string `mapstructure:"backoff_base"`
	BackoffCap     string `mapstructure:"backoff_cap"`
}

func (s SyncConfig) GetStartupDelay() time.Duration {
	d, err := time.ParseDuration(s.StartupDelay)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

func (s SyncConfig) GetAttemptTimeout() time.Duration {
	d, err := time.ParseDuration(s.AttemptTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

func (s SyncConfig) GetBackoffBase() time.Duration {
	d, err := time.ParseDuration(s.BackoffBase)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

func (s SyncConfig) GetBackoffCap() time.Duration {
	d, err := time.ParseDuration(s.BackoffCap)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type CacheConfig struct {
	Version         string   `mapstructure:"version"`
	APIPrefix       string   `mapstructure:"api_prefix"`
	RequiredAssets  []string `mapstructure:"required_assets"`
	OptionalAssets  []string `mapstructure:"optional_assets"`
	PrecachedRoutes []string `mapstructure:"precached_routes"`
}

type NetworkConfig struct {
	ProbeInterval string `mapstructure:"probe_interval"`
	ProbeTimeout  string `mapstructure:"probe_timeout"`
}

func (n NetworkConfig) GetProbeInterval() time.Duration {
	d, err := time.ParseDuration(n.ProbeInterval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

func (n NetworkConfig) GetProbeTimeout() time.Duration {
	d, err := time.ParseDuration(n.ProbeTimeout)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("upstream.sale_path", "/add-sale")
	v.SetDefault("storage.file_path", "./possync.db")
	v.SetDefault("sync.startup_delay", "2s")
	v.SetDefault("sync.attempt_timeout", "10s")
	v.SetDefault("sync.backoff_base", "5s")
	v.SetDefault("sync.backoff_cap", "10m")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "@every 1m")
	v.SetDefault("cache.version", "v1")
	v.SetDefault("cache.api_prefix", "/api/")
	v.SetDefault("network.probe_interval", "5s")
	v.SetDefault("network.probe_timeout", "2s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Upstream.BaseURL == "" {
		return nil, fmt.Errorf("upstream.base_url is required")
	}

	return &cfg, nil
}
