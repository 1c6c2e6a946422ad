package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/Naeem401/sport-server/internal/api"
	"github.com/Naeem401/sport-server/internal/cache"
	"github.com/Naeem401/sport-server/internal/fetcher"
	"github.com/Naeem401/sport-server/internal/notifier"
	"github.com/Naeem401/sport-server/internal/scheduler"
	"github.com/Naeem401/sport-server/internal/upstream"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Cache     CacheConfig     `yaml:"cache"`
	Fetcher   FetcherConfig   `yaml:"fetcher"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
	IdleTimeout  int    `yaml:"idle_timeout"`
}

// UpstreamConfig contains data provider settings
type UpstreamConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	RetryMax       int    `yaml:"retry_max"`
	RetryWaitMinMs int    `yaml:"retry_wait_min_ms"`
	RetryWaitMaxMs int    `yaml:"retry_wait_max_ms"`
}

// CacheConfig contains dataset cache settings
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// FetcherConfig contains fetch pipeline settings
type FetcherConfig struct {
	TTLSeconds         int      `yaml:"ttl_seconds"`
	MaxLimit           int      `yaml:"max_limit"`
	FallbackWindowDays int      `yaml:"fallback_window_days"`
	Sports             []string `yaml:"sports"`
}

// SchedulerConfig contains refresh scheduler settings
type SchedulerConfig struct {
	UpdateIntervalSeconds    int `yaml:"update_interval_seconds"`
	SweepIntervalSeconds     int `yaml:"sweep_interval_seconds"`
	InactivityTimeoutSeconds int `yaml:"inactivity_timeout_seconds"`
}

// NotifierConfig contains real-time notification settings
type NotifierConfig struct {
	MaxIdleTime       int `yaml:"max_idle_time"`
	HeartbeatInterval int `yaml:"heartbeat_interval"`
	SendBufferSize    int `yaml:"send_buffer_size"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level         string            `yaml:"level"`
	Format        string            `yaml:"format"`
	IncludeCaller bool              `yaml:"include_caller"`
	GlobalFields  map[string]string `yaml:"global_fields"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Enabled       bool              `yaml:"enabled"`
	ServiceName   string            `yaml:"service_name"`
	Endpoint      string            `yaml:"endpoint"`
	SamplingRatio float64           `yaml:"sampling_ratio"`
	Attributes    map[string]string `yaml:"attributes"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  5,
			WriteTimeout: 10,
			IdleTimeout:  120,
		},
		Upstream: UpstreamConfig{
			BaseURL:        "https://apiv2.allsportsapi.com",
			TimeoutSeconds: 10,
			RetryMax:       2,
			RetryWaitMinMs: 500,
			RetryWaitMaxMs: 5000,
		},
		Cache: CacheConfig{
			Capacity: 10000,
		},
		Fetcher: FetcherConfig{
			TTLSeconds:         60,
			MaxLimit:           500,
			FallbackWindowDays: 7,
			Sports:             []string{"football", "basketball", "tennis", "cricket", "hockey"},
		},
		Scheduler: SchedulerConfig{
			UpdateIntervalSeconds:    15,
			SweepIntervalSeconds:     60,
			InactivityTimeoutSeconds: 300,
		},
		Notifier: NotifierConfig{
			MaxIdleTime:       30,
			HeartbeatInterval: 5,
			SendBufferSize:    100,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "json",
			IncludeCaller: true,
			GlobalFields:  map[string]string{},
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			ServiceName:   "sport-server",
			Endpoint:      "localhost:4317",
			SamplingRatio: 0.1,
			Attributes:    map[string]string{},
		},
	}
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filePath string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", filePath).Msg("Configuration file not found, using defaults")
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration from file, environment variables, and flags
func LoadConfig(configFile string, serverAddr string, logLevel string) (*Config, error) {
	var config *Config
	var err error

	if configFile != "" {
		config, err = LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		config = DefaultConfig()
	}

	applyEnvOverrides(config)

	// command line flags have the highest priority
	if serverAddr != "" {
		config.Server.Addr = serverAddr
	}
	if logLevel != "" {
		config.Logging.Level = logLevel
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(config *Config) {
	if addr := os.Getenv("SPORT_SERVER_ADDR"); addr != "" {
		config.Server.Addr = addr
	}

	if baseURL := os.Getenv("SPORT_UPSTREAM_BASE_URL"); baseURL != "" {
		config.Upstream.BaseURL = baseURL
	}
	if apiKey := os.Getenv("SPORT_UPSTREAM_API_KEY"); apiKey != "" {
		config.Upstream.APIKey = apiKey
	}
	if ttlStr := os.Getenv("SPORT_FETCHER_TTL_SECONDS"); ttlStr != "" {
		if val, err := strconv.Atoi(ttlStr); err == nil {
			config.Fetcher.TTLSeconds = val
		}
	}
	if intervalStr := os.Getenv("SPORT_SCHEDULER_UPDATE_INTERVAL_SECONDS"); intervalStr != "" {
		if val, err := strconv.Atoi(intervalStr); err == nil {
			config.Scheduler.UpdateIntervalSeconds = val
		}
	}

	if level := os.Getenv("SPORT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("SPORT_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
}

// ToAPIConfig converts the central config to the API server config
func (c *Config) ToAPIConfig() api.Config {
	return api.Config{
		Addr:         c.Server.Addr,
		ReadTimeout:  time.Duration(c.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(c.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(c.Server.IdleTimeout) * time.Second,
	}
}

// ToUpstreamConfig converts the central config to the upstream client config
func (c *Config) ToUpstreamConfig() upstream.Config {
	return upstream.Config{
		BaseURL:      c.Upstream.BaseURL,
		APIKey:       c.Upstream.APIKey,
		Timeout:      time.Duration(c.Upstream.TimeoutSeconds) * time.Second,
		RetryMax:     c.Upstream.RetryMax,
		RetryWaitMin: time.Duration(c.Upstream.RetryWaitMinMs) * time.Millisecond,
		RetryWaitMax: time.Duration(c.Upstream.RetryWaitMaxMs) * time.Millisecond,
	}
}

// ToCacheConfig converts the central config to the cache config
func (c *Config) ToCacheConfig() cache.Config {
	return cache.Config{
		Capacity: c.Cache.Capacity,
	}
}

// ToFetcherConfig converts the central config to the fetch coordinator config
func (c *Config) ToFetcherConfig() fetcher.Config {
	return fetcher.Config{
		TTL:                time.Duration(c.Fetcher.TTLSeconds) * time.Second,
		MaxLimit:           c.Fetcher.MaxLimit,
		FallbackWindowDays: c.Fetcher.FallbackWindowDays,
		KnownSports:        c.Fetcher.Sports,
	}
}

// ToSchedulerConfig converts the central config to the scheduler config
func (c *Config) ToSchedulerConfig() scheduler.Config {
	return scheduler.Config{
		UpdateInterval:    time.Duration(c.Scheduler.UpdateIntervalSeconds) * time.Second,
		SweepInterval:     time.Duration(c.Scheduler.SweepIntervalSeconds) * time.Second,
		InactivityTimeout: time.Duration(c.Scheduler.InactivityTimeoutSeconds) * time.Second,
	}
}

// ToNotifierConfig converts the central config to the notifier config
func (c *Config) ToNotifierConfig() notifier.Config {
	return notifier.Config{
		MaxIdleTime:       time.Duration(c.Notifier.MaxIdleTime) * time.Second,
		HeartbeatInterval: time.Duration(c.Notifier.HeartbeatInterval) * time.Second,
		SendBufferSize:    c.Notifier.SendBufferSize,
	}
}
