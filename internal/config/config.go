package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "EXCHANGE_CALENDAR_SERVICE"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Venues   []VenueConfig  `mapstructure:"venues"`
	Provider ProviderConfig `mapstructure:"provider"`
	Search   SearchConfig   `mapstructure:"search"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Client   ClientConfig   `mapstructure:"client"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type VenueConfig struct {
	MIC  string `mapstructure:"mic"`
	Name string `mapstructure:"name"`
}

type ProviderConfig struct {
	FactsDir        string `mapstructure:"facts_dir"`
	Scmhub          bool   `mapstructure:"scmhub"`
	RefreshSchedule string `mapstructure:"refresh_schedule"`
}

type SearchConfig struct {
	YearWindow int `mapstructure:"year_window"`
}

type CacheConfig struct {
	ClassifyDaySize int `mapstructure:"classify_day_size"`
	SearchSize      int `mapstructure:"search_size"`
}

type AdminConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Enabled reports whether the update endpoint should be mounted.
func (a AdminConfig) Enabled() bool { return a.APIKey != "" }

type ClientConfig struct {
	BaseURL       string  `mapstructure:"base_url"`
	APIKey        string  `mapstructure:"api_key"`
	TimeoutSec    int     `mapstructure:"timeout_sec"`
	RetryCount    int     `mapstructure:"retry_count"`
	RetryDelay    int     `mapstructure:"retry_delay_sec"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

func (c ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	Enabled     bool   `mapstructure:"enabled"`
	Directory   string `mapstructure:"directory"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout_sec", 10)
	v.SetDefault("server.write_timeout_sec", 30)
	v.SetDefault("server.shutdown_timeout_sec", 10)
	v.SetDefault("provider.facts_dir", "facts")
	v.SetDefault("provider.scmhub", true)
	v.SetDefault("provider.refresh_schedule", "")
	v.SetDefault("search.year_window", 30)
	v.SetDefault("cache.classify_day_size", 50)
	v.SetDefault("cache.search_size", 20)
	v.SetDefault("admin.requests_per_second", 1.0)
	v.SetDefault("admin.burst", 5)
	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.timeout_sec", 30)
	v.SetDefault("client.retry_count", 3)
	v.SetDefault("client.retry_delay_sec", 1)
	v.SetDefault("client.rate_per_second", 10.0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.enabled", false)
	v.SetDefault("logging.directory", "logs")

	// Environment variable support
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("admin.api_key", envPrefix+"_CHANGES_API_KEY")
	_ = v.BindEnv("client.api_key", envPrefix+"_CHANGES_API_KEY")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if len(cfg.Venues) == 0 {
		cfg.Venues = DefaultVenues()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
