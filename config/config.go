package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Validate when a field is left unset.
const (
	DefaultHistoryCapacity      = 100
	DefaultDailyPostLimit       = 3
	DefaultDailyScrollSeconds   = 1800 // 30 minutes
	DefaultScrollWarningSeconds = 300  // warn inside the last 5 minutes
	DefaultDebounceInterval     = 500 * time.Millisecond
	DefaultCacheTTL             = 1 * time.Minute
)

type Logging struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

type Reactive struct {
	HistoryCapacity  int           `yaml:"historyCapacity"`
	DebounceInterval time.Duration `yaml:"debounceInterval"`
}

type Limits struct {
	DailyPosts           int `yaml:"dailyPosts"`
	DailyScrollSeconds   int `yaml:"dailyScrollSeconds"`
	ScrollWarningSeconds int `yaml:"scrollWarningSeconds"`
}

type Cache struct {
	StandardTTL time.Duration `yaml:"standard-ttl"`
}

type RateLimiterConfig struct {
	Limit float64 `yaml:"limit"` // Operations per second
	Burst int     `yaml:"burst"` // Burst size
}

type RateLimiters struct {
	Users    RateLimiterConfig `yaml:"users"`
	Posts    RateLimiterConfig `yaml:"posts"`
	Messages RateLimiterConfig `yaml:"messages"`
	Default  RateLimiterConfig `yaml:"default"`
}

type Config struct {
	DataDir      string       `yaml:"dataDir"`
	Logging      Logging      `yaml:"logging"`
	Reactive     Reactive     `yaml:"reactive"`
	Limits       Limits       `yaml:"limits"`
	Cache        Cache        `yaml:"cache"`
	RateLimiters RateLimiters `yaml:"rateLimiters"`
}

var (
	ErrConfigFileMissing        = errors.New("config file is missing")
	ErrConfigFileUnreadable     = errors.New("config file is unreadable")
	ErrConfigFileUnmarshallable = errors.New("config file is unmarshallable")
	ErrDataDirMissing           = errors.New("dataDir is missing in config and is required for the document store")
	ErrNegativeLimit            = errors.New("limits must not be negative")
	ErrWarningExceedsBudget     = errors.New("scrollWarningSeconds must be smaller than dailyScrollSeconds")
)

func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, ErrConfigFileMissing
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrConfigFileUnreadable
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, ErrConfigFileUnmarshallable
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fills defaults and rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return ErrDataDirMissing
	}

	if c.Limits.DailyPosts < 0 || c.Limits.DailyScrollSeconds < 0 || c.Limits.ScrollWarningSeconds < 0 {
		return ErrNegativeLimit
	}
	if c.Limits.DailyPosts == 0 {
		c.Limits.DailyPosts = DefaultDailyPostLimit
	}
	if c.Limits.DailyScrollSeconds == 0 {
		c.Limits.DailyScrollSeconds = DefaultDailyScrollSeconds
	}
	if c.Limits.ScrollWarningSeconds == 0 {
		c.Limits.ScrollWarningSeconds = DefaultScrollWarningSeconds
	}
	if c.Limits.ScrollWarningSeconds >= c.Limits.DailyScrollSeconds {
		return ErrWarningExceedsBudget
	}

	if c.Reactive.HistoryCapacity <= 0 {
		c.Reactive.HistoryCapacity = DefaultHistoryCapacity
	}
	if c.Reactive.DebounceInterval <= 0 {
		c.Reactive.DebounceInterval = DefaultDebounceInterval
	}

	if c.Cache.StandardTTL <= 0 {
		c.Cache.StandardTTL = DefaultCacheTTL
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	return nil
}
