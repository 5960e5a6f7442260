package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Logging     LoggingConfig   `toml:"logging"`
	Storage     StorageConfig   `toml:"storage"`
	Monitor     MonitorConfig   `toml:"monitor"`
	Pool        PoolConfig      `toml:"pool"`
	Fetcher     FetcherConfig   `toml:"fetcher"`
	Solutions   SolutionsConfig `toml:"solutions"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=0,max=65535"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=debug info warn error"`
	Output []string `toml:"output"` // "stdout", "file"
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path     string `toml:"path"`      // Database directory path
	InMemory bool   `toml:"in_memory"` // Run without a data directory (tests)
}

// MonitorConfig controls the product scheduler's cadence and admission.
type MonitorConfig struct {
	AmazonInterval           string  `toml:"amazon_interval"`                 // base poll interval for amazon targets
	PopmartInterval          string  `toml:"popmart_interval"`                // base poll interval for popmart targets
	MaxConcurrent            int     `toml:"max_concurrent" validate:"min=1"` // scheduler-level in-flight cap
	StartupDelay             string  `toml:"startup_delay"`                   // delay before a target's first run
	QueueDrainMin            string  `toml:"queue_drain_min"`                 // lower bound for queue drain retry
	QueueDrainMax            string  `toml:"queue_drain_max"`                 // upper bound for queue drain retry
	MaxBackoff               string  `toml:"max_backoff"`                     // backoff ceiling
	CleanupSchedule          string  `toml:"cleanup_schedule"`                // cron spec for the stale-entry sweep
	StaleAfter               string  `toml:"stale_after"`                     // evict entries idle longer than this
	BlockConfidenceThreshold float64 `toml:"block_confidence_threshold" validate:"min=0,max=1"`
}

// PoolConfig controls the worker pool.
type PoolConfig struct {
	Size          int    `toml:"size" validate:"min=0,max=64"` // 0 = derive from CPU count
	JobTimeout    string `toml:"job_timeout"`                  // per-job execution timeout
	QueueCapacity int    `toml:"queue_capacity" validate:"min=1"`
}

// FetcherConfig controls the fetch executor.
type FetcherConfig struct {
	RequestTimeout    string  `toml:"request_timeout"`
	MaxBodySize       int     `toml:"max_body_size" validate:"min=1024"`
	MaxRetries        int     `toml:"max_retries" validate:"min=0,max=10"`
	PerHostRPS        float64 `toml:"per_host_rps" validate:"gt=0"` // requests per second per host
	UserAgentRotation bool    `toml:"user_agent_rotation"`
}

// SolutionsConfig controls countermeasure eligibility.
type SolutionsConfig struct {
	ProxyPool []string `toml:"proxy_pool"` // empty = proxy rotation ineligible
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability; only
// user-facing settings should be exposed in shelfwatch.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Monitor: MonitorConfig{
			AmazonInterval:           "15m", // conservative cadence, aggressive anti-bot defenses
			PopmartInterval:          "1m",  // fast-moving stock, higher risk tolerance
			MaxConcurrent:            6,
			StartupDelay:             "5s", // avoid thundering-herd on bulk registration
			QueueDrainMin:            "5s",
			QueueDrainMax:            "10s",
			MaxBackoff:               "5m",
			CleanupSchedule:          "@every 5m",
			StaleAfter:               "1h",
			BlockConfidenceThreshold: 0.6,
		},
		Pool: PoolConfig{
			Size:          0, // max(2, min(8, cores-1))
			JobTimeout:    "30s",
			QueueCapacity: 256,
		},
		Fetcher: FetcherConfig{
			RequestTimeout:    "20s",
			MaxBodySize:       5 * 1024 * 1024, // 5MB
			MaxRetries:        3,
			PerHostRPS:        0.5,
			UserAgentRotation: true,
		},
		Solutions: SolutionsConfig{
			ProxyPool: []string{},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks structural constraints and duration formats.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"monitor.amazon_interval":  c.Monitor.AmazonInterval,
		"monitor.popmart_interval": c.Monitor.PopmartInterval,
		"monitor.startup_delay":    c.Monitor.StartupDelay,
		"monitor.queue_drain_min":  c.Monitor.QueueDrainMin,
		"monitor.queue_drain_max":  c.Monitor.QueueDrainMax,
		"monitor.max_backoff":      c.Monitor.MaxBackoff,
		"monitor.stale_after":      c.Monitor.StaleAfter,
		"pool.job_timeout":         c.Pool.JobTimeout,
		"fetcher.request_timeout":  c.Fetcher.RequestTimeout,
	}
	for key, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", key, value)
		}
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("SHELFWATCH_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("SHELFWATCH_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("SHELFWATCH_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Logging configuration
	if level := os.Getenv("SHELFWATCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	// Storage configuration
	if badgerPath := os.Getenv("SHELFWATCH_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Monitor configuration
	if maxConcurrent := os.Getenv("SHELFWATCH_MONITOR_MAX_CONCURRENT"); maxConcurrent != "" {
		if mc, err := strconv.Atoi(maxConcurrent); err == nil {
			config.Monitor.MaxConcurrent = mc
		}
	}
	if interval := os.Getenv("SHELFWATCH_MONITOR_AMAZON_INTERVAL"); interval != "" {
		config.Monitor.AmazonInterval = interval
	}
	if interval := os.Getenv("SHELFWATCH_MONITOR_POPMART_INTERVAL"); interval != "" {
		config.Monitor.PopmartInterval = interval
	}

	// Pool configuration
	if size := os.Getenv("SHELFWATCH_POOL_SIZE"); size != "" {
		if s, err := strconv.Atoi(size); err == nil {
			config.Pool.Size = s
		}
	}
	if timeout := os.Getenv("SHELFWATCH_POOL_JOB_TIMEOUT"); timeout != "" {
		config.Pool.JobTimeout = timeout
	}

	// Fetcher configuration
	if timeout := os.Getenv("SHELFWATCH_FETCHER_REQUEST_TIMEOUT"); timeout != "" {
		config.Fetcher.RequestTimeout = timeout
	}
	if rotation := os.Getenv("SHELFWATCH_FETCHER_USER_AGENT_ROTATION"); rotation != "" {
		if r, err := strconv.ParseBool(rotation); err == nil {
			config.Fetcher.UserAgentRotation = r
		}
	}
}

// Duration parses a duration string, falling back to the given default when
// the string is empty or malformed. Config validation catches bad values at
// startup; the fallback guards callers constructed with a zero Config.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
