package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Defaults for the generation pipeline.
const (
	DefaultTimeout           = 5 * time.Second
	DefaultPollInterval      = 20 * time.Millisecond
	DefaultMaxInputBytes     = 300 * BytesPerMB
	DefaultConverterMemoryMB = 2560
	DefaultCacheMaxAge       = 30 * 24 * time.Hour
	DefaultCacheMaxBytes     = 1 * BytesPerGB
	DefaultMemoryEntries     = 256
	DefaultLedgerRetention   = 14
	DefaultHousekeepInterval = time.Hour
)

// Config holds all configuration values
type Config struct {
	// Generation
	Timeout           time.Duration // Wall-clock limit per generation (default: 5s)
	PollInterval      time.Duration // Executor completion poll interval (default: 20ms)
	MaxInputBytes     int64         // Inputs above this short-circuit to TooLarge (default: 300MB)
	ConverterMemoryMB int64         // Memory ceiling for external converters (default: 2560)

	// Cache
	CacheDir      string        // Empty when no state directory resolves; caching is then disabled
	CacheMaxAge   time.Duration // Prune entries not read or written for this long (default: 720h)
	CacheMaxBytes int64         // Prune oldest entries beyond this total (default: 1GB)
	MemoryEntries int           // In-memory decoded thumbnail tier capacity, 0 disables (default: 256)

	// Ledger
	LedgerEnabled       bool   // Record generation attempts in sqlite (default: true)
	LedgerPath          string // Empty disables the ledger
	LedgerRetentionDays int    // Housekeeping deletes older attempts (default: 14)

	// External converters
	ConvertersPath string // YAML converters file (missing file means built-in defaults)
	CgroupParent   string // Delegated cgroup v2 directory for converter groups (Linux only)

	// Housekeeping
	WatchDirs         []string      // Roots the service prewarms on change
	HousekeepInterval time.Duration // Period between prune/cleanup sweeps (default: 1h)

	// Logging
	LogLevel string // debug, info, warn, error (default: info)
	LogFile  string // Empty logs to the console only
	DevMode  bool   // Development console logging
}

// LoadConfig reads configuration from the environment.
// Call godotenv.Load beforehand to pick up a .env file.
//
// A missing per-user state directory is not an error: the derived paths are
// left empty and the components that need them run disabled.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Timeout:             ParseDurationEnv("SPACETHUMBS_TIMEOUT", DefaultTimeout),
		PollInterval:        ParseDurationEnv("SPACETHUMBS_POLL_INTERVAL", DefaultPollInterval),
		MaxInputBytes:       ParseBytesEnv("SPACETHUMBS_MAX_INPUT_BYTES", DefaultMaxInputBytes),
		ConverterMemoryMB:   ParseInt64Env("SPACETHUMBS_CONVERTER_MEMORY_MB", DefaultConverterMemoryMB),
		CacheMaxAge:         ParseDurationEnv("SPACETHUMBS_CACHE_MAX_AGE", DefaultCacheMaxAge),
		CacheMaxBytes:       ParseBytesEnv("SPACETHUMBS_CACHE_MAX_BYTES", DefaultCacheMaxBytes),
		MemoryEntries:       ParseIntEnv("SPACETHUMBS_MEMORY_ENTRIES", DefaultMemoryEntries),
		LedgerEnabled:       ParseBoolEnv("SPACETHUMBS_LEDGER", true),
		LedgerRetentionDays: ParseIntEnv("SPACETHUMBS_LEDGER_RETENTION_DAYS", DefaultLedgerRetention),
		CgroupParent:        os.Getenv("SPACETHUMBS_CGROUP_PARENT"),
		WatchDirs:           ParseListEnv("SPACETHUMBS_WATCH_DIRS"),
		HousekeepInterval:   ParseDurationEnv("SPACETHUMBS_HOUSEKEEP_INTERVAL", DefaultHousekeepInterval),
		LogLevel:            GetEnvOrDefault("LOG_LEVEL", "info"),
		DevMode:             ParseBoolEnv("DEV_MODE", false),
	}

	stateDir, stateErr := GetStateDirectory()
	derive := func(elem ...string) string {
		if stateErr != nil {
			return ""
		}
		return filepath.Join(append([]string{stateDir}, elem...)...)
	}

	cfg.CacheDir = GetEnvOrDefault("SPACETHUMBS_CACHE_DIR", derive("cache"))
	cfg.ConvertersPath = GetEnvOrDefault("SPACETHUMBS_CONVERTERS", derive("converters.yaml"))
	cfg.LogFile = GetEnvOrDefault("SPACETHUMBS_LOG_FILE", derive("logs", "spacethumbs.log"))
	if cfg.LedgerEnabled {
		cfg.LedgerPath = GetEnvOrDefault("SPACETHUMBS_LEDGER_PATH", derive("ledger.db"))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.Timeout <= 0:
		return ErrInvalidValue("SPACETHUMBS_TIMEOUT", c.Timeout.String(), "a positive duration such as 5s")
	case c.PollInterval <= 0 || c.PollInterval > c.Timeout:
		return ErrInvalidValue("SPACETHUMBS_POLL_INTERVAL", c.PollInterval.String(), "a positive duration no longer than the timeout")
	case c.MaxInputBytes <= 0:
		return ErrInvalidValue("SPACETHUMBS_MAX_INPUT_BYTES", fmt.Sprint(c.MaxInputBytes), "a positive size such as 300MB")
	case c.ConverterMemoryMB <= 0:
		return ErrInvalidValue("SPACETHUMBS_CONVERTER_MEMORY_MB", fmt.Sprint(c.ConverterMemoryMB), "a positive number of megabytes")
	case c.MemoryEntries < 0:
		return ErrInvalidValue("SPACETHUMBS_MEMORY_ENTRIES", fmt.Sprint(c.MemoryEntries), "zero or a positive count")
	case c.LedgerRetentionDays < 0:
		return ErrInvalidValue("SPACETHUMBS_LEDGER_RETENTION_DAYS", fmt.Sprint(c.LedgerRetentionDays), "zero or a positive number of days")
	case c.HousekeepInterval < time.Minute:
		return ErrInvalidValue("SPACETHUMBS_HOUSEKEEP_INTERVAL", c.HousekeepInterval.String(), "at least 1m")
	}
	if _, err := ParseLevelName(c.LogLevel); err != nil {
		return ErrInvalidValue("LOG_LEVEL", c.LogLevel, "debug, info, warn or error")
	}
	return nil
}

// ConverterMemoryBytes returns the converter ceiling in bytes.
func (c *Config) ConverterMemoryBytes() uint64 {
	return uint64(c.ConverterMemoryMB) * uint64(BytesPerMB)
}

// ParseLevelName normalises a log level name.
func ParseLevelName(level string) (string, error) {
	switch l := strings.ToLower(strings.TrimSpace(level)); l {
	case "debug", "info", "warn", "error":
		return l, nil
	case "warning":
		return "warn", nil
	}
	return "", fmt.Errorf("unknown log level %q", level)
}
