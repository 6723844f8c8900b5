package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string        `toml:"environment"` // "development" or "production"
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Gateway     GatewayConfig `toml:"gateway"`
	Auth        AuthConfig    `toml:"auth"`
	Logging     LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	SQLite SQLiteConfig `toml:"sqlite"`
	Cache  CacheConfig  `toml:"cache"`
}

// SQLiteConfig configures the relational backend. A non-empty path enables it.
type SQLiteConfig struct {
	Path          string `toml:"path"`
	CacheSizeMB   int    `toml:"cache_size_mb"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
	WALMode       bool   `toml:"wal_mode"`
}

// CacheConfig configures the Badger cache backend, used when SQLite is not
// configured. Any cache failure silently falls back to in-process storage.
type CacheConfig struct {
	Path string `toml:"path"`
}

type GatewayConfig struct {
	QueueCacheTTL      string `toml:"queue_cache_ttl"`      // e.g. "5s" - worker load cache validity
	WorkerTimeout      string `toml:"worker_timeout"`       // e.g. "30s" - outbound worker request timeout
	ProbeTimeout       string `toml:"probe_timeout"`        // e.g. "5s" - health and live-queue probe timeout
	DispatcherTick     string `toml:"dispatcher_tick"`      // e.g. "500ms" - dispatcher batch interval
	DispatchBatch      int    `toml:"dispatch_batch"`       // max jobs dispatched per tick
	ProberSchedule     string `toml:"prober_schedule"`      // cron spec, e.g. "@every 30s"
	ReconnectInterval  string `toml:"reconnect_interval"`   // e.g. "30s" - progress monitor reconnect loop
	FleetProbeInterval string `toml:"fleet_probe_interval"` // e.g. "1s" - min gap between fleet-wide probes on /api/queue
}

type AuthConfig struct {
	WorkerUsername string `toml:"worker_username"` // global worker basic-auth fallback
	WorkerPassword string `toml:"worker_password"`
	AdminUsername  string `toml:"admin_username"`
	AdminPassword  string `toml:"admin_password"`
	JWTSecret      string `toml:"jwt_secret"`
	JWTExpireHours int    `toml:"jwt_expire_hours"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig returns the built-in defaults. File, environment, and CLI
// overrides are layered on top in that order.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8188,
			Host: "0.0.0.0",
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				CacheSizeMB:   64,
				BusyTimeoutMS: 5000,
				WALMode:       true,
			},
		},
		Gateway: GatewayConfig{
			QueueCacheTTL:      "5s",
			WorkerTimeout:      "30s",
			ProbeTimeout:       "5s",
			DispatcherTick:     "500ms",
			DispatchBatch:      20,
			ProberSchedule:     "@every 30s",
			ReconnectInterval:  "30s",
			FleetProbeInterval: "1s",
		},
		Auth: AuthConfig{
			AdminUsername:  "admin",
			JWTExpireHours: 24,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration from one or more TOML files. Later files
// override earlier ones; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

func applyEnvOverrides(config *Config) {
	if env := os.Getenv("GANTRY_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server
	if port := os.Getenv("GANTRY_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("GANTRY_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage
	if path := os.Getenv("GANTRY_SQLITE_PATH"); path != "" {
		config.Storage.SQLite.Path = path
	}
	if path := os.Getenv("GANTRY_CACHE_PATH"); path != "" {
		config.Storage.Cache.Path = path
	}

	// Gateway
	if ttl := os.Getenv("GANTRY_QUEUE_CACHE_TTL"); ttl != "" {
		config.Gateway.QueueCacheTTL = ttl
	}
	if timeout := os.Getenv("GANTRY_WORKER_TIMEOUT"); timeout != "" {
		config.Gateway.WorkerTimeout = timeout
	}
	if tick := os.Getenv("GANTRY_DISPATCHER_TICK"); tick != "" {
		config.Gateway.DispatcherTick = tick
	}
	if batch := os.Getenv("GANTRY_DISPATCH_BATCH"); batch != "" {
		if b, err := strconv.Atoi(batch); err == nil {
			config.Gateway.DispatchBatch = b
		}
	}
	if schedule := os.Getenv("GANTRY_PROBER_SCHEDULE"); schedule != "" {
		config.Gateway.ProberSchedule = schedule
	}

	// Auth
	if user := os.Getenv("GANTRY_WORKER_AUTH_USERNAME"); user != "" {
		config.Auth.WorkerUsername = user
	}
	if pass := os.Getenv("GANTRY_WORKER_AUTH_PASSWORD"); pass != "" {
		config.Auth.WorkerPassword = pass
	}
	if user := os.Getenv("GANTRY_ADMIN_USERNAME"); user != "" {
		config.Auth.AdminUsername = user
	}
	if pass := os.Getenv("GANTRY_ADMIN_PASSWORD"); pass != "" {
		config.Auth.AdminPassword = pass
	}
	if secret := os.Getenv("GANTRY_JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}

	// Logging
	if level := os.Getenv("GANTRY_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("GANTRY_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// UseSQLite reports whether the relational backend is configured.
func (c *Config) UseSQLite() bool {
	return c.Storage.SQLite.Path != ""
}

// UseCache reports whether the Badger cache backend is configured.
func (c *Config) UseCache() bool {
	return c.Storage.Cache.Path != ""
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// QueueCacheTTL returns the parsed worker load cache TTL.
func (c *GatewayConfig) QueueCacheTTLDuration() time.Duration {
	return parseDurationOr(c.QueueCacheTTL, 5*time.Second)
}

// WorkerTimeoutDuration returns the parsed outbound request timeout.
func (c *GatewayConfig) WorkerTimeoutDuration() time.Duration {
	return parseDurationOr(c.WorkerTimeout, 30*time.Second)
}

// ProbeTimeoutDuration returns the parsed probe timeout.
func (c *GatewayConfig) ProbeTimeoutDuration() time.Duration {
	return parseDurationOr(c.ProbeTimeout, 5*time.Second)
}

// DispatcherTickDuration returns the parsed dispatcher interval.
func (c *GatewayConfig) DispatcherTickDuration() time.Duration {
	return parseDurationOr(c.DispatcherTick, 500*time.Millisecond)
}

// ReconnectIntervalDuration returns the parsed monitor reconnect interval.
func (c *GatewayConfig) ReconnectIntervalDuration() time.Duration {
	return parseDurationOr(c.ReconnectInterval, 30*time.Second)
}

// FleetProbeIntervalDuration returns the parsed fleet probe throttle interval.
func (c *GatewayConfig) FleetProbeIntervalDuration() time.Duration {
	return parseDurationOr(c.FleetProbeInterval, time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
