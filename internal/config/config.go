// Package config provides application configuration management.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxPoolSize    = 20
	maxTaskTimeout = 10 * time.Minute
	minTaskTTL     = 1 * time.Minute
	maxTaskTTL     = 72 * time.Hour
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Server settings
	Host      string
	Port      int
	ClientKey string

	// Pool settings
	MaxTasks    int
	TaskTimeout time.Duration
	TaskTTL     time.Duration

	// Browser settings
	Headless    bool
	BrowserPath string

	// Tunnel settings
	UseFingerprintTunnel bool

	// Proxy defaults
	DefaultProxy    string
	AllowLocalProxy bool

	// Logging
	LogLevel string

	// Metrics
	MetricsEnabled bool
	MetricsPort    int

	// Selectors settings
	SelectorsPath      string
	SelectorsHotReload bool
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		// Default to localhost for safety; set HOST=0.0.0.0 explicitly to
		// bind all interfaces.
		Host:      getEnvString("HOST", "127.0.0.1"),
		Port:      getEnvInt("PORT", 3000),
		ClientKey: getEnvString("CLIENT_KEY", ""),

		MaxTasks:    getEnvInt("MAX_TASKS", 1),
		TaskTimeout: getEnvDuration("TASK_TIMEOUT", 120*time.Second),
		TaskTTL:     getEnvDuration("TASK_TTL", 24*time.Hour),

		Headless:    getEnvBool("HEADLESS", false),
		BrowserPath: getEnvString("BROWSER_PATH", ""),

		UseFingerprintTunnel: getEnvBool("USE_FINGERPRINT_TUNNEL", true),

		DefaultProxy:    getEnvString("DEFAULT_PROXY", ""),
		AllowLocalProxy: getEnvBool("ALLOW_LOCAL_PROXY", false),

		LogLevel: getEnvString("LOG_LEVEL", "info"),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", false),
		MetricsPort:    getEnvInt("METRICS_PORT", 9090),

		SelectorsPath:      getEnvString("SELECTORS_PATH", ""),
		SelectorsHotReload: getEnvBool("SELECTORS_HOT_RELOAD", false),
	}
}

// HasDefaultProxy reports whether a default upstream proxy is configured.
func (c *Config) HasDefaultProxy() bool {
	return c.DefaultProxy != ""
}

// Validate checks configuration values and logs warnings for invalid ones.
// Invalid values are corrected to sensible defaults.
func (c *Config) Validate() {
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 3000")
		c.Port = 3000
	}

	if c.MaxTasks < 1 {
		log.Warn().Int("max_tasks", c.MaxTasks).Msg("Invalid pool size, using 1")
		c.MaxTasks = 1
	} else if c.MaxTasks > maxPoolSize {
		log.Warn().
			Int("max_tasks", c.MaxTasks).
			Int("max", maxPoolSize).
			Msg("Pool size too large, capping to maximum")
		c.MaxTasks = maxPoolSize
	}

	if c.TaskTimeout < time.Second {
		log.Warn().Dur("timeout", c.TaskTimeout).Msg("Task timeout too short, using 120s")
		c.TaskTimeout = 120 * time.Second
	} else if c.TaskTimeout > maxTaskTimeout {
		log.Warn().
			Dur("timeout", c.TaskTimeout).
			Dur("max", maxTaskTimeout).
			Msg("Task timeout too long, capping to maximum")
		c.TaskTimeout = maxTaskTimeout
	}

	if c.TaskTTL < minTaskTTL {
		log.Warn().Dur("ttl", c.TaskTTL).Msg("Task TTL too short, using minimum")
		c.TaskTTL = minTaskTTL
	} else if c.TaskTTL > maxTaskTTL {
		log.Warn().Dur("ttl", c.TaskTTL).Msg("Task TTL too long, using maximum")
		c.TaskTTL = maxTaskTTL
	}

	if c.BrowserPath != "" {
		if strings.Contains(c.BrowserPath, "..") {
			log.Error().
				Str("path", c.BrowserPath).
				Msg("BrowserPath contains path traversal sequence (..), ignoring")
			c.BrowserPath = ""
		}
	}

	if c.MetricsEnabled {
		if c.MetricsPort < 1 || c.MetricsPort > 65535 {
			log.Warn().Int("port", c.MetricsPort).Msg("Invalid metrics port, using 9090")
			c.MetricsPort = 9090
		}
		if c.MetricsPort == c.Port {
			log.Warn().Int("port", c.MetricsPort).Msg("Metrics port conflicts with server port, disabling metrics")
			c.MetricsEnabled = false
		}
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	if c.DefaultProxy != "" && !strings.Contains(c.DefaultProxy, "://") {
		log.Warn().Msg("DEFAULT_PROXY missing scheme, http:// will be assumed")
	}

	if c.ClientKey == "" {
		log.Warn().Msg("CLIENT_KEY not set - task API accepts unauthenticated requests")
	}

	if c.SelectorsPath != "" && strings.Contains(c.SelectorsPath, "..") {
		log.Error().
			Str("path", c.SelectorsPath).
			Msg("SelectorsPath contains path traversal sequence (..), ignoring")
		c.SelectorsPath = ""
	}
	if c.SelectorsHotReload && c.SelectorsPath == "" {
		log.Warn().Msg("SELECTORS_HOT_RELOAD enabled but SELECTORS_PATH not set - hot-reload disabled")
		c.SelectorsHotReload = false
	}
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil && duration > 0 {
			return duration
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}
