package config

import (
	"os"
	"testing"
	"time"
)

var allEnvVars = []string{
	"HOST", "PORT", "CLIENT_KEY",
	"MAX_TASKS", "TASK_TIMEOUT", "TASK_TTL",
	"HEADLESS", "BROWSER_PATH",
	"USE_FINGERPRINT_TUNNEL",
	"DEFAULT_PROXY", "ALLOW_LOCAL_PROXY",
	"LOG_LEVEL",
	"METRICS_ENABLED", "METRICS_PORT",
	"SELECTORS_PATH", "SELECTORS_HOT_RELOAD",
}

func clearEnv() {
	for _, env := range allEnvVars {
		os.Unsetenv(env)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv()

	cfg := Load()

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Expected default host '127.0.0.1', got %q", cfg.Host)
	}
	if cfg.Port != 3000 {
		t.Errorf("Expected default port 3000, got %d", cfg.Port)
	}
	if cfg.ClientKey != "" {
		t.Errorf("Expected empty ClientKey by default, got %q", cfg.ClientKey)
	}

	if cfg.MaxTasks != 1 {
		t.Errorf("Expected default MaxTasks 1, got %d", cfg.MaxTasks)
	}
	if cfg.TaskTimeout != 120*time.Second {
		t.Errorf("Expected default task timeout 120s, got %v", cfg.TaskTimeout)
	}
	if cfg.TaskTTL != 24*time.Hour {
		t.Errorf("Expected default task TTL 24h, got %v", cfg.TaskTTL)
	}

	if cfg.Headless {
		t.Error("Expected Headless to be false by default")
	}
	if cfg.BrowserPath != "" {
		t.Errorf("Expected empty BrowserPath by default, got %q", cfg.BrowserPath)
	}

	if !cfg.UseFingerprintTunnel {
		t.Error("Expected UseFingerprintTunnel to be true by default")
	}

	if cfg.DefaultProxy != "" {
		t.Errorf("Expected empty DefaultProxy by default, got %q", cfg.DefaultProxy)
	}
	if cfg.AllowLocalProxy {
		t.Error("Expected AllowLocalProxy to be false by default")
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default log level 'info', got %q", cfg.LogLevel)
	}

	if cfg.MetricsEnabled {
		t.Error("Expected MetricsEnabled to be false by default")
	}
	if cfg.MetricsPort != 9090 {
		t.Errorf("Expected default metrics port 9090, got %d", cfg.MetricsPort)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("HOST", "0.0.0.0")
	os.Setenv("PORT", "8080")
	os.Setenv("CLIENT_KEY", "secret")
	os.Setenv("MAX_TASKS", "4")
	os.Setenv("TASK_TIMEOUT", "3m")
	os.Setenv("TASK_TTL", "2h")
	os.Setenv("HEADLESS", "true")
	os.Setenv("BROWSER_PATH", "/usr/bin/chromium")
	os.Setenv("USE_FINGERPRINT_TUNNEL", "false")
	os.Setenv("DEFAULT_PROXY", "socks5://proxy:1080")
	os.Setenv("ALLOW_LOCAL_PROXY", "true")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("METRICS_ENABLED", "true")
	os.Setenv("METRICS_PORT", "9191")
	os.Setenv("SELECTORS_PATH", "/etc/cloudflyer/selectors.yaml")
	os.Setenv("SELECTORS_HOT_RELOAD", "true")
	defer clearEnv()

	cfg := Load()

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Expected host '0.0.0.0', got %q", cfg.Host)
	}
	if cfg.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Port)
	}
	if cfg.ClientKey != "secret" {
		t.Errorf("Expected ClientKey 'secret', got %q", cfg.ClientKey)
	}
	if cfg.MaxTasks != 4 {
		t.Errorf("Expected MaxTasks 4, got %d", cfg.MaxTasks)
	}
	if cfg.TaskTimeout != 3*time.Minute {
		t.Errorf("Expected task timeout 3m, got %v", cfg.TaskTimeout)
	}
	if cfg.TaskTTL != 2*time.Hour {
		t.Errorf("Expected task TTL 2h, got %v", cfg.TaskTTL)
	}
	if !cfg.Headless {
		t.Error("Expected Headless to be true")
	}
	if cfg.BrowserPath != "/usr/bin/chromium" {
		t.Errorf("Expected BrowserPath '/usr/bin/chromium', got %q", cfg.BrowserPath)
	}
	if cfg.UseFingerprintTunnel {
		t.Error("Expected UseFingerprintTunnel to be false")
	}
	if cfg.DefaultProxy != "socks5://proxy:1080" {
		t.Errorf("Expected DefaultProxy 'socks5://proxy:1080', got %q", cfg.DefaultProxy)
	}
	if !cfg.AllowLocalProxy {
		t.Error("Expected AllowLocalProxy to be true")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log level 'debug', got %q", cfg.LogLevel)
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected MetricsEnabled to be true")
	}
	if cfg.MetricsPort != 9191 {
		t.Errorf("Expected metrics port 9191, got %d", cfg.MetricsPort)
	}
	if cfg.SelectorsPath != "/etc/cloudflyer/selectors.yaml" {
		t.Errorf("Expected SelectorsPath '/etc/cloudflyer/selectors.yaml', got %q", cfg.SelectorsPath)
	}
	if !cfg.SelectorsHotReload {
		t.Error("Expected SelectorsHotReload to be true")
	}
}

func TestHasDefaultProxy(t *testing.T) {
	cfg := &Config{}
	if cfg.HasDefaultProxy() {
		t.Error("Expected HasDefaultProxy to return false when DefaultProxy is empty")
	}

	cfg.DefaultProxy = "http://proxy:8080"
	if !cfg.HasDefaultProxy() {
		t.Error("Expected HasDefaultProxy to return true when DefaultProxy is set")
	}
}

func TestInvalidEnvValues(t *testing.T) {
	os.Setenv("PORT", "not_a_number")
	os.Setenv("HEADLESS", "not_a_bool")
	os.Setenv("TASK_TIMEOUT", "not_a_duration")
	defer clearEnv()

	cfg := Load()

	if cfg.Port != 3000 {
		t.Errorf("Expected default port 3000 for invalid value, got %d", cfg.Port)
	}
	if cfg.Headless {
		t.Error("Expected default Headless (false) for invalid value")
	}
	if cfg.TaskTimeout != 120*time.Second {
		t.Errorf("Expected default task timeout for invalid value, got %v", cfg.TaskTimeout)
	}
}

func TestValidateClamping(t *testing.T) {
	cfg := &Config{
		Port:        -1,
		MaxTasks:    100,
		TaskTimeout: 50 * time.Millisecond,
		TaskTTL:     30 * time.Second,
		LogLevel:    "verbose",
	}
	cfg.Validate()

	if cfg.Port != 3000 {
		t.Errorf("Expected port clamped to 3000, got %d", cfg.Port)
	}
	if cfg.MaxTasks != maxPoolSize {
		t.Errorf("Expected MaxTasks capped to %d, got %d", maxPoolSize, cfg.MaxTasks)
	}
	if cfg.TaskTimeout != 120*time.Second {
		t.Errorf("Expected task timeout reset to 120s, got %v", cfg.TaskTimeout)
	}
	if cfg.TaskTTL != minTaskTTL {
		t.Errorf("Expected task TTL raised to %v, got %v", minTaskTTL, cfg.TaskTTL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected log level reset to 'info', got %q", cfg.LogLevel)
	}
}

func TestValidateMetricsPortConflict(t *testing.T) {
	cfg := &Config{
		Port:           3000,
		MaxTasks:       1,
		TaskTimeout:    120 * time.Second,
		TaskTTL:        24 * time.Hour,
		LogLevel:       "info",
		MetricsEnabled: true,
		MetricsPort:    3000,
	}
	cfg.Validate()

	if cfg.MetricsEnabled {
		t.Error("Expected metrics disabled when port conflicts with server port")
	}
}

func TestValidatePathTraversal(t *testing.T) {
	cfg := &Config{
		Port:        3000,
		MaxTasks:    1,
		TaskTimeout: 120 * time.Second,
		TaskTTL:     24 * time.Hour,
		LogLevel:    "info",
		BrowserPath: "/usr/../etc/passwd",
	}
	cfg.Validate()

	if cfg.BrowserPath != "" {
		t.Errorf("Expected BrowserPath cleared for traversal sequence, got %q", cfg.BrowserPath)
	}
}

func TestValidateHotReloadRequiresPath(t *testing.T) {
	cfg := &Config{
		Port:               3000,
		MaxTasks:           1,
		TaskTimeout:        120 * time.Second,
		TaskTTL:            24 * time.Hour,
		LogLevel:           "info",
		SelectorsHotReload: true,
	}
	cfg.Validate()

	if cfg.SelectorsHotReload {
		t.Error("Expected hot-reload disabled when no selectors path is set")
	}
}
