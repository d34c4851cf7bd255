// Package config contains everything related to configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	ManagementURL        string
	ManagementKey        string
	AuthDir              string
	DatabasePath         string
	LogPath              string
	LogLevel             string
	StatusAddr           string
	QuotaRefreshInterval time.Duration
	ProjectIDTTL         time.Duration
	NotificationDuration time.Duration
	RequestTimeout       time.Duration
	HistoryRetention     time.Duration
	MaxConcurrent        int
	DesktopNotifications bool
}

// Default values
const (
	defaultManagementURL        = "http://127.0.0.1:8317"
	defaultQuotaRefreshInterval = 5 * time.Minute
	defaultProjectIDTTL         = 24 * time.Hour
	defaultNotificationDuration = 5 * time.Second
	defaultRequestTimeout       = 20 * time.Second
	defaultHistoryRetention     = 30 * 24 * time.Hour
	defaultMaxConcurrent        = 4
	defaultLogLevel             = "info"
)

// ErrMissingKey is returned when no management key is configured.
var ErrMissingKey = errors.New("MANAGEMENT_KEY is required (set via env, config.yaml or the gateway config)")

// fileConfig is the YAML layout of config.yaml. Durations accept Go
// durations or bare seconds.
type fileConfig struct {
	ManagementURL        string `yaml:"management-url"`
	ManagementKey        string `yaml:"management-key"`
	AuthDir              string `yaml:"auth-dir"`
	DatabasePath         string `yaml:"database-path"`
	LogPath              string `yaml:"log-path"`
	LogLevel             string `yaml:"log-level"`
	StatusAddr           string `yaml:"status-addr"`
	QuotaRefreshInterval string `yaml:"quota-refresh-interval"`
	ProjectIDTTL         string `yaml:"project-id-ttl"`
	NotificationDuration string `yaml:"notification-duration"`
	RequestTimeout       string `yaml:"request-timeout"`
	HistoryRetention     string `yaml:"history-retention"`
	MaxConcurrent        int    `yaml:"max-concurrent"`
	DesktopNotifications *bool  `yaml:"desktop-notifications"`
}

// Load reads configuration from .env files, the YAML config file and
// environment variables, in increasing priority.
func Load() (*Config, error) {
	// Try loading .env from multiple locations
	for _, path := range getEnvPaths() {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			break
		}
	}

	cfg := Defaults()

	if gw := LoadGatewayDefaults(getEnvString("GATEWAY_CONFIG", getDefaultGatewayConfigPath())); gw != nil {
		gw.apply(cfg)
	}

	if err := applyFile(cfg, getEnvString("CPAMC_CONFIG", getDefaultConfigPath())); err != nil {
		return nil, err
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure database directory exists
	if err := ensureDir(filepath.Dir(cfg.DatabasePath)); err != nil {
		return nil, err
	}
	if cfg.LogPath != "" {
		if err := ensureDir(filepath.Dir(cfg.LogPath)); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		ManagementURL:        defaultManagementURL,
		DatabasePath:         getDefaultDatabasePath(),
		LogPath:              getDefaultLogPath(),
		LogLevel:             defaultLogLevel,
		QuotaRefreshInterval: defaultQuotaRefreshInterval,
		ProjectIDTTL:         defaultProjectIDTTL,
		NotificationDuration: defaultNotificationDuration,
		RequestTimeout:       defaultRequestTimeout,
		HistoryRetention:     defaultHistoryRetention,
		MaxConcurrent:        defaultMaxConcurrent,
	}
}

// Validate checks required fields and bounds.
func (c *Config) Validate() error {
	c.ManagementURL = strings.TrimRight(strings.TrimSpace(c.ManagementURL), "/")
	if c.ManagementURL == "" {
		return errors.New("MANAGEMENT_URL is required")
	}
	if !strings.HasPrefix(c.ManagementURL, "http://") && !strings.HasPrefix(c.ManagementURL, "https://") {
		return fmt.Errorf("MANAGEMENT_URL must be an http(s) URL, got %q", c.ManagementURL)
	}
	if strings.TrimSpace(c.ManagementKey) == "" {
		return ErrMissingKey
	}
	if c.MaxConcurrent < 1 {
		c.MaxConcurrent = 1
	}
	if c.ProjectIDTTL <= 0 {
		c.ProjectIDTTL = defaultProjectIDTTL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.QuotaRefreshInterval < 0 {
		c.QuotaRefreshInterval = 0
	}
	return nil
}

// applyFile merges the YAML config at path into cfg. A missing file is not an error.
func applyFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	setString(&cfg.ManagementURL, fc.ManagementURL)
	setString(&cfg.ManagementKey, fc.ManagementKey)
	setString(&cfg.AuthDir, fc.AuthDir)
	setString(&cfg.DatabasePath, fc.DatabasePath)
	setString(&cfg.LogPath, fc.LogPath)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.StatusAddr, fc.StatusAddr)
	setDuration(&cfg.QuotaRefreshInterval, fc.QuotaRefreshInterval)
	setDuration(&cfg.ProjectIDTTL, fc.ProjectIDTTL)
	setDuration(&cfg.NotificationDuration, fc.NotificationDuration)
	setDuration(&cfg.RequestTimeout, fc.RequestTimeout)
	setDuration(&cfg.HistoryRetention, fc.HistoryRetention)
	if fc.MaxConcurrent > 0 {
		cfg.MaxConcurrent = fc.MaxConcurrent
	}
	if fc.DesktopNotifications != nil {
		cfg.DesktopNotifications = *fc.DesktopNotifications
	}
	return nil
}

// applyEnv overrides cfg with environment variables.
func applyEnv(cfg *Config) {
	cfg.ManagementURL = getEnvString("MANAGEMENT_URL", cfg.ManagementURL)
	cfg.ManagementKey = getEnvString("MANAGEMENT_KEY", cfg.ManagementKey)
	cfg.AuthDir = getEnvString("AUTH_DIR", cfg.AuthDir)
	cfg.DatabasePath = getEnvString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogPath = getEnvString("LOG_PATH", cfg.LogPath)
	cfg.LogLevel = getEnvString("LOG_LEVEL", cfg.LogLevel)
	cfg.StatusAddr = getEnvString("STATUS_ADDR", cfg.StatusAddr)
	cfg.QuotaRefreshInterval = getEnvDuration("QUOTA_REFRESH_INTERVAL", cfg.QuotaRefreshInterval)
	cfg.ProjectIDTTL = getEnvDuration("PROJECT_ID_TTL", cfg.ProjectIDTTL)
	cfg.NotificationDuration = getEnvDuration("NOTIFICATION_DURATION", cfg.NotificationDuration)
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.HistoryRetention = getEnvDuration("HISTORY_RETENTION", cfg.HistoryRetention)
	cfg.MaxConcurrent = getEnvInt("MAX_CONCURRENT", cfg.MaxConcurrent)
	cfg.DesktopNotifications = getEnvBool("DESKTOP_NOTIFICATIONS", cfg.DesktopNotifications)
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v string) {
	if d, ok := parseDuration(v); ok {
		*dst = d
	}
}

// getEnvPaths returns a list of paths to check for .env files.
func getEnvPaths() []string {
	var paths []string

	// Current directory
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}

	if dir := configDir(); dir != "" {
		paths = append(paths, filepath.Join(dir, ".env"))
	}

	// Parent directory (useful for development)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(cwd), ".env"))
	}

	return paths
}

// configDir is ~/.config/cpamc, or empty when the home directory is unknown.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "cpamc")
}

func getDefaultConfigPath() string {
	if dir := configDir(); dir != "" {
		return filepath.Join(dir, "config.yaml")
	}
	return ""
}

// getDefaultDatabasePath returns the default path for the SQLite database.
func getDefaultDatabasePath() string {
	if dir := configDir(); dir != "" {
		return filepath.Join(dir, "history.db")
	}
	return "history.db"
}

func getDefaultLogPath() string {
	if dir := configDir(); dir != "" {
		return filepath.Join(dir, "cpamc.log")
	}
	return "cpamc.log"
}

// getEnvString retrieves a string environment variable or returns the default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns the default.
// Accepts values like "30s", "1m", "500ms".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, ok := parseDuration(os.Getenv(key)); ok {
		return d
	}
	return defaultValue
}

func parseDuration(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration, true
	}
	// Try parsing as seconds if no unit specified
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

// ensureDir creates a directory and all parent directories if they don't exist.
func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0o750)
}
