// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config holds the application configuration.
type Config struct {
	App    AppConfig
	Logger LoggerConfig
	Data   DataConfig
	Dedup  DedupConfig
	Server ServerConfig
	Auth   AuthConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level   string
	NoColor bool
}

// DataConfig holds storage locations.
type DataConfig struct {
	BasePath        string // Root for the database, search index and keys (default: ~/.bibmerge)
	StoreBackend    string // sqlite or badger (default: sqlite)
	DataSourcesFile string // Source settings (default: {base}/datasources.yaml)
}

// DedupConfig holds deduplication tuning.
type DedupConfig struct {
	Workers       int     // Concurrent subjects per run (default: 4)
	MaxCandidates int     // Per-key circuit breaker threshold (default: 1000)
	CacheSize     int     // Too-many-candidates cache capacity (default: 20000)
	RateLimit     float64 // Records per second per source, 0 disables (default: 0)
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Port         string        // Server port (default: 8080)
	ReadTimeout  time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout time.Duration // HTTP write timeout (default: 15s)
	IdleTimeout  time.Duration // HTTP idle timeout (default: 60s)
	// AllowedOrigins lists CORS origins (default: any).
	AllowedOrigins []string
	// RequestsPerMinute limits each client address, 0 disables (default: 300).
	RequestsPerMinute int
}

// AuthConfig holds operator token configuration.
type AuthConfig struct {
	// KeyHex is a hex-encoded 32-byte key from TOKEN_KEY. When empty a key
	// is generated under the data path.
	KeyHex string
	// TokenKey is the resolved key, set when the token service is built.
	TokenKey      []byte
	TokenDuration time.Duration
}

// Flags carries command-line values. Empty fields fall through to the
// environment and then to defaults.
type Flags struct {
	Env             string
	LogLevel        string
	NoColor         string
	DataPath        string
	StoreBackend    string
	DataSourcesFile string
	Workers         string
	MaxCandidates   string
	CacheSize       string
	RateLimit       string
	Port            string
	TokenDuration   string
}

// LoadEnvFile loads variables from a .env file without overriding variables
// already set in the environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadConfig builds configuration with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables (including those loaded from .env).
// 3. Default values (lowest priority).
func LoadConfig(f Flags) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(f.Env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level:   getConfigValue(f.LogLevel, "LOG_LEVEL", "info"),
			NoColor: getBoolConfigValue(f.NoColor, "NO_COLOR", false),
		},
		Data: DataConfig{
			BasePath:        getConfigValue(f.DataPath, "DATA_PATH", ""),
			StoreBackend:    strings.ToLower(getConfigValue(f.StoreBackend, "STORE_BACKEND", BackendSQLite)),
			DataSourcesFile: getConfigValue(f.DataSourcesFile, "DATASOURCES_FILE", ""),
		},
		Dedup: DedupConfig{
			Workers:       getIntConfigValue(f.Workers, "DEDUP_WORKERS", 4),
			MaxCandidates: getIntConfigValue(f.MaxCandidates, "DEDUP_MAX_CANDIDATES", 1000),
			CacheSize:     getIntConfigValue(f.CacheSize, "DEDUP_CACHE_SIZE", 20000),
		},
		Server: ServerConfig{
			Port:              getConfigValue(f.Port, "SERVER_PORT", "8080"),
			AllowedOrigins:    splitList(getConfigValue("", "CORS_ALLOWED_ORIGINS", "")),
			RequestsPerMinute: getIntConfigValue("", "API_RATE_LIMIT", 300),
		},
		Auth: AuthConfig{
			KeyHex: getConfigValue("", "TOKEN_KEY", ""),
		},
	}

	rateStr := getConfigValue(f.RateLimit, "DEDUP_RATE_LIMIT", "0")
	rate, err := strconv.ParseFloat(rateStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid dedup rate limit %q: %w", rateStr, err)
	}
	cfg.Dedup.RateLimit = rate

	durations := []struct {
		flag, env, def string
		dst            *time.Duration
	}{
		{f.TokenDuration, "TOKEN_DURATION", "24h", &cfg.Auth.TokenDuration},
		{"", "SERVER_READ_TIMEOUT", "15s", &cfg.Server.ReadTimeout},
		{"", "SERVER_WRITE_TIMEOUT", "15s", &cfg.Server.WriteTimeout},
		{"", "SERVER_IDLE_TIMEOUT", "60s", &cfg.Server.IdleTimeout},
	}
	for _, d := range durations {
		value := getConfigValue(d.flag, d.env, d.def)
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", strings.ToLower(d.env), value, err)
		}
		*d.dst = parsed
	}

	if err := cfg.expandDataPaths(); err != nil {
		return nil, fmt.Errorf("invalid data path: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Data.BasePath == "" {
		return errors.New("data path cannot be empty after expansion")
	}

	if c.Data.StoreBackend != BackendSQLite && c.Data.StoreBackend != BackendBadger {
		return fmt.Errorf("invalid store backend: %s (must be sqlite or badger)", c.Data.StoreBackend)
	}

	if c.Dedup.Workers < 1 {
		return fmt.Errorf("dedup workers must be at least 1, got %d", c.Dedup.Workers)
	}
	if c.Dedup.MaxCandidates < 1 {
		return fmt.Errorf("dedup max candidates must be at least 1, got %d", c.Dedup.MaxCandidates)
	}
	if c.Dedup.CacheSize < 1 {
		return fmt.Errorf("dedup cache size must be at least 1, got %d", c.Dedup.CacheSize)
	}
	if c.Dedup.RateLimit < 0 {
		return fmt.Errorf("dedup rate limit cannot be negative, got %g", c.Dedup.RateLimit)
	}

	return nil
}

// IsProduction reports whether the production environment is configured.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// DatabasePath returns the location of the record database for the configured backend.
func (c *Config) DatabasePath() string {
	if c.Data.StoreBackend == BackendBadger {
		return filepath.Join(c.Data.BasePath, "records.badger")
	}
	return filepath.Join(c.Data.BasePath, "records.db")
}

// SearchIndexPath returns the location of the bleve index.
func (c *Config) SearchIndexPath() string {
	return filepath.Join(c.Data.BasePath, "search")
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

func (c *Config) expandDataPaths() error {
	defaultBase := ""
	if c.Data.BasePath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		defaultBase = filepath.Join(homeDir, ".bibmerge")
	}

	base, err := expandPath(c.Data.BasePath, defaultBase)
	if err != nil {
		return err
	}
	c.Data.BasePath = base

	sources, err := expandPath(c.Data.DataSourcesFile, filepath.Join(base, "datasources.yaml"))
	if err != nil {
		return err
	}
	c.Data.DataSourcesFile = sources
	return nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(strings.TrimSpace(strValue))
	if err != nil {
		return defaultValue
	}
	return result
}

// splitList parses a comma-separated setting, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
