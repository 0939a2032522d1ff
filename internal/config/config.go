package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultAPIBaseURL is used when neither the config file nor the environment set one
	DefaultAPIBaseURL = "http://localhost:8000/api"

	configFileName = "config.yaml"
)

// Config holds user preferences
type Config struct {
	APIBaseURL     string  `yaml:"api_base_url" json:"api_base_url"`       // REST API root, e.g. http://localhost:8000/api
	TimeoutSeconds int     `yaml:"timeout_seconds" json:"timeout_seconds"` // Per-request timeout
	RateLimit      float64 `yaml:"rate_limit" json:"rate_limit"`           // Outbound requests per second, 0 = unlimited
	StoragePath    string  `yaml:"storage_path" json:"storage_path"`       // Local SQLite store
	SyncOnStartup  bool    `yaml:"sync_on_startup" json:"sync_on_startup"` // Push the local cart when the server cart is unreachable
	ConfirmClear   bool    `yaml:"confirm_clear" json:"confirm_clear"`     // Ask before clearing the cart
	MetricsInView  bool    `yaml:"metrics_in_view" json:"metrics_in_view"` // Show request counters in the TUI footer
	Passphrase     string  `yaml:"-" json:"-"`                             // Storage sealing passphrase, environment only

	// Logging configuration
	LogLevel   string `yaml:"log_level" json:"log_level"`     // Log level: DEBUG, INFO, WARN, ERROR
	LogFile    string `yaml:"log_file" json:"log_file"`       // Path to log file
	LogConsole bool   `yaml:"log_console" json:"log_console"` // Enable console logging
}

// Dir returns the directory holding config, logs and the local store.
// ECOFINDS_HOME overrides the default ~/.ecofinds.
func Dir() (string, error) {
	if dir := os.Getenv("ECOFINDS_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".ecofinds"), nil
}

// Path returns the config file location
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// DefaultConfig returns default settings
func DefaultConfig() *Config {
	dir, _ := Dir()
	logPath, storagePath := "", ""
	if dir != "" {
		logPath = filepath.Join(dir, "logs", "ecofinds.log")
		storagePath = filepath.Join(dir, "ecofinds.db")
	}

	return &Config{
		APIBaseURL:     DefaultAPIBaseURL,
		TimeoutSeconds: 10,
		StoragePath:    storagePath,
		SyncOnStartup:  true,
		ConfirmClear:   true,
		LogLevel:       "INFO",
		LogFile:        logPath,
	}
}

// Timeout returns the request timeout as a duration
func (c *Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load loads config from the default location.
// A .env file in the working directory is read first; it never overrides
// variables that are already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom loads config from path, falling back to defaults when the file is
// missing. Environment overrides are applied last.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.APIBaseURL = getEnv("ECOFINDS_API_BASE_URL", c.APIBaseURL)
	c.LogLevel = getEnv("ECOFINDS_LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("ECOFINDS_LOG_FILE", c.LogFile)
	c.StoragePath = getEnv("ECOFINDS_STORAGE_PATH", c.StoragePath)
	c.Passphrase = getEnv("ECOFINDS_STORAGE_PASSPHRASE", c.Passphrase)

	if v := os.Getenv("ECOFINDS_LOG_CONSOLE"); v != "" {
		c.LogConsole = v == "true" || v == "1"
	}
	if v := os.Getenv("ECOFINDS_RATE_LIMIT"); v != "" {
		rl, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid ECOFINDS_RATE_LIMIT %q: %w", v, err)
		}
		c.RateLimit = rl
	}
	if v := os.Getenv("ECOFINDS_TIMEOUT_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ECOFINDS_TIMEOUT_SECONDS %q: %w", v, err)
		}
		c.TimeoutSeconds = secs
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Save saves config to the default location
func (c *Config) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the config as YAML to path
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Set updates a setting by its YAML key, as used by `ecofinds config set`
func (c *Config) Set(key, value string) error {
	switch key {
	case "api_base_url":
		c.APIBaseURL = strings.TrimRight(value, "/")
	case "timeout_seconds":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("timeout_seconds must be a positive integer")
		}
		c.TimeoutSeconds = n
	case "rate_limit":
		rl, err := strconv.ParseFloat(value, 64)
		if err != nil || rl < 0 {
			return fmt.Errorf("rate_limit must be a non-negative number")
		}
		c.RateLimit = rl
	case "storage_path":
		c.StoragePath = value
	case "sync_on_startup", "confirm_clear", "metrics_in_view", "log_console":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s must be true or false", key)
		}
		switch key {
		case "sync_on_startup":
			c.SyncOnStartup = b
		case "confirm_clear":
			c.ConfirmClear = b
		case "metrics_in_view":
			c.MetricsInView = b
		default:
			c.LogConsole = b
		}
	case "log_level":
		c.LogLevel = strings.ToUpper(value)
	case "log_file":
		c.LogFile = value
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}
