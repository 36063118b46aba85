package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DateFormat is the day-granularity format accepted for window bounds.
const DateFormat = "02-01-2006"

// Config holds all configuration options for a phabry run
type Config struct {
	// Phabricator API settings
	Phabricator PhabricatorConfig `yaml:"phabricator" json:"phabricator"`

	// Fetch window and paging settings
	Fetch FetchConfig `yaml:"fetch" json:"fetch"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// PhabricatorConfig holds the Conduit API settings
type PhabricatorConfig struct {
	// URL is the Conduit API base, e.g. https://phabricator.example.com/api/
	URL     string        `yaml:"url" json:"url"`
	Token   string        `yaml:"token" json:"token"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// FetchConfig holds the window and paging settings for a run
type FetchConfig struct {
	// StartDate and EndDate bound the revision creation-time window,
	// day granularity, format dd-mm-yyyy, both optional.
	StartDate string `yaml:"start_date" json:"start_date"`
	EndDate   string `yaml:"end_date" json:"end_date"`
	PageSize  int    `yaml:"page_size" json:"page_size"`
}

// RateLimitConfig holds request pacing configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// OutputConfig holds snapshot output configuration
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Phabricator: PhabricatorConfig{
			Timeout: 30 * time.Second,
		},
		Fetch: FetchConfig{
			PageSize: 100,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
		},
		Output: OutputConfig{
			BaseDirectory: "./phabry_data",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if url := os.Getenv("PHABRY_URL"); url != "" {
		c.Phabricator.URL = url
	}
	if token := os.Getenv("PHABRY_API_TOKEN"); token != "" {
		c.Phabricator.Token = token
	}
	if baseDir := os.Getenv("PHABRY_BASE_DIR"); baseDir != "" {
		c.Output.BaseDirectory = baseDir
	}
	if rpm := os.Getenv("PHABRY_REQUESTS_PER_MINUTE"); rpm != "" {
		var val int
		fmt.Sscanf(rpm, "%d", &val)
		if val > 0 {
			c.RateLimit.RequestsPerMinute = val
		}
	}
	if pageSize := os.Getenv("PHABRY_PAGE_SIZE"); pageSize != "" {
		var val int
		fmt.Sscanf(pageSize, "%d", &val)
		if val > 0 {
			c.Fetch.PageSize = val
		}
	}
	if logLevel := os.Getenv("PHABRY_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".phabry.yaml",
		".phabry.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "phabry", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "phabry", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".phabry.yaml"),
		filepath.Join(os.Getenv("HOME"), ".phabry.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// WindowBounds parses the configured start/end dates into epoch-second
// bounds. A nil pointer means unbounded on that side. Dates are interpreted
// at midnight UTC, which is what the Conduit createdStart/createdEnd
// constraints expect.
func (c *FetchConfig) WindowBounds() (start, end *int64, err error) {
	if c.StartDate != "" {
		t, perr := time.ParseInLocation(DateFormat, c.StartDate, time.UTC)
		if perr != nil {
			return nil, nil, fmt.Errorf("invalid start date %q: %w", c.StartDate, perr)
		}
		s := t.Unix()
		start = &s
	}
	if c.EndDate != "" {
		t, perr := time.ParseInLocation(DateFormat, c.EndDate, time.UTC)
		if perr != nil {
			return nil, nil, fmt.Errorf("invalid end date %q: %w", c.EndDate, perr)
		}
		e := t.Unix()
		end = &e
	}
	if start != nil && end != nil && *end < *start {
		return nil, nil, errors.New("end date is before start date")
	}
	return start, end, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Phabricator.URL == "" {
		errs = append(errs, errors.New("Phabricator API URL is required"))
	}
	if c.Phabricator.Token == "" {
		errs = append(errs, errors.New("Phabricator API token is required"))
	}
	if c.Phabricator.Timeout <= 0 {
		errs = append(errs, errors.New("API timeout must be positive"))
	}

	if c.Fetch.PageSize <= 0 {
		errs = append(errs, errors.New("page size must be positive"))
	}
	if c.Fetch.PageSize > 100 {
		errs = append(errs, errors.New("page size cannot exceed 100 (Conduit limit)"))
	}
	if _, _, err := c.Fetch.WindowBounds(); err != nil {
		errs = append(errs, err)
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("base directory is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The API token may be embedded, keep the file private
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if url, ok := flags["url"].(string); ok && url != "" {
		c.Phabricator.URL = url
	}
	if token, ok := flags["token"].(string); ok && token != "" {
		c.Phabricator.Token = token
	}
	if baseDir, ok := flags["basedir"].(string); ok && baseDir != "" {
		c.Output.BaseDirectory = baseDir
	}
	if start, ok := flags["start"].(string); ok && start != "" {
		c.Fetch.StartDate = start
	}
	if end, ok := flags["end"].(string); ok && end != "" {
		c.Fetch.EndDate = end
	}
	if pageSize, ok := flags["page-size"].(int); ok && pageSize > 0 {
		c.Fetch.PageSize = pageSize
	}
	if rpm, ok := flags["rate-limit"].(int); ok && rpm > 0 {
		c.RateLimit.RequestsPerMinute = rpm
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".phabry.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
