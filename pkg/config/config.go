package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// AppName names config/data directories and env var prefixes
	AppName = "feedkeeper"

	// MaxDepth is the maximum number of paginated requests per author
	MaxDepth = 20

	// DefaultPageSize is the number of records requested per timeline page
	DefaultPageSize = 200

	// DefaultConcurrency is the number of single-photo transfers kept in flight
	DefaultConcurrency = 4

	// DefaultAutoGCThreshold is the active record count that triggers prune after download
	DefaultAutoGCThreshold = 4096
)

// Config holds all configuration options. It is built once by Load and
// passed explicitly to the components that need it.
type Config struct {
	// Remote feed API
	Feed FeedConfig `yaml:"feed" json:"feed"`

	// Client-side request pacing
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Retry policy for transient feed errors
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Defaults for the record command
	Record RecordConfig `yaml:"record" json:"record"`

	// Photo download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Database settings
	Store StoreConfig `yaml:"store" json:"store"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// FeedConfig holds remote feed API configuration
type FeedConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	Account   string        `yaml:"account" json:"account"`
	Token     string        `yaml:"-" json:"-"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
	PageSize  int           `yaml:"page_size" json:"page_size"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// RateLimitConfig holds client-side pacing configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
}

// RecordConfig holds defaults for recording
type RecordConfig struct {
	DefaultLikes []string `yaml:"default_likes" json:"default_likes"`
	DefaultUser  []string `yaml:"default_user" json:"default_user"`
	Depth        int      `yaml:"depth" json:"depth"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	Dir              string        `yaml:"dir" json:"dir"`
	Concurrency      int           `yaml:"concurrency" json:"concurrency"`
	BatchConcurrency int           `yaml:"batch_concurrency" json:"batch_concurrency"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
}

// StoreConfig holds database configuration
type StoreConfig struct {
	Path            string `yaml:"path" json:"path"`
	StrictMedia     bool   `yaml:"strict_media" json:"strict_media"`
	AutoGCThreshold int    `yaml:"auto_gc_threshold" json:"auto_gc_threshold"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `yaml:"level" json:"level"`
	File    string `yaml:"file" json:"file"`
	NoColor bool   `yaml:"no_color" json:"no_color"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	dbPath := ""
	if dir, err := DataDir(); err == nil {
		dbPath = filepath.Join(dir, "db.sqlite3")
	}

	return &Config{
		Feed: FeedConfig{
			BaseURL:   "https://api.twitter.com/1.1",
			UserAgent: AppName + "/1.0",
			PageSize:  DefaultPageSize,
			Timeout:   30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    30 * time.Second,
		},
		Record: RecordConfig{
			Depth: MaxDepth,
		},
		Download: DownloadConfig{
			Dir:              "",
			Concurrency:      DefaultConcurrency,
			BatchConcurrency: 8,
			Timeout:          60 * time.Second,
		},
		Store: StoreConfig{
			Path:            dbPath,
			StrictMedia:     false,
			AutoGCThreshold: DefaultAutoGCThreshold,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if token := os.Getenv("FEEDKEEPER_ACCESS_TOKEN"); token != "" {
		c.Feed.Token = token
	}
	if baseURL := os.Getenv("FEEDKEEPER_BASE_URL"); baseURL != "" {
		c.Feed.BaseURL = baseURL
	}
	if account := os.Getenv("FEEDKEEPER_ACCOUNT"); account != "" {
		c.Feed.Account = account
	}

	if rpm := os.Getenv("FEEDKEEPER_REQUESTS_PER_MINUTE"); rpm != "" {
		val, err := strconv.Atoi(rpm)
		if err != nil {
			return fmt.Errorf("invalid FEEDKEEPER_REQUESTS_PER_MINUTE: %w", err)
		}
		c.RateLimit.RequestsPerMinute = val
	}

	if dir := os.Getenv("FEEDKEEPER_DOWNLOAD_DIR"); dir != "" {
		c.Download.Dir = dir
	}
	if concurrent := os.Getenv("FEEDKEEPER_CONCURRENCY"); concurrent != "" {
		val, err := strconv.Atoi(concurrent)
		if err != nil {
			return fmt.Errorf("invalid FEEDKEEPER_CONCURRENCY: %w", err)
		}
		c.Download.Concurrency = val
	}

	if dbPath := os.Getenv("FEEDKEEPER_DATABASE"); dbPath != "" {
		c.Store.Path = dbPath
	}
	if strict := os.Getenv("FEEDKEEPER_STRICT_MEDIA"); strict != "" {
		c.Store.StrictMedia = strings.ToLower(strict) == "true"
	}

	if logLevel := os.Getenv("FEEDKEEPER_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if os.Getenv("NO_COLOR") != "" {
		c.Logging.NoColor = true
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	c.Download.Dir = expandTilde(c.Download.Dir)
	c.Store.Path = expandTilde(c.Store.Path)

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		"." + AppName + ".yaml",
		"." + AppName + ".yml",
	}
	if dir, err := ConfigDir(); err == nil {
		locations = append(locations,
			filepath.Join(dir, "config.yaml"),
			filepath.Join(dir, "config.yml"),
		)
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Feed.BaseURL == "" {
		errs = append(errs, errors.New("feed base URL is required"))
	}
	if c.Feed.PageSize <= 0 {
		errs = append(errs, errors.New("page size must be positive"))
	}
	if c.Feed.Timeout <= 0 {
		errs = append(errs, errors.New("feed timeout must be positive"))
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("max retry attempts cannot be negative"))
	}

	if c.Record.Depth < 0 || c.Record.Depth > MaxDepth {
		errs = append(errs, fmt.Errorf("depth should be <= %d", MaxDepth))
	}

	if c.Download.Concurrency <= 0 {
		errs = append(errs, errors.New("download concurrency must be positive"))
	}
	if c.Download.BatchConcurrency < 0 {
		errs = append(errs, errors.New("batch concurrency cannot be negative"))
	}
	if c.Download.Timeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}

	if c.Store.Path == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if c.Store.AutoGCThreshold < 0 {
		errs = append(errs, errors.New("auto gc threshold cannot be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// EffectiveDepth maps a configured depth to the number of pages to request.
// Zero means MaxDepth.
func EffectiveDepth(depth int) int {
	if depth <= 0 {
		return MaxDepth
	}
	return depth
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

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if dir, ok := flags["dir"].(string); ok && dir != "" {
		c.Download.Dir = dir
	}
	if concurrent, ok := flags["concurrency"].(int); ok && concurrent > 0 {
		c.Download.Concurrency = concurrent
	}
	if dbPath, ok := flags["database"].(string); ok && dbPath != "" {
		c.Store.Path = dbPath
	}
	if account, ok := flags["account"].(string); ok && account != "" {
		c.Feed.Account = account
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if strict, ok := flags["strict-media"].(bool); ok {
		c.Store.StrictMedia = strict
	}
	if noColor, ok := flags["no-color"].(bool); ok && noColor {
		c.Logging.NoColor = true
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	if dir, err := ConfigDir(); err == nil {
		_ = godotenv.Load(filepath.Join(dir, AppName+".env"))
	}

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// ConfigDir returns the per-user configuration directory
func ConfigDir() (string, error) {
	if dir := os.Getenv("FEEDKEEPER_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", AppName), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", errors.New("APPDATA environment variable not set")
		}
		return filepath.Join(appData, AppName), nil
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			return filepath.Join(xdgConfig, AppName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", AppName), nil
	}
}

// DataDir returns the per-user data directory holding the database
func DataDir() (string, error) {
	if dir := os.Getenv("FEEDKEEPER_DATA_DIR"); dir != "" {
		return dir, nil
	}

	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", errors.New("APPDATA environment variable not set")
		}
		return filepath.Join(appData, AppName), nil
	default:
		// ~/.local/share on macOS too
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" && runtime.GOOS != "darwin" {
			return filepath.Join(xdgDataHome, AppName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", AppName), nil
	}
}

func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
