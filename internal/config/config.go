package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath               = "config.toml"
	DefaultLogLevel           = "warn"
	DefaultForwardFrequencyMs = 5000
	DefaultBufferSize         = 1_000_000
	DefaultPublishTimeoutMs   = 10_000
	DefaultPublishAttempts    = 3
	DefaultClickHouseTable    = "agent_logs"
)

// ErrNoFiles is returned when the configuration lists no files to watch
var ErrNoFiles = errors.New("no files configured")

// Config holds all configuration for the agent
type Config struct {
	Settings Settings     `toml:"settings" yaml:"settings"`
	Files    []FileConfig `toml:"files" yaml:"files"`
}

// Settings are shared by every watched file
type Settings struct {
	Server       string        `toml:"server" yaml:"server"`
	LogLevel     string        `toml:"log_level" yaml:"log_level"`
	ScanExisting bool          `toml:"scan_existing" yaml:"scan_existing"`
	LogFile      string        `toml:"log_file" yaml:"log_file"`
	Publish      PublishConfig `toml:"publish" yaml:"publish"`
	Tracing      TracingConfig `toml:"tracing" yaml:"tracing"`
}

// PublishConfig tunes delivery to the server
type PublishConfig struct {
	TimeoutMs   int    `toml:"timeout_ms" yaml:"timeout_ms"`
	MaxAttempts int    `toml:"max_attempts" yaml:"max_attempts"`
	Compression string `toml:"compression" yaml:"compression"` // none, gzip or zstd
	Table       string `toml:"table" yaml:"table"`             // ClickHouse only
}

// TracingConfig configures the OpenTelemetry exporter
type TracingConfig struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	Protocol string `toml:"protocol" yaml:"protocol"` // grpc or http
	Endpoint string `toml:"endpoint" yaml:"endpoint"`
}

// FileConfig describes one watched file or directory
type FileConfig struct {
	Path               string            `toml:"path" yaml:"path"`
	PositionsFile      string            `toml:"positions_file" yaml:"positions_file"`
	FileRegex          string            `toml:"file_regex" yaml:"file_regex"`
	ForwardFrequencyMs int               `toml:"forward_frequency_ms" yaml:"forward_frequency_ms"`
	BufferSize         int               `toml:"buffer_size" yaml:"buffer_size"`
	Labels             map[string]string `toml:"labels" yaml:"labels"`
}

// Default returns a configuration with every optional field set
func Default() Config {
	return Config{
		Settings: Settings{
			LogLevel: DefaultLogLevel,
			Publish: PublishConfig{
				TimeoutMs:   DefaultPublishTimeoutMs,
				MaxAttempts: DefaultPublishAttempts,
				Table:       DefaultClickHouseTable,
			},
			Tracing: TracingConfig{
				Protocol: "grpc",
			},
		},
	}
}

// Load reads the configuration file at path (TOML, or YAML for .yaml/.yml),
// applies defaults and environment overrides, and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = toml.NewDecoder(bytes.NewReader(data)).Decode(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnv lets the environment override the file
func (c *Config) applyEnv() {
	c.Settings.Server = getEnv("LOGSHIP_SERVER", c.Settings.Server)
	c.Settings.LogLevel = getEnv("LOGSHIP_LOG_LEVEL", c.Settings.LogLevel)
	c.Settings.ScanExisting = getEnvBool("LOGSHIP_SCAN_EXISTING", c.Settings.ScanExisting)
	c.Settings.LogFile = getEnv("LOGSHIP_LOG_FILE", c.Settings.LogFile)
	c.Settings.Publish.MaxAttempts = getEnvInt("LOGSHIP_PUBLISH_MAX_ATTEMPTS", c.Settings.Publish.MaxAttempts)
	c.Settings.Tracing.Enabled = getEnvBool("LOGSHIP_TRACING_ENABLED", c.Settings.Tracing.Enabled)
}

// applyDefaults fills zero values an explicit file may have left behind
func (c *Config) applyDefaults() {
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = DefaultLogLevel
	}
	if c.Settings.Publish.TimeoutMs == 0 {
		c.Settings.Publish.TimeoutMs = DefaultPublishTimeoutMs
	}
	if c.Settings.Publish.MaxAttempts == 0 {
		c.Settings.Publish.MaxAttempts = DefaultPublishAttempts
	}
	if c.Settings.Publish.Table == "" {
		c.Settings.Publish.Table = DefaultClickHouseTable
	}
	for i := range c.Files {
		if c.Files[i].ForwardFrequencyMs == 0 {
			c.Files[i].ForwardFrequencyMs = DefaultForwardFrequencyMs
		}
		if c.Files[i].BufferSize == 0 {
			c.Files[i].BufferSize = DefaultBufferSize
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Settings.Server == "" {
		return fmt.Errorf("settings.server is required")
	}
	u, err := url.Parse(c.Settings.Server)
	if err != nil {
		return fmt.Errorf("settings.server is not a valid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "clickhouse":
	default:
		return fmt.Errorf("settings.server scheme %q is not supported (use http, https or clickhouse)", u.Scheme)
	}

	switch strings.ToLower(c.Settings.LogLevel) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("settings.log_level %q is not a known level", c.Settings.LogLevel)
	}

	if c.Settings.Publish.TimeoutMs < 0 {
		return fmt.Errorf("settings.publish.timeout_ms must not be negative")
	}
	if c.Settings.Publish.MaxAttempts < 1 {
		return fmt.Errorf("settings.publish.max_attempts must be at least 1")
	}
	switch c.Settings.Publish.Compression {
	case "", "none", "gzip", "zstd":
	default:
		return fmt.Errorf("settings.publish.compression %q is not supported (use none, gzip or zstd)", c.Settings.Publish.Compression)
	}

	if c.Settings.Tracing.Enabled {
		switch c.Settings.Tracing.Protocol {
		case "grpc", "http":
		default:
			return fmt.Errorf("settings.tracing.protocol %q is not supported (use grpc or http)", c.Settings.Tracing.Protocol)
		}
	}

	if len(c.Files) == 0 {
		return ErrNoFiles
	}

	positions := make(map[string]int, len(c.Files))
	for i, f := range c.Files {
		if f.Path == "" {
			return fmt.Errorf("files[%d].path is required", i)
		}
		if f.PositionsFile == "" {
			return fmt.Errorf("files[%d].positions_file is required", i)
		}
		if j, dup := positions[f.PositionsFile]; dup {
			return fmt.Errorf("files[%d] and files[%d] share positions_file %s", j, i, f.PositionsFile)
		}
		positions[f.PositionsFile] = i
		if _, err := f.Regex(); err != nil {
			return fmt.Errorf("files[%d].file_regex: %w", i, err)
		}
		if f.ForwardFrequencyMs < 0 {
			return fmt.Errorf("files[%d].forward_frequency_ms must not be negative", i)
		}
		if f.BufferSize < 1 {
			return fmt.Errorf("files[%d].buffer_size must be at least 1", i)
		}
	}

	return nil
}

// Regex compiles FileRegex. An empty pattern yields nil, which matches every file.
func (f FileConfig) Regex() (*regexp.Regexp, error) {
	if f.FileRegex == "" {
		return nil, nil
	}
	re, err := regexp.Compile(f.FileRegex)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", f.FileRegex, err)
	}
	return re, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
