// Package config loads hlsaudio settings from YAML, .env files and HLSAUDIO_* variables.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agleyzer/hlsaudio/internal/decrypt"
	"github.com/agleyzer/hlsaudio/internal/logging"
	"github.com/agleyzer/hlsaudio/internal/storage"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HLSAUDIO_"

// FetchConfig controls how segments, keys and playlists are retrieved.
type FetchConfig struct {
	Timeout      time.Duration     `yaml:"timeout"`
	Concurrency  int               `yaml:"concurrency"`
	Retries      int               `yaml:"retries"`
	RetryBackoff time.Duration     `yaml:"retry_backoff"`
	Headers      map[string]string `yaml:"headers"`
}

// DecryptConfig controls post-decryption padding handling.
type DecryptConfig struct {
	Padding string `yaml:"padding"`
}

// ServerConfig configures the HTTP conversion service.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	ContentType string `yaml:"content_type"`
	// AllowLocal lets requests read local paths
	AllowLocal bool `yaml:"allow_local"`
}

// WatchConfig configures the directory watcher.
type WatchConfig struct {
	Extension string        `yaml:"extension"`
	Settle    time.Duration `yaml:"settle"`
}

// Config holds the complete application configuration.
type Config struct {
	// Base is the explicit base location for relative segment URIs
	Base string `yaml:"base"`

	Fetch   FetchConfig    `yaml:"fetch"`
	Decrypt DecryptConfig  `yaml:"decrypt"`
	Storage storage.Config `yaml:"storage"`
	Server  ServerConfig   `yaml:"server"`
	Watch   WatchConfig    `yaml:"watch"`
	Log     logging.Config `yaml:"log"`
}

// Default returns a Config with default values.
func Default() *Config {
	cfg := &Config{}

	cfg.Fetch.Timeout = 30 * time.Second
	cfg.Fetch.Concurrency = 4
	cfg.Fetch.RetryBackoff = 500 * time.Millisecond

	cfg.Decrypt.Padding = decrypt.PaddingNone.String()

	cfg.Server.Addr = ":8080"
	cfg.Server.ContentType = "audio/mpeg"

	cfg.Watch.Extension = ".mp3"
	cfg.Watch.Settle = 200 * time.Millisecond

	cfg.Log.Level = "info"
	cfg.Log.MaxSizeMB = 100
	cfg.Log.MaxBackups = 3
	cfg.Log.MaxAgeDays = 28

	return cfg
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Load reads the YAML file at path (defaults only when path is empty),
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		cfg, err = LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv loads a .env file from the working directory when present, then
// applies HLSAUDIO_* variables. Variables already set win over the .env file.
func (c *Config) ApplyEnv() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read .env: %w", err)
	}

	if val := env("BASE"); val != "" {
		c.Base = val
	}

	if err := envDuration("FETCH_TIMEOUT", &c.Fetch.Timeout); err != nil {
		return err
	}
	if err := envInt("FETCH_CONCURRENCY", &c.Fetch.Concurrency); err != nil {
		return err
	}
	if err := envInt("FETCH_RETRIES", &c.Fetch.Retries); err != nil {
		return err
	}
	if err := envDuration("FETCH_RETRY_BACKOFF", &c.Fetch.RetryBackoff); err != nil {
		return err
	}

	if val := env("DECRYPT_PADDING"); val != "" {
		c.Decrypt.Padding = val
	}

	if val := env("STORAGE_ENDPOINT"); val != "" {
		c.Storage.Endpoint = val
	}
	if val := env("STORAGE_ACCESS_KEY"); val != "" {
		c.Storage.AccessKey = val
	}
	if val := env("STORAGE_SECRET_KEY"); val != "" {
		c.Storage.SecretKey = val
	}
	if val := env("STORAGE_REGION"); val != "" {
		c.Storage.Region = val
	}
	if val := env("STORAGE_USE_SSL"); val != "" {
		c.Storage.UseSSL = val == "true" || val == "1"
	}

	if val := env("SERVER_ADDR"); val != "" {
		c.Server.Addr = val
	}
	if val := env("SERVER_CONTENT_TYPE"); val != "" {
		c.Server.ContentType = val
	}
	if val := env("SERVER_ALLOW_LOCAL"); val != "" {
		c.Server.AllowLocal = val == "true" || val == "1"
	}

	if val := env("WATCH_EXTENSION"); val != "" {
		c.Watch.Extension = val
	}
	if err := envDuration("WATCH_SETTLE", &c.Watch.Settle); err != nil {
		return err
	}

	if val := env("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := env("LOG_FILE"); val != "" {
		c.Log.File = val
	}
	if val := env("LOG_JSON"); val != "" {
		c.Log.JSON = val == "true" || val == "1"
	}

	return nil
}

// Validate checks the configuration and fills zero values with defaults.
func (c *Config) Validate() error {
	var problems []string

	if c.Fetch.Timeout < 0 {
		problems = append(problems, "fetch.timeout must not be negative")
	}
	if c.Fetch.Concurrency == 0 {
		c.Fetch.Concurrency = 1
	}
	if c.Fetch.Concurrency < 0 {
		problems = append(problems, "fetch.concurrency must be positive")
	}
	if c.Fetch.Retries < 0 {
		problems = append(problems, "fetch.retries must not be negative")
	}
	if c.Fetch.RetryBackoff < 0 {
		problems = append(problems, "fetch.retry_backoff must not be negative")
	}

	if _, err := decrypt.ParsePadding(c.Decrypt.Padding); err != nil {
		problems = append(problems, fmt.Sprintf("decrypt.padding: %v", err))
	}

	if c.Storage.Enabled() && (c.Storage.AccessKey == "" || c.Storage.SecretKey == "") {
		problems = append(problems, "storage.access_key and storage.secret_key are required with storage.endpoint")
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		problems = append(problems, fmt.Sprintf("invalid server.addr %q: %v", c.Server.Addr, err))
	}
	if c.Server.ContentType == "" {
		c.Server.ContentType = "audio/mpeg"
	}

	if c.Watch.Extension == "" {
		c.Watch.Extension = ".mp3"
	}
	if !strings.HasPrefix(c.Watch.Extension, ".") {
		c.Watch.Extension = "." + c.Watch.Extension
	}
	if c.Watch.Settle < 0 {
		problems = append(problems, "watch.settle must not be negative")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, fmt.Sprintf("log.level: %v", err))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}

	return nil
}

// Padding returns the parsed decrypt.padding value. Call after Validate.
func (c *Config) Padding() decrypt.Padding {
	p, _ := decrypt.ParsePadding(c.Decrypt.Padding)
	return p
}

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}

func envDuration(name string, dst *time.Duration) error {
	val := env(name)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid %s%s (expected duration like '30s'): %w", EnvPrefix, name, err)
	}
	*dst = d
	return nil
}

func envInt(name string, dst *int) error {
	val := env(name)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
	}
	*dst = n
	return nil
}
