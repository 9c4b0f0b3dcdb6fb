// Package config provides configuration loading and structs for the embedding server.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/embedserver/internal/cache"
	"github.com/hyperjump/embedserver/internal/embedding"
	"github.com/hyperjump/embedserver/internal/registry"
	"github.com/hyperjump/embedserver/pkg/utils"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Log     LogConfig     `yaml:"log"`
	Server  ServerConfig  `yaml:"server"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Models  []ModelConfig `yaml:"models"`
	Cache   CacheConfig   `yaml:"cache"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// RequestTimeoutSeconds bounds a single request.
	RequestTimeoutSeconds  int `yaml:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds"`
	// MaxBodyBytes limits the /embed request body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// RuntimeConfig holds inference runtime settings shared by all models.
type RuntimeConfig struct {
	// Device is cpu, cuda, cuda:N or auto.
	Device string `yaml:"device"`
	// LibraryPath is the onnxruntime shared library.
	LibraryPath string `yaml:"library_path"`
	// CacheDir receives downloaded model assets.
	CacheDir       string `yaml:"cache_dir"`
	IntraOpThreads int    `yaml:"intra_op_threads"`
}

// ModelConfig describes one servable model.
type ModelConfig struct {
	Name            string `yaml:"name"`
	Backend         string `yaml:"backend"`
	ModelPath       string `yaml:"model_path"`
	TokenizerPath   string `yaml:"tokenizer_path"`
	ModelURL        string `yaml:"model_url"`
	ModelSHA256     string `yaml:"model_sha256"`
	TokenizerURL    string `yaml:"tokenizer_url"`
	TokenizerSHA256 string `yaml:"tokenizer_sha256"`
	Dimensions      int    `yaml:"dimensions"`
	MaxTokens       int    `yaml:"max_tokens"`
	Prefix          string `yaml:"prefix"`
	OutputName      string `yaml:"output_name"`
	// Device overrides runtime.device for this model.
	Device string `yaml:"device"`
}

// CacheConfig holds embedding cache settings.
type CacheConfig struct {
	Backend    string `yaml:"backend"`
	Capacity   int    `yaml:"capacity"`
	RedisURL   string `yaml:"redis_url"`
	TTLSeconds int    `yaml:"ttl_seconds"`
	Path       string `yaml:"path"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled           *bool `yaml:"enabled"`
	DefaultCollectors bool  `yaml:"default_collectors"`
}

// EnabledOrDefault returns whether /metrics is served; defaults to true when unset.
func (m *MetricsConfig) EnabledOrDefault() bool {
	if m.Enabled != nil {
		return *m.Enabled
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Runtime.CacheDir = expandPath(cfg.Runtime.CacheDir, configDir)
	if cfg.Runtime.LibraryPath != "" {
		cfg.Runtime.LibraryPath = expandPath(cfg.Runtime.LibraryPath, configDir)
	}
	if cfg.Cache.Path != "" {
		cfg.Cache.Path = expandPath(cfg.Cache.Path, configDir)
	}
	for i := range cfg.Models {
		if cfg.Models[i].ModelPath != "" {
			cfg.Models[i].ModelPath = expandPath(cfg.Models[i].ModelPath, configDir)
		}
		if cfg.Models[i].TokenizerPath != "" {
			cfg.Models[i].TokenizerPath = expandPath(cfg.Models[i].TokenizerPath, configDir)
		}
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if _, err := embedding.ParseDevice(c.Runtime.Device); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}
	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("model name is required")
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate model name %q", m.Name)
		}
		seen[m.Name] = true
		switch strings.ToLower(m.Backend) {
		case registry.BackendONNX, registry.BackendMock:
		default:
			return fmt.Errorf("model %s: unknown backend %q", m.Name, m.Backend)
		}
		if m.Device != "" {
			if _, err := embedding.ParseDevice(m.Device); err != nil {
				return fmt.Errorf("model %s: %w", m.Name, err)
			}
		}
		if m.Dimensions < 0 || m.MaxTokens < 0 {
			return fmt.Errorf("model %s: dimensions and max_tokens must not be negative", m.Name)
		}
	}
	switch c.Cache.Backend {
	case cache.BackendNone, cache.BackendMemory:
	case cache.BackendRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache: redis backend requires redis_url")
		}
	case cache.BackendSQLite:
		if c.Cache.Path == "" {
			return fmt.Errorf("cache: sqlite backend requires path")
		}
	default:
		return fmt.Errorf("cache: unknown backend %q", c.Cache.Backend)
	}
	return nil
}

// Specs converts the model list into registry specs, resolving each model's device.
func (c *Config) Specs() ([]registry.Spec, error) {
	specs := make([]registry.Spec, 0, len(c.Models))
	for _, m := range c.Models {
		device := m.Device
		if device == "" {
			device = c.Runtime.Device
		}
		d, err := embedding.ParseDevice(device)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", m.Name, err)
		}
		specs = append(specs, registry.Spec{
			Name:            m.Name,
			Backend:         strings.ToLower(m.Backend),
			ModelPath:       m.ModelPath,
			TokenizerPath:   m.TokenizerPath,
			ModelURL:        m.ModelURL,
			ModelSHA256:     m.ModelSHA256,
			TokenizerURL:    m.TokenizerURL,
			TokenizerSHA256: m.TokenizerSHA256,
			Dimensions:      m.Dimensions,
			MaxTokens:       m.MaxTokens,
			Prefix:          m.Prefix,
			OutputName:      m.OutputName,
			Device:          d,
			IntraOpThreads:  c.Runtime.IntraOpThreads,
		})
	}
	return specs, nil
}

// CacheOptions converts the cache section for cache.New.
func (c *Config) CacheOptions() cache.Config {
	return cache.Config{
		Backend:    c.Cache.Backend,
		Capacity:   c.Cache.Capacity,
		RedisURL:   c.Cache.RedisURL,
		TTLSeconds: c.Cache.TTLSeconds,
		Path:       c.Cache.Path,
	}
}

// LoggerOptions converts the log section for utils.NewLogger.
func (c *Config) LoggerOptions() utils.LogConfig {
	return utils.LogConfig{Debug: c.Debug, Format: c.Log.Format, Level: c.Log.Level}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir,
// "~/" to the home directory; other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
