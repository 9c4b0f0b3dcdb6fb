package config

import (
	"os"
	"path/filepath"

	"github.com/hyperjump/embedserver/internal/cache"
	"github.com/hyperjump/embedserver/internal/embedding"
	"github.com/hyperjump/embedserver/internal/registry"
)

const (
	// DefaultPort is used when neither the config nor EMBEDSERVER_PORT sets a valid port.
	DefaultPort = 5000
	// DefaultModelName is the model served when no models are configured.
	DefaultModelName = "base_v2"
)

// DefaultModel returns the e5-base-v2 encoder served under "base_v2".
func DefaultModel() ModelConfig {
	return ModelConfig{
		Name:         DefaultModelName,
		Backend:      registry.BackendONNX,
		ModelURL:     "https://huggingface.co/intfloat/e5-base-v2/resolve/main/onnx/model.onnx",
		TokenizerURL: "https://huggingface.co/intfloat/e5-base-v2/resolve/main/tokenizer.json",
		Dimensions:   768,
		MaxTokens:    embedding.DefaultMaxTokens,
		OutputName:   embedding.DefaultOutputName,
	}
}

// Default returns a fully defaulted config.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.RequestTimeoutSeconds == 0 {
		cfg.Server.RequestTimeoutSeconds = 60
	}
	if cfg.Server.ShutdownTimeoutSeconds == 0 {
		cfg.Server.ShutdownTimeoutSeconds = 10
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 10 << 20
	}
	if cfg.Runtime.Device == "" {
		cfg.Runtime.Device = string(embedding.DeviceAuto)
	}
	if cfg.Runtime.CacheDir == "" {
		cfg.Runtime.CacheDir = defaultCacheDir()
	}
	if len(cfg.Models) == 0 {
		cfg.Models = []ModelConfig{DefaultModel()}
	}
	for i := range cfg.Models {
		if cfg.Models[i].Backend == "" {
			cfg.Models[i].Backend = registry.BackendONNX
		}
		if cfg.Models[i].MaxTokens == 0 {
			cfg.Models[i].MaxTokens = embedding.DefaultMaxTokens
		}
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = cache.BackendNone
	}
	if cfg.Cache.Backend == cache.BackendMemory && cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = cache.DefaultCapacity
	}
	if cfg.Cache.Backend == cache.BackendSQLite && cfg.Cache.Path == "" {
		cfg.Cache.Path = filepath.Join(cfg.Runtime.CacheDir, "embeddings.db")
	}
}

func defaultCacheDir() string {
	if base, err := os.UserCacheDir(); err == nil {
		return filepath.Join(base, "embedserver")
	}
	return filepath.Join(os.TempDir(), "embedserver")
}
