package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/embedserver/internal/embedding"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
runtime:
  device: cpu
models:
  - name: small
    backend: mock
    dimensions: 64
    max_tokens: 128
    prefix: "query: "
cache:
  backend: memory
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if len(cfg.Models) != 1 || cfg.Models[0].Name != "small" || cfg.Models[0].Prefix != "query: " {
		t.Errorf("unexpected models: %+v", cfg.Models)
	}
	if cfg.Cache.Capacity == 0 {
		t.Error("memory cache capacity should default")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
runtime:
  cache_dir: "./cache"
models:
  - name: local
    model_path: "./models/model.onnx"
    tokenizer_path: "/abs/tokenizer.json"
cache:
  backend: sqlite
  path: "./data/embeddings.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(path)
	if want := filepath.Join(dir, "cache"); cfg.Runtime.CacheDir != want {
		t.Errorf("cache_dir = %s, want %s", cfg.Runtime.CacheDir, want)
	}
	if want := filepath.Join(dir, "models", "model.onnx"); cfg.Models[0].ModelPath != want {
		t.Errorf("model_path = %s, want %s", cfg.Models[0].ModelPath, want)
	}
	if cfg.Models[0].TokenizerPath != "/abs/tokenizer.json" {
		t.Errorf("tokenizer_path = %s", cfg.Models[0].TokenizerPath)
	}
	if want := filepath.Join(dir, "data", "embeddings.db"); cfg.Cache.Path != want {
		t.Errorf("cache path = %s, want %s", cfg.Cache.Path, want)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "server: [unclosed")); err == nil {
		t.Error("expected parse error")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != DefaultPort {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Runtime.Device != "auto" {
		t.Errorf("default device: got %s", cfg.Runtime.Device)
	}
	if len(cfg.Models) != 1 || cfg.Models[0].Name != "base_v2" {
		t.Fatalf("default models: %+v", cfg.Models)
	}
	m := cfg.Models[0]
	if m.Dimensions != 768 || m.MaxTokens != 512 || m.Backend != "onnx" {
		t.Errorf("default model: %+v", m)
	}
	if cfg.Cache.Backend != "none" {
		t.Errorf("default cache backend: %s", cfg.Cache.Backend)
	}
	if !cfg.Metrics.EnabledOrDefault() {
		t.Error("metrics should default to enabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestMetricsConfig_EnabledOrDefault(t *testing.T) {
	f := false
	m := &MetricsConfig{Enabled: &f}
	if m.EnabledOrDefault() {
		t.Error("explicit false should disable metrics")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"bad port":          func(c *Config) { c.Server.Port = 70000 },
		"bad device":        func(c *Config) { c.Runtime.Device = "tpu" },
		"duplicate model":   func(c *Config) { c.Models = append(c.Models, c.Models[0]) },
		"empty name":        func(c *Config) { c.Models[0].Name = " " },
		"bad backend":       func(c *Config) { c.Models[0].Backend = "tensorflow" },
		"bad model device":  func(c *Config) { c.Models[0].Device = "cuda:x" },
		"unknown cache":     func(c *Config) { c.Cache.Backend = "memcached" },
		"redis without url": func(c *Config) { c.Cache.Backend = "redis" },
		"no models":         func(c *Config) { c.Models = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvDevice:      "cuda:1",
		EnvPort:        "8081",
		EnvLibraryPath: "/opt/ort/libonnxruntime.so",
	}
	cfg := Default()
	warnings := ApplyEnv(cfg, func(k string) string { return env[k] })
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if cfg.Runtime.Device != "cuda:1" || cfg.Server.Port != 8081 {
		t.Errorf("env not applied: device=%s port=%d", cfg.Runtime.Device, cfg.Server.Port)
	}
	if cfg.Runtime.LibraryPath != "/opt/ort/libonnxruntime.so" {
		t.Errorf("library path: %s", cfg.Runtime.LibraryPath)
	}
}

func TestApplyEnv_InvalidPortFallsBack(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 9000
	warnings := ApplyEnv(cfg, func(k string) string {
		if k == EnvPort {
			return "not-a-port"
		}
		return ""
	})
	if cfg.Server.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Server.Port, DefaultPort)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], EnvPort) {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestSpecs(t *testing.T) {
	cfg := Default()
	cfg.Runtime.Device = "cpu"
	cfg.Models = append(cfg.Models, ModelConfig{Name: "gpu", Backend: "MOCK", Device: "cuda:1"})
	specs, err := cfg.Specs()
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 2 {
		t.Fatalf("specs: %+v", specs)
	}
	if specs[0].Device != embedding.DeviceCPU {
		t.Errorf("inherited device: %s", specs[0].Device)
	}
	if specs[1].Device != embedding.Device("cuda:1") || specs[1].Backend != "mock" {
		t.Errorf("override: %+v", specs[1])
	}
	if cfg.Server.Addr() != "0.0.0.0:5000" {
		t.Errorf("Addr = %s", cfg.Server.Addr())
	}

	cfg.Models[1].Device = "tpu"
	if _, err := cfg.Specs(); err == nil || !strings.Contains(err.Error(), "model gpu") {
		t.Errorf("invalid device: err = %v", err)
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "saved.yaml")
	cfg := Default()
	cfg.Server.Port = 9090
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 || loaded.Models[0].Name != "base_v2" {
		t.Errorf("loaded: port=%d models=%+v", loaded.Server.Port, loaded.Models)
	}
}
