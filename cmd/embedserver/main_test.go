package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/embedserver/internal/config"
	"github.com/hyperjump/embedserver/internal/server"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

const mockConfig = `
runtime:
  device: cpu
models:
  - name: base_v2
    backend: mock
    dimensions: 16
    max_tokens: 32
cache:
  backend: memory
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolveConfigPath(t *testing.T) {
	if got := resolveConfigPath("/etc/x.yaml", envMap(map[string]string{config.EnvConfig: "/env.yaml"})); got != "/etc/x.yaml" {
		t.Errorf("flag should win, got %s", got)
	}
	if got := resolveConfigPath("", envMap(map[string]string{config.EnvConfig: "/env.yaml"})); got != "/env.yaml" {
		t.Errorf("env should be used, got %s", got)
	}
}

func TestLoadConfig_DefaultsAndEnv(t *testing.T) {
	cfg, warnings, err := loadConfig("", envMap(map[string]string{
		config.EnvPort:   "eighty",
		config.EnvDevice: "cpu",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != config.DefaultPort || len(warnings) != 1 {
		t.Errorf("port=%d warnings=%v", cfg.Server.Port, warnings)
	}
	if cfg.Runtime.Device != "cpu" || cfg.Models[0].Name != "base_v2" {
		t.Errorf("cfg=%+v", cfg)
	}
}

func TestLoadConfig_InvalidDevice(t *testing.T) {
	_, _, err := loadConfig("", envMap(map[string]string{config.EnvDevice: "tpu"}))
	if err == nil {
		t.Error("expected validation error for unknown device")
	}
}

// startServer runs the full component stack from a mock-backed config.
func startServer(t *testing.T) string {
	t.Helper()
	cfg, _, err := loadConfig(writeFile(t, mockConfig), envMap(nil))
	if err != nil {
		t.Fatal(err)
	}
	logger := zap.NewNop()
	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { components.Close(logger) })
	srv := server.NewServer(components.Pipeline, components.Metrics, &cfg.Server, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestRunEmbed(t *testing.T) {
	url := startServer(t)
	var stdout, stderr bytes.Buffer
	code := runEmbed([]string{"hello world", "goodbye", "-server", url, "-output", "json"}, strings.NewReader(""), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	var vecs [][]float32
	if err := json.Unmarshal(stdout.Bytes(), &vecs); err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 16 {
		t.Errorf("got %d vectors", len(vecs))
	}
}

func TestRunEmbed_DashText(t *testing.T) {
	url := startServer(t)
	var stdout, stderr bytes.Buffer
	code := runEmbed([]string{"-server", url, "-output", "json", "--", "-5 degrees"}, strings.NewReader(""), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	var vecs [][]float32
	if err := json.Unmarshal(stdout.Bytes(), &vecs); err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 1 {
		t.Errorf("got %d vectors, want 1", len(vecs))
	}
}

func TestRunEmbed_Stdin(t *testing.T) {
	url := startServer(t)
	var stdout, stderr bytes.Buffer
	code := runEmbed([]string{"-stdin", "-server", url}, strings.NewReader("one\ntwo\n"), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "texts: 2") {
		t.Errorf("output: %s", stdout.String())
	}
}

func TestRunEmbed_Errors(t *testing.T) {
	url := startServer(t)
	var stdout, stderr bytes.Buffer
	if code := runEmbed([]string{"-server", url}, strings.NewReader(""), &stdout, &stderr); code != 2 {
		t.Errorf("no texts: exit %d", code)
	}
	stderr.Reset()
	if code := runEmbed([]string{"-server", url, "-model", "nope", "x"}, strings.NewReader(""), &stdout, &stderr); code != 1 {
		t.Errorf("unknown model: exit %d", code)
	}
	if !strings.Contains(stderr.String(), "unknown model") {
		t.Errorf("stderr: %s", stderr.String())
	}
}

func TestRunModelsAndHealth(t *testing.T) {
	url := startServer(t)
	var stdout, stderr bytes.Buffer
	if code := runModels([]string{"-server", url}, &stdout, &stderr); code != 0 {
		t.Fatalf("models exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "base_v2") || !strings.Contains(stdout.String(), "dims=16") {
		t.Errorf("models output: %s", stdout.String())
	}
	stdout.Reset()
	if code := runHealth([]string{"-server", url}, &stdout, &stderr); code != 0 || strings.TrimSpace(stdout.String()) != "ok" {
		t.Errorf("health exit %d: %s", code, stdout.String())
	}
	if code := runHealth([]string{"-server", "http://127.0.0.1:1"}, &stdout, &stderr); code != 1 {
		t.Errorf("down server: exit %d", code)
	}
}

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	var stdout, stderr bytes.Buffer
	if code := runInit([]string{"-config", path}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Models[0].Name != config.DefaultModelName {
		t.Errorf("models=%+v", cfg.Models)
	}
	if code := runInit([]string{"-config", path}, &stdout, &stderr); code != 1 {
		t.Errorf("existing file without -force: exit %d", code)
	}
	if code := runInit([]string{"-config", path, "-force"}, &stdout, &stderr); code != 0 {
		t.Errorf("-force: exit %d", code)
	}
}

func TestPrintUsage(t *testing.T) {
	var buf bytes.Buffer
	printUsage(&buf)
	for _, want := range []string{"server", "embed", config.EnvPort, config.EnvDevice} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("usage missing %q", want)
		}
	}
}
