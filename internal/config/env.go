package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment variables read by ApplyEnv and by the CLI.
const (
	EnvDevice      = "EMBEDSERVER_DEVICE"
	EnvPort        = "EMBEDSERVER_PORT"
	EnvConfig      = "EMBEDSERVER_CONFIG"
	EnvLibraryPath = "ONNXRUNTIME_SHARED_LIB"
)

// ApplyEnv overrides cfg from environment variables read through getenv. Invalid
// values never abort startup: they are reported as warnings and the default is kept.
func ApplyEnv(cfg *Config, getenv func(string) string) []string {
	var warnings []string

	if v := strings.TrimSpace(getenv(EnvDevice)); v != "" {
		cfg.Runtime.Device = v
	}
	if v := strings.TrimSpace(getenv(EnvPort)); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			warnings = append(warnings, fmt.Sprintf("invalid %s=%q, using port %d", EnvPort, v, DefaultPort))
			port = DefaultPort
		}
		cfg.Server.Port = port
	}
	if v := strings.TrimSpace(getenv(EnvLibraryPath)); v != "" && cfg.Runtime.LibraryPath == "" {
		cfg.Runtime.LibraryPath = v
	}
	return warnings
}
