// Package main is the embedserver CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/embedserver/internal/cache"
	"github.com/hyperjump/embedserver/internal/cli"
	"github.com/hyperjump/embedserver/internal/config"
	"github.com/hyperjump/embedserver/internal/embedding"
	"github.com/hyperjump/embedserver/internal/metrics"
	"github.com/hyperjump/embedserver/internal/pipeline"
	"github.com/hyperjump/embedserver/internal/registry"
	"github.com/hyperjump/embedserver/internal/server"
	"github.com/hyperjump/embedserver/pkg/utils"
)

var version = "dev"

const defaultServerURL = "http://localhost:5000"

// resolveConfigPath picks the config file: the -config flag, then EMBEDSERVER_CONFIG,
// then config.yaml in the current directory. Empty means built-in defaults.
func resolveConfigPath(flagPath string, getenv func(string) string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := getenv(config.EnvConfig); p != "" {
		return p
	}
	if cwd, err := os.Getwd(); err == nil {
		fallback := filepath.Join(cwd, "config.yaml")
		if _, err := os.Stat(fallback); err == nil {
			return fallback
		}
	}
	return ""
}

// loadConfig loads the config at path (or the defaults when path is empty) and applies
// environment overrides. Env warnings are returned for the caller to log.
func loadConfig(path string, getenv func(string) string) (*config.Config, []string, error) {
	var cfg *config.Config
	if path == "" {
		cfg = config.Default()
	} else {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, nil, err
		}
	}
	warnings := config.ApplyEnv(cfg, getenv)
	if err := cfg.Validate(); err != nil {
		return nil, warnings, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, warnings, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "embed":
		os.Exit(runEmbed(args, os.Stdin, os.Stdout, os.Stderr))
	case "models":
		os.Exit(runModels(args, os.Stdout, os.Stderr))
	case "health":
		os.Exit(runHealth(args, os.Stdout, os.Stderr))
	case "init":
		os.Exit(runInit(args, os.Stdout, os.Stderr))
	case "version", "--version", "-v":
		fmt.Printf("embedserver version %s\n", version)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage(os.Stderr)
		os.Exit(1)
	}
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (default $EMBEDSERVER_CONFIG or ./config.yaml)")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	resolved := resolveConfigPath(*configPath, os.Getenv)
	cfg, warnings, err := loadConfig(resolved, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Debug = cfg.Debug || *debug
	logger, err := utils.NewLogger(cfg.LoggerOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	for _, w := range warnings {
		logger.Warn(w)
	}
	logger.Info("config loaded",
		zap.String("config_path", resolved),
		zap.Bool("debug", cfg.Debug),
		zap.String("device", cfg.Runtime.Device),
	)

	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close(logger)

	srv := server.NewServer(components.Pipeline, components.Metrics, &cfg.Server, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed", zap.Error(err))
			return
		}
	}

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
}

// Components holds everything the server needs, in construction order.
type Components struct {
	Registry *registry.Registry
	Cache    cache.Cache
	Metrics  *metrics.Metrics
	Pipeline *pipeline.Pipeline
}

// Close releases components in reverse construction order.
func (c *Components) Close(logger *zap.Logger) {
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			logger.Warn("cache close failed", zap.Error(err))
		}
	}
	if c.Registry != nil {
		if err := c.Registry.Close(); err != nil {
			logger.Warn("model close failed", zap.Error(err))
		}
	}
	if err := embedding.ShutdownRuntime(); err != nil {
		logger.Warn("onnx runtime shutdown failed", zap.Error(err))
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	loader := &registry.DefaultLoader{
		CacheDir:    cfg.Runtime.CacheDir,
		LibraryPath: cfg.Runtime.LibraryPath,
		Logger:      logger,
	}
	specs, err := cfg.Specs()
	if err != nil {
		return nil, err
	}
	reg, err := registry.Load(ctx, specs, loader, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Models ready", zap.Strings("models", reg.Names()))

	c, err := cache.New(cfg.CacheOptions(), logger)
	if err != nil {
		_ = reg.Close()
		return nil, fmt.Errorf("embedding cache: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.EnabledOrDefault() {
		m = metrics.New("embedserver", cfg.Metrics.DefaultCollectors)
	}

	return &Components{
		Registry: reg,
		Cache:    c,
		Metrics:  m,
		Pipeline: pipeline.New(reg, c, m, logger),
	}, nil
}

func printEmbedUsage(fs *flag.FlagSet) {
	out := fs.Output()
	fmt.Fprintf(out, "Usage: embedserver embed [flags] <text> [<text>...]\n\n")
	fmt.Fprintf(out, "Each argument is one text; quote multi-word texts. With -stdin, one text per line.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(out, `
Examples:
  embedserver embed "hello world" goodbye
  embedserver embed -output json "query: how to bake bread"
  cat sentences.txt | embedserver embed -stdin -model base_v2
`)
}

func runEmbed(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("embed", flag.ContinueOnError)
	fs.SetOutput(stderr)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	model := fs.String("model", config.DefaultModelName, "model name")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fromStdin := fs.Bool("stdin", false, "read texts from stdin, one per line")
	fs.Usage = func() { printEmbedUsage(fs) }
	if err := fs.Parse(cli.ReorderArgs(args)); err != nil {
		return 2
	}

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	texts := fs.Args()
	if *fromStdin {
		lines, err := cli.ReadLines(stdin)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to read stdin: %v\n", err)
			return 1
		}
		texts = append(texts, lines...)
	}
	if len(texts) == 0 {
		fs.Usage()
		return 2
	}

	res, err := cli.NewClient(*serverURL).Embed(context.Background(), texts, *model)
	if err != nil {
		fmt.Fprintf(stderr, "Embed failed: %v\n", err)
		return 1
	}
	if err := cli.WriteEmbeddings(stdout, texts, res, format); err != nil {
		fmt.Fprintf(stderr, "Output failed: %v\n", err)
		return 1
	}
	return 0
}

func runModels(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	fs.SetOutput(stderr)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	models, err := cli.NewClient(*serverURL).Models(context.Background())
	if err != nil {
		fmt.Fprintf(stderr, "Models failed: %v\n", err)
		return 1
	}
	if err := cli.WriteModels(stdout, models, format); err != nil {
		fmt.Fprintf(stderr, "Output failed: %v\n", err)
		return 1
	}
	return 0
}

func runHealth(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := cli.NewClient(*serverURL).Health(ctx); err != nil {
		fmt.Fprintf(stderr, "unhealthy: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}

func runInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", "config.yaml", "where to write the config")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if _, err := os.Stat(*path); err == nil && !*force {
		fmt.Fprintf(stderr, "%s already exists; use -force to overwrite\n", *path)
		return 1
	}
	if err := config.Save(*path, config.Default()); err != nil {
		fmt.Fprintf(stderr, "Failed to write config: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "wrote %s\n", *path)
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `embedserver - text embedding inference server

Usage:
  embedserver <command> [flags]

Commands:
  server    Load the configured models and serve the HTTP API
  embed     Embed texts through a running server
  models    List the models a running server serves
  health    Check a running server; exits non-zero when it is down
  init      Write a default config file
  version   Print the version

Environment:
  %-24s config file path
  %-24s device override (cpu, cuda, cuda:N, auto)
  %-24s listen port (invalid values fall back to %d)
  %-24s onnxruntime shared library

Run "embedserver <command> -h" for command flags.
`, config.EnvConfig, config.EnvDevice, config.EnvPort, config.DefaultPort, config.EnvLibraryPath)
}
