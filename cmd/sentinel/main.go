// Package main is the entry point for the sentinel service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/apisentinel/sentinel/internal/config"
	"github.com/apisentinel/sentinel/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	showVersion bool
}

func main() {
	// A .env file is optional; environment variables referenced in the
	// config file come from wherever the process got them.
	_ = godotenv.Load()

	flags := parseFlags()
	if flags.showVersion {
		fmt.Printf("sentinel version %s (%s)\n", version, gitCommit)
		return
	}

	cfg := loadAndValidateConfig(flags.configPath)

	logger, err := observability.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting sentinel",
		observability.String("version", version),
		observability.String("config", flags.configPath),
	)

	app, err := newApplication(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", observability.Error(err))
	}

	run(app, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("SENTINEL_CONFIG_PATH", "configs/sentinel.yaml"),
		"Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		showVersion: *showVersion,
	}
}

// loadAndValidateConfig loads and validates the configuration before
// the logger exists, so failures go to stderr.
func loadAndValidateConfig(path string) *config.Config {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// run starts the application and blocks until a shutdown signal.
func run(app *application, configPath string, logger observability.Logger) {
	if err := app.Start(); err != nil {
		logger.Fatal("failed to start application", observability.Error(err))
	}

	watcher := startConfigWatcher(app, configPath, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", observability.String("signal", sig.String()))
	case err := <-app.serverErr:
		logger.Error("HTTP server failed", observability.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		app.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}
	app.Stop(shutdownCtx)
	logger.Info("sentinel stopped")
}

// startConfigWatcher starts the configuration watcher. Policy values
// are applied over the running gate; anything else needs a restart.
func startConfigWatcher(app *application, configPath string, logger observability.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		logger.Info("configuration changed, applying authentication policy")
		if err := app.ApplyAuthConfig(newCfg.Auth); err != nil {
			logger.Error("failed to apply new configuration", observability.Error(err))
		}
	}, config.WithLogger(logger))
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(context.Background()); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
	}
	return watcher
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
