package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/storyline-ai/storyline/internal/api"
	"github.com/storyline-ai/storyline/internal/backend"
	"github.com/storyline-ai/storyline/internal/config"
	"github.com/storyline-ai/storyline/internal/engine"
	"github.com/storyline-ai/storyline/internal/events"
	"github.com/storyline-ai/storyline/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local run-tracking API",
	Long: `Start the storyline API server.

The server tracks runs, ingests pipeline events, and exposes run state,
activity logs, metrics, and a live event stream over REST and SSE. When
a workflow service is configured it also consumes the upstream event
feed and relays commands; without one it runs standalone.

Examples:
  # Start with defaults (127.0.0.1:8844)
  storyline serve

  # Start on a custom host and port
  storyline serve --host 0.0.0.0 --port 9000

  # Track runs from a workflow service
  storyline serve --backend-url http://workflow.internal:8080`,
	RunE: runServe,
}

var (
	serveHost       string
	servePort       int
	serveBackendURL string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "",
		"Host address to bind to (default from config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0,
		"Port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveBackendURL, "backend-url", "",
		"Workflow service base URL (empty: standalone mode)")
}

func runServe(cobraCmd *cobra.Command, _ []string) error {
	logger := logging.New(logging.Config{
		Level:  logLevel,
		Format: logFormat,
		Output: os.Stdout,
	})

	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Flags beat the config file
	if cobraCmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cobraCmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cobraCmd.Flags().Changed("backend-url") {
		cfg.Backend.BaseURL = serveBackendURL
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	bus := events.New(cfg.Engine.BusBuffer)
	defer bus.Close()

	registry := engine.NewRegistry(bus, logger, engine.Options{
		DedupWindow:    cfg.Engine.Window(),
		LogCap:         cfg.Engine.LogCapacity,
		ApprovalPolicy: cfg.Engine.Policy(),
	})

	client := backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Token:   cfg.Backend.Token,
		Timeout: cfg.Backend.RequestTimeout(),
	}, logger)

	server := api.NewServer(registry, bus,
		api.WithLogger(logger),
		api.WithBackend(client),
		api.WithCORSOrigins(cfg.Server.CORSOrigins),
		api.WithShutdownGrace(cfg.Server.ShutdownGrace()),
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(ctx, addr)
	})
	if client.Configured() {
		feed := backend.NewFeed(client, registry, bus, logger)
		g.Go(func() error {
			return feed.Run(ctx)
		})
		logger.Info("event feed enabled", "backend", cfg.Backend.BaseURL)
	} else {
		logger.Info("standalone mode, commands apply locally")
	}

	// Log level follows config file edits unless --log-level pinned it
	if configPath := loader.ConfigFile(); configPath != "" {
		levelFromFlag := cobraCmd.Flags().Changed("log-level")
		currentLevel := cfg.Log.Level
		g.Go(func() error {
			return config.Watch(ctx, configPath, func(newCfg *config.Config, err error) {
				if err != nil {
					logger.Warn("config reload failed", "error", err)
					return
				}
				if levelFromFlag || newCfg.Log.Level == currentLevel {
					return
				}
				currentLevel = newCfg.Log.Level
				logger.SetLevel(currentLevel)
				logger.Info("log level updated", "level", currentLevel)
			})
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("server stopped")
	return nil
}
