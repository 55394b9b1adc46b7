// Command leadpilot runs the campaign orchestrator: cron scheduling,
// run execution against the engine services, and the management API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"leadpilot/internal/api"
	"leadpilot/internal/config"
	"leadpilot/internal/logging"
	"leadpilot/internal/orchestrator"
)

// version is stamped by the build.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "leadpilot",
		Short:         "Lead generation campaign orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator and management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("leadpilot", version)
		},
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting leadpilot",
		zap.String("version", version),
		zap.Int("port", cfg.Port),
		zap.Bool("api_only", cfg.APIOnly()),
		zap.Bool("cron", cfg.EnableCron))

	orch, err := orchestrator.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := orch.Start(ctx); err != nil {
		orch.Shutdown()
		return err
	}

	server := api.New(cfg, orch, logger)
	errs := make(chan error, 1)
	go func() { errs <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			orch.Shutdown()
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown incomplete", zap.Error(err))
	}
	orch.Shutdown()
	logger.Info("stopped")
	return nil
}
