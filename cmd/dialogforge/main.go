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

	"github.com/dialogforge/dialogforge/internal/application"
	"github.com/dialogforge/dialogforge/internal/domain/entity"
	"github.com/dialogforge/dialogforge/internal/domain/scenario"
	"github.com/dialogforge/dialogforge/internal/infrastructure/config"
	"github.com/dialogforge/dialogforge/internal/infrastructure/logger"
)

const (
	appName    = "dialogforge"
	appVersion = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "DialogForge: conversational bot orchestration engine",
		Long:  "DialogForge runs declarative dialog scenarios for messaging bots: webhook intake, scenario execution, state persistence and media handling.",
		RunE:  runServe,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the engine (webhook intake + workers)",
		RunE:  runServe,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "validate <scenario.json>",
		Short: "Check a scenario file without loading it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: "stdout",
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	log.Info("Starting DialogForge",
		zap.String("version", appVersion),
		zap.String("mode", cfg.Gateway.Mode),
	)

	app, err := application.NewApp(cfg, log)
	if err != nil {
		return fmt.Errorf("init application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return app.Stop(shutdownCtx)
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	graph, err := entity.ParseGraph(data)
	if err != nil {
		return err
	}

	log := zap.NewNop()
	processor := scenario.NewProcessor(scenario.NewActionRegistry(log), log)
	if err := processor.ValidateGraph(graph); err != nil {
		return fmt.Errorf("invalid scenario: %w", err)
	}

	fmt.Printf("%s: ok (%d steps, start at %q)\n", args[0], len(graph.Steps), graph.StartStep)
	return nil
}
