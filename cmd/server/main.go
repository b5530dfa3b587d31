package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/farm-advisor/internal/advisory"
	"github.com/Brownie44l1/farm-advisor/internal/analysis"
	"github.com/Brownie44l1/farm-advisor/internal/config"
	"github.com/Brownie44l1/farm-advisor/internal/detector"
	"github.com/Brownie44l1/farm-advisor/internal/logging"
	"github.com/Brownie44l1/farm-advisor/internal/server"
)

func main() {
	var (
		configPath string
		port       string
	)

	rootCmd := &cobra.Command{
		Use:          "farm-advisor",
		Short:        "Crop photo analysis API with static field advisory",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, port)
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path of the config file")
	rootCmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides config)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, port string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port != "" {
		cfg.Server.Port = port
	}

	logging.Init(cfg.Log.Level, cfg.Log.JSON)

	table, err := advisory.Load(cfg.Advisory.Path)
	if err != nil {
		return err
	}

	det, err := detector.New(cfg.Model)
	if err != nil {
		return err
	}
	defer func() {
		if err := det.Close(); err != nil {
			slog.Error("closing detector", "error", err)
		}
	}()

	analyzer := analysis.New(det, table, cfg.Cache)
	srv := server.New(cfg.Server, analyzer)

	slog.Info("farm advisor starting",
		"port", cfg.Server.Port,
		"backend", cfg.Model.Backend,
		"advisory_labels", table.Len(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
