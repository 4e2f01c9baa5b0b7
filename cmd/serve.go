package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sirouk/clawboard/internal/config"
	"github.com/sirouk/clawboard/internal/runtime"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Clawboard service: HTTP API plus every background worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	setupLogging()

	configPath := resolveConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	watcher, err := config.WatchFile(configPath, cfg)
	if err != nil {
		slog.Warn("config: live-reload watch failed to start", "path", configPath, "error", err)
	}
	if watcher != nil {
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return err
	}

	return rt.Run(ctx)
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
