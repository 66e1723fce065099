// Command opinionbook runs the YES/NO prediction market exchange in server,
// sweeper or full mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"

	"github.com/alanyoungcy/opinionbook/internal/app"
	"github.com/alanyoungcy/opinionbook/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	printConfig := flag.Bool("print-config", false, "print the effective configuration as TOML with secrets masked, then exit")
	flag.Parse()

	if err := run(*configPath, *printConfig); err != nil {
		slog.Error("opinionbook: exiting", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(configPath string, printConfig bool) error {
	slog.SetDefault(newLogger("info"))

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if printConfig {
		return toml.NewEncoder(os.Stdout).Encode(config.RedactedConfig(cfg))
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, logger)
	defer a.Close()

	err = a.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err == nil {
		logger.Info("opinionbook: stopped", slog.String("mode", cfg.Mode))
	}
	return err
}

// newLogger returns a JSON logger on stdout. Unknown levels fall back to info.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
