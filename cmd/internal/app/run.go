package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Run is the CLI entrypoint used by cmd/motionhub. It returns an error instead of calling os.Exit
// so deferred cleanup runs.
func Run(envFile string) error {
	loaded, err := LoadDotEnv(envFile)
	if err != nil {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if loaded {
		log.Info("config.dotenv.loaded", "path", envFile)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
