package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hilthontt/escrow/internal/infrastructure/configs"
	"github.com/hilthontt/escrow/internal/infrastructure/logging"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("escrow", pflag.ExitOnError)
	configFlag := configs.BindFlags(fs)
	_ = fs.Parse(os.Args[1:])

	configPath, err := configs.DetermineConfigPath(*configFlag)
	if err != nil && !errors.Is(err, configs.ErrConfigNotFound) {
		log.Fatal(err)
	}

	cfg, err := configs.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		FilePath: cfg.Logger.FilePath,
		Encoding: cfg.Logger.Encoding,
		Level:    cfg.Logger.Level,
		Logger:   cfg.Logger.Logger,
	})
	if configPath == "" {
		logger.Warn(logging.General, logging.Startup, "no config file found, using defaults", nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal(logging.General, logging.Shutdown, "server exited", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}
