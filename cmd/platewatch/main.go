package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"platewatch/internal/app"
	"platewatch/internal/config"
	"platewatch/internal/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Console: cfg.LogConsole})

	node, err := app.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build node")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("node exited with error")
	}
}
