package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/NadirInab/datavis-sub001/internal/client/cli"
	"github.com/NadirInab/datavis-sub001/internal/client/config"
	"github.com/NadirInab/datavis-sub001/internal/logging"
)

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	logger := logging.NewText(os.Stderr, cfg.LogLevel)

	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

	if err := app.Close(); err != nil {
		logger.Error(ctx, "shutdown", "error", err)
	}
}
