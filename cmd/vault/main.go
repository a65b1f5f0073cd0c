package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/alovak/cardholder-vault/vault"
	"golang.org/x/exp/slog"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout))

	config, err := vault.LoadConfig()
	if err != nil {
		logger.Error("loading config", "err", err)
		os.Exit(1)
	}

	app := vault.NewApp(logger, config)
	if err := app.Start(); err != nil {
		logger.Error("starting app", "err", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	app.Shutdown()
}
