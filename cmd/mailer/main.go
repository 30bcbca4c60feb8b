package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iamrehman16/DataTricks-Team-Server/internal/app"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/config"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New(cfg.ServiceName+"-mailer", cfg.LogLevel)
	log.Info("starting mailer",
		slog.Any("brokers", cfg.KafkaBrokers),
		slog.String("delivery_transport", cfg.MailDeliveryTransport),
	)

	mailer, err := app.NewMailer(cfg, log)
	if err != nil {
		log.Error("failed to initialize mailer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := mailer.Run(ctx); err != nil {
		log.Error("mailer error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
