package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/iamrehman16/DataTricks-Team-Server/internal/config"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/mail"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/database"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/health"
	pkgkafka "github.com/iamrehman16/DataTricks-Team-Server/pkg/kafka"
)

// deliveredTTL bounds how long a delivered event id is remembered.
const deliveredTTL = 24 * time.Hour

// Mailer consumes queued mail from Kafka and delivers it with the configured
// delivery transport.
type Mailer struct {
	cfg        *config.Config
	logger     *slog.Logger
	consumer   *pkgkafka.Consumer
	dlq        *pkgkafka.DLQProducer
	redis      *redis.Client
	httpServer *http.Server
}

// NewMailer wires the mail consumer.
func NewMailer(cfg *config.Config, logger *slog.Logger) (*Mailer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sender, err := NewSender(cfg, cfg.MailDeliveryTransport, nil, logger)
	if err != nil {
		return nil, err
	}

	var store pkgkafka.IdempotencyStore = pkgkafka.NewMemoryIdempotencyStore(deliveredTTL)
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient, err = database.NewRedisClient(ctx, cfg.Redis())
		if err != nil {
			logger.Warn("redis unavailable, deduplicating in memory", slog.String("error", err.Error()))
			redisClient = nil
		} else {
			store = pkgkafka.NewRedisIdempotencyStore(redisClient, "identity:mailer:delivered", deliveredTTL)
		}
	}

	dlq := pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
	consumer := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.MailerGroupID,
		Topic:    mail.Topic,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	}, pkgkafka.IdempotentHandler(store, mail.DeliveryHandler(sender), logger), dlq, logger)

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("kafka", func(ctx context.Context) error {
		return pkgkafka.PingBrokers(ctx, cfg.KafkaBrokers)
	})
	if redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	r := chi.NewRouter()
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	logger.Info("mailer initialized",
		slog.String("topic", mail.Topic),
		slog.String("group", cfg.MailerGroupID),
		slog.String("transport", sender.Name()),
	)

	return &Mailer{
		cfg:      cfg,
		logger:   logger,
		consumer: consumer,
		dlq:      dlq,
		redis:    redisClient,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run consumes until ctx is canceled.
func (m *Mailer) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		if err := m.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("mail consumer: %w", err)
		}
	}()
	go func() {
		m.logger.Info("starting HTTP server", slog.String("addr", m.httpServer.Addr))
		if err := m.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		m.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	return errors.Join(runErr, m.Shutdown())
}

// Shutdown stops the consumer before its dead-letter producer.
func (m *Mailer) Shutdown() error {
	var errs []error

	shutdownCtx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
	defer cancel()
	if err := m.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := m.consumer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close consumer: %w", err))
	}
	if err := m.dlq.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close dlq producer: %w", err))
	}
	if m.redis != nil {
		if err := m.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	m.logger.Info("mailer stopped")
	return errors.Join(errs...)
}
