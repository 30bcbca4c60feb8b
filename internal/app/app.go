package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/iamrehman16/DataTricks-Team-Server/internal/auth"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/config"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/event"
	handler "github.com/iamrehman16/DataTricks-Team-Server/internal/handler/http"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/mail"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/ratelimit"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/repository/postgres"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/service"
	"github.com/iamrehman16/DataTricks-Team-Server/migrations"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/database"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/health"
	pkgkafka "github.com/iamrehman16/DataTricks-Team-Server/pkg/kafka"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/middleware"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/tracing"
)

// App wires together all dependencies and runs the identity service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	dispatcher     *mail.Dispatcher
	httpServer     *http.Server
	stopBackground context.CancelFunc
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// PostgreSQL
	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, cfg.ServiceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	if cfg.RunMigrations {
		if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations completed")
	}
	if cfg.DBSlowQuery > 0 {
		database.SetSlowQueryLogging(cfg.DBSlowQuery, logger)
	}

	// Redis backs the attempt limiters. Without it the limiters allow
	// everything and the per-IP limit is the only throttle left.
	var redisClient *redis.Client
	limits := service.Limiters{}
	if cfg.RedisEnabled {
		redisClient, err = database.NewRedisClient(ctx, cfg.Redis())
		if err != nil {
			logger.Warn("redis unavailable, attempt limiting disabled",
				slog.String("addr", cfg.Redis().Addr()),
				slog.String("error", err.Error()),
			)
			redisClient = nil
		} else {
			limits.Login = ratelimit.NewRedisLimiter(redisClient, "identity:login", cfg.LoginMaxAttempts, cfg.LoginWindow)
			limits.OTP = ratelimit.NewRedisLimiter(redisClient, "identity:otp", cfg.OTPMaxAttempts, cfg.OTPWindow)
			logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))
		}
	}

	// Kafka
	var producer *pkgkafka.Producer
	var events service.EventPublisher = event.Noop{}
	if cfg.KafkaEnabled {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		events = event.NewProducer(producer, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	sender, err := NewSender(cfg, cfg.MailTransport, producer, logger)
	if err != nil {
		_ = closeAll(pool, redisClient, producer)
		return nil, err
	}
	dispatcher := mail.NewDispatcher(mail.DispatcherConfig{
		Workers:     cfg.MailWorkers,
		QueueSize:   cfg.MailQueueSize,
		SendTimeout: cfg.MailTimeout,
	}, sender, logger)
	logger.Info("mail dispatcher started",
		slog.String("transport", sender.Name()),
		slog.Int("workers", cfg.MailWorkers),
	)

	// Domain
	hasher, err := auth.NewPasswordHasher(cfg.BcryptCost)
	if err != nil {
		dispatcher.Close()
		_ = closeAll(pool, redisClient, producer)
		return nil, err
	}
	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.JWTAccessExpiry,
		RefreshTTL:    cfg.JWTRefreshExpiry,
		Issuer:        cfg.JWTIssuer,
	})
	if err != nil {
		dispatcher.Close()
		_ = closeAll(pool, redisClient, producer)
		return nil, err
	}
	otp := auth.NewOTPGenerator(cfg.OTPTTL)
	users := postgres.NewUserRepository(pool)

	authService := service.NewAuthService(users, hasher, otp, tokens, dispatcher, events, limits, cfg.MailFrom(), logger)
	userService := service.NewUserService(users, otp, dispatcher, events, cfg.MailFrom(), logger)

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if redisClient != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	if producer != nil {
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	router := handler.NewRouter(bgCtx, authService, userService, tokens, healthHandler, logger, handler.RouterConfig{
		ServiceName: cfg.ServiceName,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowCredentials: true,
		},
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Cookie: handler.CookieConfig{
			Path:   handler.UserRoutePrefix,
			Secure: cfg.IsProduction(),
			MaxAge: cfg.JWTRefreshExpiry,
		},
		DebugAllowedCIDRs: cfg.DebugAllowedCIDRs,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          redisClient,
		producer:       producer,
		dispatcher:     dispatcher,
		httpServer:     httpServer,
		stopBackground: stopBackground,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown stops components in dependency order: HTTP first so no new mail
// is queued, then the dispatcher drains, then the producer flushes, and the
// stores close last.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	a.stopBackground()

	a.dispatcher.Close()
	if n := a.dispatcher.Dropped(); n > 0 {
		a.logger.Warn("mails dropped during run", slog.Uint64("count", n))
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := closeAll(a.pool, a.redis, a.producer); err != nil {
		a.logger.Error("resource close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func closeAll(pool *pgxpool.Pool, rdb *redis.Client, producer *pkgkafka.Producer) error {
	var errs []error
	if producer != nil {
		if err := producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka producer: %w", err))
		}
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if pool != nil {
		pool.Close()
	}
	return errors.Join(errs...)
}
