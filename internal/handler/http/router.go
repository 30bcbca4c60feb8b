package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iamrehman16/DataTricks-Team-Server/internal/auth"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/service"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/health"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/middleware"
)

// RouterConfig holds the HTTP-facing settings.
type RouterConfig struct {
	ServiceName    string
	CORS           middleware.CORSConfig
	RateLimitRPS   float64
	RateLimitBurst int
	Cookie         CookieConfig

	// DebugAllowedCIDRs enables /debug/pprof for these networks.
	DebugAllowedCIDRs []string
}

// UserRoutePrefix is where the account API is mounted.
const UserRoutePrefix = "/api/user"

// AccessTokenValidator bridges the auth middleware to the token manager.
// Refresh tokens are rejected here.
func AccessTokenValidator(tokens *auth.TokenManager) middleware.TokenValidator {
	return func(token string) (*middleware.Claims, error) {
		id, err := tokens.Verify(token, auth.TokenAccess)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{UserID: id.UserID}, nil
	}
}

// NewRouter creates a chi router with every identity route registered. ctx
// bounds the rate limiter's background sweeper.
func NewRouter(
	ctx context.Context,
	authService *service.AuthService,
	userService *service.UserService,
	tokens *auth.TokenManager,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	if cfg.Cookie.Path == "" {
		cfg.Cookie.Path = UserRoutePrefix
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Server is running"))
	})
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	middleware.MountDebug(r, cfg.DebugAllowedCIDRs, logger)

	authHandler := NewAuthHandler(authService, cfg.Cookie, logger)
	userHandler := NewUserHandler(userService, logger)
	requireAuth := middleware.Auth(AccessTokenValidator(tokens))

	r.Route(UserRoutePrefix, func(r chi.Router) {
		r.Use(middleware.NoStore)

		// Public endpoints, limited per client IP.
		r.Group(func(r chi.Router) {
			if cfg.RateLimitRPS > 0 {
				r.Use(middleware.RateLimit(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, logger))
			}
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/verify-otp", authHandler.VerifyOTP)
			r.Post("/resend-otp", authHandler.ResendOTP)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(middleware.RequestLogger(logger))

			r.Post("/logout", authHandler.Logout)
			r.Get("/{id}", userHandler.GetProfile)
			r.Put("/{id}", userHandler.UpdateProfile)
			r.Delete("/{id}", userHandler.DeleteAccount)
		})
	})

	return r
}
