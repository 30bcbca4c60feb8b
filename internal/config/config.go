package config

import (
	"fmt"
	"strings"
	"time"

	pkgconfig "github.com/iamrehman16/DataTricks-Team-Server/pkg/config"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/database"
)

const (
	devAccessSecret  = "dev-access-secret-change-me"
	devRefreshSecret = "dev-refresh-secret-change-me"
	minSecretLength  = 32
)

// Mail transports.
const (
	MailSMTP  = "smtp"
	MailHTTP  = "http"
	MailKafka = "kafka"
	MailLog   = "log"
)

// Config holds all configuration for the identity service.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"identity-service"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort        int           `env:"PORT" envDefault:"5000"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// PostgreSQL. DATABASE_URL wins over the discrete fields when set.
	DatabaseURL   string        `env:"DATABASE_URL"`
	PostgresHost  string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort  int           `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser  string        `env:"POSTGRES_USER" envDefault:"identity"`
	PostgresPass  string        `env:"POSTGRES_PASSWORD" envDefault:"identity_secret"`
	PostgresDB    string        `env:"POSTGRES_DB" envDefault:"identity"`
	PostgresSSL   string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns    int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns    int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	DBSlowQuery   time.Duration `env:"DB_SLOW_QUERY_THRESHOLD" envDefault:"200ms"`
	RunMigrations bool          `env:"DB_RUN_MIGRATIONS" envDefault:"true"`

	// Redis backs the attempt limiter.
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"true"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// JWT
	JWTAccessSecret  string        `env:"JWT_ACCESS_TOKEN_SECRET"`
	JWTRefreshSecret string        `env:"JWT_REFRESH_TOKEN_SECRET"`
	JWTAccessExpiry  time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	JWTRefreshExpiry time.Duration `env:"JWT_REFRESH_TOKEN_EXPIRY" envDefault:"168h"`
	JWTIssuer        string        `env:"JWT_ISSUER" envDefault:"identity-service"`

	// Credentials and OTP
	BcryptCost int           `env:"BCRYPT_COST" envDefault:"12"`
	OTPTTL     time.Duration `env:"OTP_TTL" envDefault:"15m"`

	// Mail. With the default log transport, verification codes only reach
	// the log in development, at LOG_LEVEL=debug.
	MailTransport string        `env:"MAIL_TRANSPORT" envDefault:"log"`
	EmailHost     string        `env:"EMAIL_HOST"`
	EmailPort     int           `env:"EMAIL_PORT" envDefault:"587"`
	EmailUser     string        `env:"EMAIL_USER"`
	EmailPass     string        `env:"EMAIL_PASS"`
	EmailSecure   bool          `env:"EMAIL_SECURE" envDefault:"false"`
	EmailFrom     string        `env:"EMAIL_FROM"`
	MailRelayURL  string        `env:"MAIL_RELAY_URL"`
	MailWorkers   int           `env:"MAIL_WORKERS" envDefault:"2"`
	MailQueueSize int           `env:"MAIL_QUEUE_SIZE" envDefault:"256"`
	MailTimeout   time.Duration `env:"MAIL_SEND_TIMEOUT" envDefault:"10s"`

	// Mailer consumer: the transport that finally delivers mail published
	// with MAIL_TRANSPORT=kafka.
	MailDeliveryTransport string `env:"MAIL_DELIVERY_TRANSPORT" envDefault:"log"`
	MailerGroupID         string `env:"MAILER_GROUP_ID" envDefault:"identity-mailer"`

	// Attempt limiting (Redis)
	LoginMaxAttempts int           `env:"LOGIN_MAX_ATTEMPTS" envDefault:"5"`
	LoginWindow      time.Duration `env:"LOGIN_WINDOW" envDefault:"15m"`
	OTPMaxAttempts   int           `env:"OTP_MAX_ATTEMPTS" envDefault:"5"`
	OTPWindow        time.Duration `env:"OTP_WINDOW" envDefault:"15m"`

	// Per-IP limiting on public auth routes
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:5173" envSeparator:","`

	// Networks allowed to reach /debug/pprof; empty disables it.
	DebugAllowedCIDRs []string `env:"DEBUG_ALLOWED_CIDRS" envSeparator:","`

	// Tracing
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load identity config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.IsDevelopment() {
		if c.JWTAccessSecret == "" {
			c.JWTAccessSecret = devAccessSecret
		}
		if c.JWTRefreshSecret == "" {
			c.JWTRefreshSecret = devRefreshSecret
		}
	} else {
		for name, secret := range map[string]string{
			"JWT_ACCESS_TOKEN_SECRET":  c.JWTAccessSecret,
			"JWT_REFRESH_TOKEN_SECRET": c.JWTRefreshSecret,
		} {
			if secret == "" {
				return fmt.Errorf("%s must be explicitly set via environment variable in %q mode", name, c.Environment)
			}
			if len(secret) < minSecretLength {
				return fmt.Errorf("%s must be at least %d characters long, got %d", name, minSecretLength, len(secret))
			}
		}
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return fmt.Errorf("JWT_ACCESS_TOKEN_SECRET and JWT_REFRESH_TOKEN_SECRET must differ")
	}

	if c.JWTAccessExpiry <= 0 || c.JWTRefreshExpiry <= 0 {
		return fmt.Errorf("token expiries must be positive")
	}
	if c.JWTAccessExpiry >= c.JWTRefreshExpiry {
		return fmt.Errorf("JWT_ACCESS_TOKEN_EXPIRY (%s) must be shorter than JWT_REFRESH_TOKEN_EXPIRY (%s)", c.JWTAccessExpiry, c.JWTRefreshExpiry)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost)
	}
	if c.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}

	c.MailTransport = strings.ToLower(strings.TrimSpace(c.MailTransport))
	if err := c.validateTransport("MAIL_TRANSPORT", c.MailTransport); err != nil {
		return err
	}
	c.MailDeliveryTransport = strings.ToLower(strings.TrimSpace(c.MailDeliveryTransport))
	if c.MailDeliveryTransport == MailKafka {
		return fmt.Errorf("MAIL_DELIVERY_TRANSPORT cannot be kafka")
	}
	if c.MailTransport == MailKafka {
		if err := c.validateTransport("MAIL_DELIVERY_TRANSPORT", c.MailDeliveryTransport); err != nil {
			return err
		}
	}
	if c.MailWorkers < 1 || c.MailQueueSize < 1 {
		return fmt.Errorf("MAIL_WORKERS and MAIL_QUEUE_SIZE must be at least 1")
	}

	return nil
}

func (c *Config) validateTransport(key, transport string) error {
	switch transport {
	case MailSMTP:
		if c.EmailHost == "" || c.EmailUser == "" {
			return fmt.Errorf("EMAIL_HOST and EMAIL_USER are required for the smtp mail transport")
		}
	case MailHTTP:
		if c.MailRelayURL == "" {
			return fmt.Errorf("MAIL_RELAY_URL is required for the http mail transport")
		}
	case MailKafka:
		if !c.KafkaEnabled {
			return fmt.Errorf("KAFKA_ENABLED must be true for the kafka mail transport")
		}
	case MailLog:
	default:
		return fmt.Errorf("unknown %s %q", key, transport)
	}
	return nil
}

// IsDevelopment reports whether the relaxed development rules apply.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether cookies must be marked Secure.
func (c *Config) IsProduction() bool {
	return pkgconfig.IsProduction(c.Environment)
}

// Postgres returns the pool configuration.
func (c *Config) Postgres() database.PostgresConfig {
	pg := database.DefaultPostgresConfig()
	pg.URL = c.DatabaseURL
	pg.Host = c.PostgresHost
	pg.Port = c.PostgresPort
	pg.User = c.PostgresUser
	pg.Password = c.PostgresPass
	pg.DBName = c.PostgresDB
	pg.SSLMode = c.PostgresSSL
	pg.MaxConns = c.DBMaxConns
	pg.MinConns = c.DBMinConns
	return pg
}

// Redis returns the Redis client configuration.
func (c *Config) Redis() database.RedisConfig {
	rc := database.DefaultRedisConfig()
	rc.Host = c.RedisHost
	rc.Port = c.RedisPort
	rc.Password = c.RedisPassword
	rc.DB = c.RedisDB
	return rc
}

// MailFrom returns the From header for outbound mail.
func (c *Config) MailFrom() string {
	if c.EmailFrom != "" {
		return c.EmailFrom
	}
	return fmt.Sprintf("%q <%s>", "DataTricks.Team", c.EmailUser)
}
