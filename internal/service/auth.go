package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iamrehman16/DataTricks-Team-Server/internal/auth"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/domain"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/mail"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/ratelimit"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/repository"
	apperrors "github.com/iamrehman16/DataTricks-Team-Server/pkg/errors"
)

// Domain error codes beyond the generic taxonomy.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAlreadyVerified    = "ALREADY_VERIFIED"
	CodeInvalidOTP         = "INVALID_OTP"
	CodeOTPExpired         = "OTP_EXPIRED"
)

func errInvalidCredentials() *apperrors.AppError {
	return apperrors.New(http.StatusUnauthorized, CodeInvalidCredentials, "invalid credentials", apperrors.ErrUnauthorized)
}

func errAlreadyVerified() *apperrors.AppError {
	return apperrors.New(http.StatusBadRequest, CodeAlreadyVerified, "user already verified", apperrors.ErrInvalidInput)
}

func errInvalidOTP() *apperrors.AppError {
	return apperrors.New(http.StatusBadRequest, CodeInvalidOTP, "invalid OTP", apperrors.ErrInvalidInput)
}

func errOTPExpired() *apperrors.AppError {
	return apperrors.New(http.StatusBadRequest, CodeOTPExpired, "OTP expired, please request a new one", apperrors.ErrInvalidInput)
}

// Mailer queues outbound mail without blocking.
type Mailer interface {
	Enqueue(ctx context.Context, msg mail.Message)
}

// EventPublisher announces account lifecycle changes.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, user *domain.User) error
	PublishUserVerified(ctx context.Context, user *domain.User) error
	PublishUserDeleted(ctx context.Context, user *domain.User) error
}

// Limiters bound repeated attempts. Keys are normalized emails for login
// and resend, user ids for verification.
type Limiters struct {
	Login ratelimit.Limiter
	OTP   ratelimit.Limiter
}

// AuthService runs registration, verification and the session token
// lifecycle.
type AuthService struct {
	users    repository.UserRepository
	hasher   *auth.PasswordHasher
	otp      *auth.OTPGenerator
	tokens   *auth.TokenManager
	mailer   Mailer
	events   EventPublisher
	limits   Limiters
	mailFrom string
	logger   *slog.Logger
}

// NewAuthService creates an AuthService. Nil limiters allow everything.
func NewAuthService(
	users repository.UserRepository,
	hasher *auth.PasswordHasher,
	otp *auth.OTPGenerator,
	tokens *auth.TokenManager,
	mailer Mailer,
	events EventPublisher,
	limits Limiters,
	mailFrom string,
	logger *slog.Logger,
) *AuthService {
	if limits.Login == nil {
		limits.Login = ratelimit.Noop{}
	}
	if limits.OTP == nil {
		limits.OTP = ratelimit.Noop{}
	}
	return &AuthService{
		users:    users,
		hasher:   hasher,
		otp:      otp,
		tokens:   tokens,
		mailer:   mailer,
		events:   events,
		limits:   limits,
		mailFrom: mailFrom,
		logger:   logger,
	}
}

// --- Input/Output types ---

// RegisterInput holds the parameters for creating an account.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// RegisterResult identifies the new, still unverified account.
type RegisterResult struct {
	UserID string
	Email  string
}

// LoginInput holds the parameters for a password login.
type LoginInput struct {
	Email    string
	Password string
}

// LoginResult carries the freshly issued tokens.
type LoginResult struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             *domain.User
}

// --- Registration and verification ---

// Register creates a PendingVerification account and mails its code.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	email := domain.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, apperrors.InvalidInput("email and password are required")
	}
	if !domain.ValidEmail(email) {
		return nil, apperrors.InvalidInput("email is not a valid address")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if err := validateName(name); err != nil {
		return nil, err
	}

	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		record("register", "conflict")
		return nil, apperrors.Conflict("email already in use")
	case !errors.Is(err, apperrors.ErrNotFound):
		s.logger.ErrorContext(ctx, "failed to check existing account",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.Internal(fmt.Errorf("lookup email: %w", err))
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	code, expiresAt, err := s.otp.Issue()
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	user.SetOTP(code, expiresAt)

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			record("register", "conflict")
			return nil, apperrors.Conflict("email already in use")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.sendOTP(ctx, user.Email, code)

	if err := s.events.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	record("register", "success")
	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return &RegisterResult{UserID: user.ID, Email: user.Email}, nil
}

// VerifyOTP moves a PendingVerification account to Verified. A second
// successful call reports AlreadyVerified.
func (s *AuthService) VerifyOTP(ctx context.Context, userID, code string) error {
	userID = strings.TrimSpace(userID)
	code = strings.TrimSpace(code)
	if userID == "" || code == "" {
		return apperrors.InvalidInput("user id and OTP are required")
	}
	if err := s.allow(ctx, s.limits.OTP, "verify:"+userID, "verify_otp"); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return s.lookupError(ctx, err, "verify_otp")
	}
	if user.IsVerified {
		record("verify_otp", "already_verified")
		return errAlreadyVerified()
	}

	switch s.otp.Validate(code, user.OTP, user.OTPExpiresAt) {
	case auth.OTPMismatch:
		record("verify_otp", "mismatch")
		return errInvalidOTP()
	case auth.OTPExpired:
		record("verify_otp", "expired")
		return errOTPExpired()
	}

	if err := s.users.MarkVerified(ctx, user.ID, code); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return s.verifyLost(ctx, user.ID)
		}
		return fmt.Errorf("mark verified: %w", err)
	}
	user.MarkVerified()
	s.resetLimit(ctx, s.limits.OTP, "verify:"+userID)

	if err := s.events.PublishUserVerified(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.verified event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	record("verify_otp", "success")
	s.logger.InfoContext(ctx, "user verified", slog.String("user_id", user.ID))
	return nil
}

// verifyLost explains a verification whose code checked out but whose write
// matched no pending row because another request changed the row first.
func (s *AuthService) verifyLost(ctx context.Context, userID string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return s.lookupError(ctx, err, "verify_otp")
	}
	if user.IsVerified {
		record("verify_otp", "already_verified")
		return errAlreadyVerified()
	}
	record("verify_otp", "mismatch")
	return errInvalidOTP()
}

// ResendOTP issues a fresh code for a pending account. Unknown and already
// verified emails succeed silently so the endpoint cannot enumerate accounts.
func (s *AuthService) ResendOTP(ctx context.Context, email string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return apperrors.InvalidInput("email is required")
	}
	if err := s.allow(ctx, s.limits.OTP, "resend:"+email, "resend_otp"); err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, apperrors.ErrNotFound) {
		record("resend_otp", "unknown")
		return nil
	}
	if err != nil {
		return apperrors.Internal(fmt.Errorf("lookup email: %w", err))
	}
	if user.IsVerified {
		record("resend_otp", "already_verified")
		return nil
	}

	code, expiresAt, err := s.otp.Issue()
	if err != nil {
		return apperrors.Internal(err)
	}
	if err := s.users.SetOTP(ctx, user.ID, code, expiresAt); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Verified or deleted since the lookup.
			record("resend_otp", "already_verified")
			return nil
		}
		return fmt.Errorf("store otp: %w", err)
	}
	s.sendOTP(ctx, user.Email, code)

	record("resend_otp", "success")
	s.logger.InfoContext(ctx, "verification code reissued", slog.String("user_id", user.ID))
	return nil
}

func (s *AuthService) sendOTP(ctx context.Context, to, code string) {
	s.mailer.Enqueue(ctx, mail.OTPMessage(s.mailFrom, to, code, s.otp.TTL()))
}

// --- Sessions ---

// Login checks credentials and stores the new refresh token as the only
// valid one for the account.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	email := domain.NormalizeEmail(input.Email)
	if email == "" || input.Password == "" {
		return nil, apperrors.InvalidInput("email and password are required")
	}
	if err := s.allow(ctx, s.limits.Login, email, "login"); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Internal(fmt.Errorf("lookup email: %w", err))
		}
		s.hasher.VerifyDummy(input.Password)
		record("login", "invalid_credentials")
		return nil, errInvalidCredentials()
	}
	if !s.hasher.Verify(input.Password, user.PasswordHash) {
		record("login", "invalid_credentials")
		return nil, errInvalidCredentials()
	}

	access, err := s.tokens.IssueAccess(user)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	refresh, refreshExp, err := s.tokens.IssueRefresh(user)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := s.users.SetRefreshToken(ctx, user.ID, refresh); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	user.RefreshToken = &refresh
	s.resetLimit(ctx, s.limits.Login, email)

	record("login", "success")
	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
		slog.String("state", string(user.State())),
	)

	return &LoginResult{
		AccessToken:      access,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		User:             user,
	}, nil
}

// Refresh mints a new access token for a refresh token that verifies and
// still matches the one stored for its account.
func (s *AuthService) Refresh(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", apperrors.Unauthorized("refresh token required")
	}

	id, err := s.tokens.Verify(token, auth.TokenRefresh)
	if err != nil {
		record("refresh", "invalid")
		return "", apperrors.Forbidden("invalid or expired refresh token, login again")
	}

	user, err := s.users.GetByID(ctx, id.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			record("refresh", "unknown_user")
			return "", apperrors.Forbidden("user not found")
		}
		return "", apperrors.Internal(fmt.Errorf("lookup user: %w", err))
	}
	if user.RefreshToken == nil || subtle.ConstantTimeCompare([]byte(*user.RefreshToken), []byte(token)) != 1 {
		record("refresh", "mismatch")
		return "", apperrors.Forbidden("refresh token does not match, login again")
	}

	access, err := s.tokens.IssueAccess(user)
	if err != nil {
		return "", apperrors.Internal(err)
	}
	record("refresh", "success")
	return access, nil
}

// Logout drops the stored refresh token, which invalidates every refresh
// token issued so far.
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return s.lookupError(ctx, err, "logout")
	}
	if err := s.users.ClearRefreshToken(ctx, userID); err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	record("logout", "success")
	s.logger.InfoContext(ctx, "user logged out", slog.String("user_id", userID))
	return nil
}

// --- Helpers ---

// allow counts an attempt. A limiter outage is logged and does not block
// the flow.
func (s *AuthService) allow(ctx context.Context, l ratelimit.Limiter, key, event string) error {
	ok, retryAfter, err := l.Allow(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "attempt limiter unavailable",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !ok {
		record(event, "rate_limited")
		return apperrors.TooManyRequests(fmt.Sprintf("too many attempts, try again in %s", retryAfter.Round(time.Second)))
	}
	return nil
}

func (s *AuthService) resetLimit(ctx context.Context, l ratelimit.Limiter, key string) {
	if err := l.Reset(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "failed to reset attempt counter", slog.String("error", err.Error()))
	}
}

// lookupError passes NotFound through and turns anything else into an
// internal error.
func (s *AuthService) lookupError(ctx context.Context, err error, event string) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		record(event, "not_found")
		return apperrors.NotFound("user not found")
	}
	return apperrors.Internal(fmt.Errorf("%s lookup: %w", event, err))
}

func validatePassword(password string) error {
	if len(password) < domain.MinPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", domain.MinPasswordLength))
	}
	if len(password) > domain.MaxPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at most %d bytes", domain.MaxPasswordLength))
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return nil
	}
	if n := len([]rune(name)); n < domain.MinNameLength || n > domain.MaxNameLength {
		return apperrors.InvalidInput(fmt.Sprintf("name must be between %d and %d characters", domain.MinNameLength, domain.MaxNameLength))
	}
	return nil
}
