package service

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iamrehman16/DataTricks-Team-Server/internal/auth"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/domain"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/mail"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/repository"
	apperrors "github.com/iamrehman16/DataTricks-Team-Server/pkg/errors"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/logger"
)

// --- In-memory account store ---

// memUserRepo keeps copies of rows so callers cannot mutate stored state.
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]domain.User)}
}

func (r *memUserRepo) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
	}
	r.users[u.ID] = *u
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, apperrors.NotFound("user not found")
	}
	return &u, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, apperrors.NotFound("user not found")
}

func (r *memUserRepo) update(id string, fn func(u *domain.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return apperrors.NotFound("user not found")
	}
	fn(&u)
	r.users[id] = u
	return nil
}

func (r *memUserRepo) SetRefreshToken(_ context.Context, userID, token string) error {
	return r.update(userID, func(u *domain.User) { u.RefreshToken = &token })
}

func (r *memUserRepo) ClearRefreshToken(_ context.Context, userID string) error {
	return r.update(userID, func(u *domain.User) { u.RefreshToken = nil })
}

func (r *memUserRepo) SetOTP(_ context.Context, userID, otp string, expiresAt time.Time) error {
	return r.updatePending(userID, func(u *domain.User) bool {
		u.SetOTP(otp, expiresAt)
		return true
	})
}

func (r *memUserRepo) MarkVerified(_ context.Context, userID, otp string) error {
	return r.updatePending(userID, func(u *domain.User) bool {
		if u.OTP == nil || *u.OTP != otp {
			return false
		}
		u.MarkVerified()
		return true
	})
}

// updatePending applies fn to an unverified row; like the SQL guard, a
// verified row or a false return reports not found.
func (r *memUserRepo) updatePending(id string, fn func(u *domain.User) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || u.IsVerified || !fn(&u) {
		return apperrors.NotFound("user not found")
	}
	r.users[id] = u
	return nil
}

func (r *memUserRepo) UpdateProfile(_ context.Context, id string, change repository.ProfileChange) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, apperrors.NotFound("user not found")
	}
	if change.Email != nil {
		for otherID, other := range r.users {
			if otherID != id && other.Email == *change.Email {
				return nil, apperrors.Conflict("email already in use")
			}
		}
		u.Email = *change.Email
		u.SetOTP(change.OTP, change.OTPExpiresAt)
	}
	if change.Name != nil {
		u.Name = *change.Name
	}
	r.users[id] = u
	return &u, nil
}

func (r *memUserRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return apperrors.NotFound("user not found")
	}
	delete(r.users, id)
	return nil
}

func (r *memUserRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

// --- Mock account store for failure paths ---

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) Create(ctx context.Context, u *domain.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) SetRefreshToken(ctx context.Context, userID, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}

func (m *mockUserRepository) ClearRefreshToken(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *mockUserRepository) SetOTP(ctx context.Context, userID, otp string, expiresAt time.Time) error {
	return m.Called(ctx, userID, otp, expiresAt).Error(0)
}

func (m *mockUserRepository) MarkVerified(ctx context.Context, userID, otp string) error {
	return m.Called(ctx, userID, otp).Error(0)
}

func (m *mockUserRepository) UpdateProfile(ctx context.Context, userID string, change repository.ProfileChange) (*domain.User, error) {
	args := m.Called(ctx, userID, change)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// --- Collaborator fakes ---

type fakeMailer struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (m *fakeMailer) Enqueue(_ context.Context, msg mail.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
}

func (m *fakeMailer) sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.msgs...)
}

type fakeEvents struct {
	mu    sync.Mutex
	kinds []string
}

func (e *fakeEvents) add(kind string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kinds = append(e.kinds, kind)
	return nil
}

func (e *fakeEvents) PublishUserRegistered(context.Context, *domain.User) error {
	return e.add("registered")
}

func (e *fakeEvents) PublishUserVerified(context.Context, *domain.User) error {
	return e.add("verified")
}

func (e *fakeEvents) PublishUserDeleted(context.Context, *domain.User) error {
	return e.add("deleted")
}

type fakeLimiter struct {
	mu     sync.Mutex
	deny   bool
	err    error
	keys   []string
	resets []string
}

func (l *fakeLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	if l.err != nil {
		return false, 0, l.err
	}
	return !l.deny, 90 * time.Second, nil
}

func (l *fakeLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resets = append(l.resets, key)
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Fixture ---

type fixture struct {
	repo     *memUserRepo
	mailer   *fakeMailer
	events   *fakeEvents
	login    *fakeLimiter
	otpLimit *fakeLimiter
	clock    *testClock
	tokens   *auth.TokenManager
	logs     *bytes.Buffer
	auth     *AuthService
	users    *UserService
}

const testFrom = `"DataTricks.Team" <team@example.com>`

func newTestTokens(t *testing.T) *auth.TokenManager {
	t.Helper()
	tm, err := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  "test-access-secret-0123456789abcdef",
		RefreshSecret: "test-refresh-secret-0123456789abcdef",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "identity-test",
	})
	require.NoError(t, err)
	return tm
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hasher, err := auth.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)

	f := &fixture{
		repo:     newMemUserRepo(),
		mailer:   &fakeMailer{},
		events:   &fakeEvents{},
		login:    &fakeLimiter{},
		otpLimit: &fakeLimiter{},
		clock:    &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		tokens:   newTestTokens(t),
		logs:     &bytes.Buffer{},
	}
	otp := auth.NewOTPGenerator(15 * time.Minute).WithClock(f.clock.Now)
	log := logger.NewWithWriter("identity-test", "debug", f.logs)

	f.auth = NewAuthService(f.repo, hasher, otp, f.tokens, f.mailer, f.events,
		Limiters{Login: f.login, OTP: f.otpLimit}, testFrom, log)
	f.users = NewUserService(f.repo, otp, f.mailer, f.events, testFrom, log)
	return f
}

// register creates an account and returns its id and mailed code.
func (f *fixture) register(t *testing.T, email, password string) (string, string) {
	t.Helper()
	res, err := f.auth.Register(context.Background(), RegisterInput{Email: email, Password: password, Name: "Test User"})
	require.NoError(t, err)
	msgs := f.mailer.sent()
	require.NotEmpty(t, msgs)
	return res.UserID, codeFrom(t, msgs[len(msgs)-1])
}

// codeFrom extracts the six-digit code from a verification mail.
func codeFrom(t *testing.T, msg mail.Message) string {
	t.Helper()
	const marker = "Your OTP code is "
	i := strings.Index(msg.Text, marker)
	require.GreaterOrEqual(t, i, 0)
	code := msg.Text[i+len(marker) : i+len(marker)+auth.OTPLength]
	return code
}

func requireAppError(t *testing.T, err error, status int, code string) *apperrors.AppError {
	t.Helper()
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, status, appErr.Status, appErr.Error())
	if code != "" {
		require.Equal(t, code, appErr.Code)
	}
	return appErr
}
