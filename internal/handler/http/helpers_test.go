package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iamrehman16/DataTricks-Team-Server/internal/auth"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/domain"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/event"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/mail"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/repository"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/service"
	apperrors "github.com/iamrehman16/DataTricks-Team-Server/pkg/errors"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/health"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/logger"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/middleware"
)

// --- In-memory account store ---

type memStore struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func (s *memStore) Create(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.users {
		if e.Email == u.Email {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
	}
	s.users[u.ID] = *u
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return &u, nil
	}
	return nil, apperrors.NotFound("user not found")
}

func (s *memStore) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, apperrors.NotFound("user not found")
}

func (s *memStore) mutate(id string, fn func(*domain.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return apperrors.NotFound("user not found")
	}
	fn(&u)
	s.users[id] = u
	return nil
}

func (s *memStore) SetRefreshToken(_ context.Context, id, token string) error {
	return s.mutate(id, func(u *domain.User) { u.RefreshToken = &token })
}

func (s *memStore) ClearRefreshToken(_ context.Context, id string) error {
	return s.mutate(id, func(u *domain.User) { u.RefreshToken = nil })
}

func (s *memStore) SetOTP(_ context.Context, id, otp string, exp time.Time) error {
	return s.mutatePending(id, func(u *domain.User) bool {
		u.SetOTP(otp, exp)
		return true
	})
}

func (s *memStore) MarkVerified(_ context.Context, id, otp string) error {
	return s.mutatePending(id, func(u *domain.User) bool {
		if u.OTP == nil || *u.OTP != otp {
			return false
		}
		u.MarkVerified()
		return true
	})
}

func (s *memStore) mutatePending(id string, fn func(*domain.User) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.IsVerified || !fn(&u) {
		return apperrors.NotFound("user not found")
	}
	s.users[id] = u
	return nil
}

func (s *memStore) UpdateProfile(_ context.Context, id string, change repository.ProfileChange) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperrors.NotFound("user not found")
	}
	if change.Email != nil {
		for _, e := range s.users {
			if e.Email == *change.Email && e.ID != id {
				return nil, apperrors.Conflict("email already in use")
			}
		}
		u.Email = *change.Email
		u.SetOTP(change.OTP, change.OTPExpiresAt)
	}
	if change.Name != nil {
		u.Name = *change.Name
	}
	s.users[id] = u
	return &u, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return apperrors.NotFound("user not found")
	}
	delete(s.users, id)
	return nil
}

type captureMailer struct {
	mu   sync.Mutex
	last map[string]string
}

func (m *captureMailer) Enqueue(_ context.Context, msg mail.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	const marker = "Your OTP code is "
	i := strings.Index(msg.Text, marker)
	m.last[msg.To] = msg.Text[i+len(marker) : i+len(marker)+auth.OTPLength]
}

func (m *captureMailer) code(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last[to]
}

// --- Test server ---

type testServer struct {
	handler http.Handler
	store   *memStore
	mailer  *captureMailer
	tokens  *auth.TokenManager
	logs    *bytes.Buffer
}

func newTestServer(t *testing.T, rps float64) *testServer {
	t.Helper()
	hasher, err := auth.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		AccessSecret:  "handler-access-secret-0123456789abcd",
		RefreshSecret: "handler-refresh-secret-0123456789abc",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "identity-test",
	})
	require.NoError(t, err)

	ts := &testServer{
		store:  &memStore{users: make(map[string]domain.User)},
		mailer: &captureMailer{last: make(map[string]string)},
		tokens: tokens,
		logs:   &bytes.Buffer{},
	}
	log := logger.NewWithWriter("identity-test", "debug", ts.logs)
	otp := auth.NewOTPGenerator(15 * time.Minute)
	authSvc := service.NewAuthService(ts.store, hasher, otp, tokens, ts.mailer, event.Noop{},
		service.Limiters{}, "team@example.com", log)
	userSvc := service.NewUserService(ts.store, otp, ts.mailer, event.Noop{}, "team@example.com", log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ts.handler = NewRouter(ctx, authSvc, userSvc, tokens, health.NewHandler(), log, RouterConfig{
		ServiceName:    "identity-test",
		CORS:           middleware.CORSConfig{AllowedOrigins: []string{"http://localhost:5173"}, AllowCredentials: true},
		RateLimitRPS:   rps,
		RateLimitBurst: 1,
		Cookie:         CookieConfig{MaxAge: tokens.RefreshTTL()},
	})
	return ts
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func (ts *testServer) do(t *testing.T, method, path string, body any, token string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) *envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil && env.Data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return &env
}

// signup registers and verifies an account and returns its id.
func (ts *testServer) signup(t *testing.T, email, password string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/user/register", map[string]string{"email": email, "password": password, "name": "Test"}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var reg RegisterResponse
	decode(t, rec, &reg)

	rec = ts.do(t, http.MethodPost, "/api/user/verify-otp", map[string]string{"userId": reg.UserID, "otp": ts.mailer.code(email)}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return reg.UserID
}

// login returns the access token and the refresh cookie.
func (ts *testServer) login(t *testing.T, email, password string) (string, *http.Cookie) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/user/login", map[string]string{"email": email, "password": password}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res LoginResponse
	decode(t, rec, &res)
	for _, c := range rec.Result().Cookies() {
		if c.Name == RefreshCookieName {
			return res.AccessToken, c
		}
	}
	t.Fatal("login set no refresh cookie")
	return "", nil
}
