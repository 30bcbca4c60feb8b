package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamrehman16/DataTricks-Team-Server/pkg/httputil"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/logger"
)

const goodToken = "good-token"

func stubValidator(token string) (*Claims, error) {
	if token == goodToken {
		return &Claims{UserID: "user-1"}, nil
	}
	return nil, errors.New("invalid token")
}

// recordingHandler notes whether it ran and captures the identity it saw.
type recordingHandler struct {
	called bool
	userID string
	logUID string
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	h.userID = UserIDFromContext(r.Context())
	h.logUID = logger.UserIDFromContext(r.Context())
	w.WriteHeader(http.StatusOK)
}

func serveAuth(t *testing.T, header string) (*httptest.ResponseRecorder, *recordingHandler) {
	t.Helper()
	next := &recordingHandler{}
	req := httptest.NewRequest(http.MethodGet, "/api/user/abc", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	Auth(stubValidator)(next).ServeHTTP(rr, req)
	return rr, next
}

func errorOf(t *testing.T, rr *httptest.ResponseRecorder) *httputil.ErrorResponse {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

func TestAuth_ValidTokenAttachesIdentity(t *testing.T) {
	rr, next := serveAuth(t, "Bearer "+goodToken)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, next.called)
	assert.Equal(t, "user-1", next.userID)
	assert.Equal(t, "user-1", next.logUID)
}

func TestAuth_SchemeIsCaseInsensitive(t *testing.T) {
	rr, next := serveAuth(t, "bearer "+goodToken)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, next.called)
}

func TestAuth_MissingHeader(t *testing.T) {
	rr, next := serveAuth(t, "")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.False(t, next.called)
	e := errorOf(t, rr)
	assert.Equal(t, "UNAUTHORIZED", e.Code)
	assert.Equal(t, "access token required", e.Message)
}

func TestAuth_BearerWithoutToken(t *testing.T) {
	rr, next := serveAuth(t, "Bearer   ")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.False(t, next.called)
}

func TestAuth_MalformedHeader(t *testing.T) {
	for _, h := range []string{"Basic dXNlcjpwYXNz", goodToken, "Token " + goodToken} {
		rr, next := serveAuth(t, h)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, h)
		assert.False(t, next.called, h)
	}
}

func TestAuth_InvalidTokenIsForbiddenAndTerminal(t *testing.T) {
	rr, next := serveAuth(t, "Bearer forged")

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.False(t, next.called, "next must not run after a rejection")
	e := errorOf(t, rr)
	assert.Equal(t, "FORBIDDEN", e.Code)
	assert.Equal(t, "invalid or expired token", e.Message)
}

func TestAuth_ValidatorReturningEmptySubjectRejected(t *testing.T) {
	next := &recordingHandler{}
	validator := func(string) (*Claims, error) { return &Claims{}, nil }

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer x")
	rr := httptest.NewRecorder()
	Auth(validator)(next).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.False(t, next.called)
}

func TestContextAccessors_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, UserIDFromContext(req.Context()))
}
