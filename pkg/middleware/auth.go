package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/iamrehman16/DataTricks-Team-Server/pkg/httputil"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/logger"
)

type contextKeyType string

const userIDKey contextKeyType = "user_id"

// Claims is the identity the auth middleware attaches to a request.
type Claims struct {
	UserID string `json:"user_id"`
}

// TokenValidator verifies an access token and returns its claims. Any error
// rejects the request.
type TokenValidator func(token string) (*Claims, error)

// Auth gates a route behind a bearer access token.
//
// A missing header or token yields 401, a token the validator rejects yields
// 403. Rejections are terminal: next is never invoked after a response has
// been written.
func Auth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if authHeader == "" {
				writeAuthError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "access token required")
				return
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				writeAuthError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid authorization header format")
				return
			}

			token = strings.TrimSpace(token)
			if token == "" {
				writeAuthError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "access token required")
				return
			}

			claims, err := validate(token)
			if err != nil || claims == nil || claims.UserID == "" {
				writeAuthError(w, r, http.StatusForbidden, "FORBIDDEN", "invalid or expired token")
				return
			}

			ctx := WithClaims(r.Context(), claims)
			trace.SpanFromContext(ctx).SetAttributes(attribute.String("enduser.id", claims.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithClaims stores the authenticated identity in ctx. The user id is also
// recorded for log enrichment.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	ctx = context.WithValue(ctx, userIDKey, c.UserID)
	return logger.WithUserID(ctx, c.UserID)
}

// UserIDFromContext extracts the authenticated user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httputil.WriteJSON(w, status, httputil.Response{
		Error: &httputil.ErrorResponse{
			Code:      code,
			Message:   message,
			RequestID: logger.CorrelationIDFromContext(r.Context()),
		},
	})
}
