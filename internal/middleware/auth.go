package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/openclaw/auth-broker-go/internal/audit"
	apperrors "github.com/openclaw/auth-broker-go/internal/errors"
	"github.com/openclaw/auth-broker-go/internal/httputil"
)

type contextKey string

const SessionTokenContextKey contextKey = "sessionToken"

func GetSessionToken(ctx context.Context) string {
	if token, ok := ctx.Value(SessionTokenContextKey).(string); ok {
		return token
	}
	return ""
}

// BearerAuthMiddleware requires an Authorization bearer and stores it in the
// request context. Whether the session exists is decided by the handler.
type BearerAuthMiddleware struct{}

func NewBearerAuthMiddleware() *BearerAuthMiddleware {
	return &BearerAuthMiddleware{}
}

func (m *BearerAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]any{"reason": "missing bearer"},
			})
			httputil.WriteError(w, apperrors.Unauthorized("Missing bearer token"))
			return
		}

		ctx := context.WithValue(r.Context(), SessionTokenContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearerToken reads the Authorization header only.
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
