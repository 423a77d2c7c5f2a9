package middleware

import (
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/auth-broker-go/internal/errors"
	"github.com/openclaw/auth-broker-go/internal/httputil"
)

// DefaultMaxBodySize caps request bodies. No broker endpoint reads one.
const DefaultMaxBodySize = 16 << 10

type BodyLimitMiddleware struct {
	maxSize int64
}

func NewBodyLimitMiddleware(maxSize int64) *BodyLimitMiddleware {
	if maxSize <= 0 {
		maxSize = DefaultMaxBodySize
	}
	return &BodyLimitMiddleware{maxSize: maxSize}
}

func (m *BodyLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && r.ContentLength > m.maxSize {
			log.Debug().
				Int64("contentLength", r.ContentLength).
				Str("path", r.URL.Path).
				Msg("request body rejected")
			writeJSON(w, http.StatusRequestEntityTooLarge, httputil.ErrorResponse{
				Error: "Request body too large",
				Code:  apperrors.ErrCodeValidation,
			})
			return
		}

		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, m.maxSize)
		}
		next.ServeHTTP(w, r)
	})
}
