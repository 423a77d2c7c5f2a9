package middleware

import (
	"net/http"
)

type SecurityHeadersMiddleware struct {
	isHTTPS bool
}

func NewSecurityHeadersMiddleware(isHTTPS bool) *SecurityHeadersMiddleware {
	return &SecurityHeadersMiddleware{isHTTPS: isHTTPS}
}

// Handler marks every response as non-cacheable.
func (m *SecurityHeadersMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")

		if m.isHTTPS {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		// Callback pages are static HTML with inline styles only.
		csp := "default-src 'none'; " +
			"style-src 'unsafe-inline'; " +
			"frame-ancestors 'none'; " +
			"base-uri 'none'; " +
			"form-action 'none'"

		w.Header().Set("Content-Security-Policy", csp)

		next.ServeHTTP(w, r)
	})
}
