package httputil

import (
	"net"
	"net/http"
)

// ClientIP returns the caller's address without port. Behind a proxy it
// relies on chi's RealIP middleware having rewritten RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
