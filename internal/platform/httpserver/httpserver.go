package httpserver

import (
	"net/http"
	"time"
)

// New builds the provider's HTTP server. Authorization redirects and token
// exchanges are short round trips, so the timeouts are tight; slow-header
// clients must not pin listener goroutines.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
