// Package httpserver builds the service's *http.Server.
package httpserver

import (
	"net/http"
	"time"
)

// maxHeaderBytes bounds the authorize query, which carries the whole request object.
const maxHeaderBytes = 64 << 10

// New returns a server with read, write and idle timeouts set.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    maxHeaderBytes,
	}
}
