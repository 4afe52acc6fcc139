package config

import (
	"fmt"
	"net/http"
	"time"
)

// NewHTTPServer creates and returns a configured *http.Server listening on port.
func NewHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
