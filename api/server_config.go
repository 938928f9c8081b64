package api

import (
	"log/slog"
	"time"
)

// HTTPServerConfig configures the storage and edge HTTP servers.
type HTTPServerConfig struct {
	ListenAddr string

	// MetricsAddr serves Prometheus metrics on a separate listener. Empty
	// disables it.
	MetricsAddr string

	EnablePprof bool
	Log         *slog.Logger

	// DrainDuration is how long /drain waits after flipping readiness so
	// load balancers stop routing before shutdown.
	DrainDuration time.Duration

	// GracefulShutdownDuration bounds in-flight requests on shutdown.
	GracefulShutdownDuration time.Duration

	ReadTimeout time.Duration

	// WriteTimeout must cover the slowest artifact download and a full GC
	// run triggered through the admin API.
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewHTTPServerConfig returns a config with the timeouts used by every
// artifact keeper server.
func NewHTTPServerConfig(listenAddr string, log *slog.Logger) *HTTPServerConfig {
	return &HTTPServerConfig{
		ListenAddr:               listenAddr,
		Log:                      log,
		DrainDuration:            45 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             10 * time.Minute,
		IdleTimeout:              2 * time.Minute,
	}
}
