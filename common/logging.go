// Package common holds process-wide helpers shared by every command.
package common

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

var (
	// Version is set at build time with -ldflags "-X .../common.Version=..."
	Version = "dev"

	PackageName = "artifact_keeper"
)

// LoggingOpts selects the log handler and the attributes added to every record.
type LoggingOpts struct {
	Debug   bool
	JSON    bool
	Service string
	Version string
}

// SetupLogger returns a JSON logger for production or a colored text logger
// for terminals.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	}

	log := slog.New(handler)
	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}
	return log
}
