package common

import (
	"log/slog"
	"os"
)

// LoggingOpts configures the process-wide logger.
type LoggingOpts struct {
	// Service name added as a "service" attribute to every record.
	Service string

	// JSON switches the handler to JSON output for log collectors.
	JSON bool

	// Debug lowers the level to slog.LevelDebug.
	Debug bool

	// Version added as a "version" attribute to every record.
	Version string
}

// SetupLogger creates the logger used by all components. Components receive it
// as a *slog.Logger and must not fall back to the default logger.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, handlerOpts)
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
