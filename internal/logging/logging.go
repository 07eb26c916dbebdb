// Package logging provides Nalyze's process-wide structured logger,
// adapted from CrlsMrls-dummybox's logger package: zerolog, a
// context-carried logger, and a correlation id field attached per
// request. Text output locally, JSON in Kubernetes — matching both
// dummybox's InitLogger and gomind's K8s auto-detection in
// core/config.go's DetectEnvironment.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Init installs the global logger. format is "json" or "text"; level is
// a zerolog level name ("debug", "info", "warn", "error").
func Init(level, format string, writer io.Writer) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	if writer == nil {
		writer = os.Stdout
	}

	zerolog.SetGlobalLevel(logLevel)
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = writer
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.Kitchen}
	}

	l := zerolog.New(out).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &l
}

// FromContext returns the request-scoped logger, falling back to the
// process default the way dummybox's logger.FromContext does.
func FromContext(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		if zerolog.DefaultContextLogger != nil {
			return zerolog.DefaultContextLogger
		}
		fallback := zerolog.New(os.Stdout).With().Timestamp().Logger()
		return &fallback
	}
	return l
}

// WithCorrelationID attaches a correlation_id field and returns both the
// derived context and logger, mirroring dummybox's WithCorrelationID —
// used by the HTTP correlation-id middleware.
func WithCorrelationID(ctx context.Context, correlationID string) (context.Context, *zerolog.Logger) {
	l := FromContext(ctx).With().Str("correlation_id", correlationID).Logger()
	return l.WithContext(ctx), &l
}

// WithComponent tags a logger with a component name, following gomind's
// ComponentAwareLogger convention ("router", "conversation", "sqlexec", ...).
func WithComponent(ctx context.Context, component string) *zerolog.Logger {
	l := FromContext(ctx).With().Str("component", component).Logger()
	return &l
}
