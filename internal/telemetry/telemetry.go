// Package telemetry reports errors to Sentry.
//
// Reporting is optional: with no DSN configured every function is a no-op,
// so callers never need to check whether Sentry is enabled.
package telemetry

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// FlushTimeout bounds the final flush on shutdown.
const FlushTimeout = 2 * time.Second

// Options configures Init.
type Options struct {
	DSN         string
	Environment string
	Release     string
}

// Init configures the global Sentry client. It returns false without error
// when DSN is empty.
func Init(opts Options) (bool, error) {
	if opts.DSN == "" {
		return false, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         opts.DSN,
		Environment: opts.Environment,
		Release:     opts.Release,
	})
	if err != nil {
		return false, fmt.Errorf("sentry init failed: %w", err)
	}
	return true, nil
}

// CaptureError sends err to Sentry tagged with component and any extra
// key/value context.
func CaptureError(err error, component string, extra map[string]any) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		for k, v := range extra {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush waits for queued events to be delivered.
func Flush() {
	sentry.Flush(FlushTimeout)
}

// Reporter adapts CaptureError to callbacks that take only an error, such as
// the detection loop's OnError. Errors are logged and reported.
type Reporter struct {
	Component string
	Logger    *slog.Logger
}

// Report logs err at warn level and sends it to Sentry.
func (r Reporter) Report(err error) {
	if err == nil {
		return
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("operation failed", "component", r.Component, "error", err)
	CaptureError(err, r.Component, nil)
}
