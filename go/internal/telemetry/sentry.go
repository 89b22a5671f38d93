// Package telemetry reports panics and errors to Sentry when a DSN is
// configured. Without one every function is a no-op.
package telemetry

import (
	"fmt"
	"net/http"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

var enabled atomic.Bool

// Options configures the Sentry client.
type Options struct {
	DSN         string
	Release     string
	Environment string
}

// Init initializes the Sentry SDK. An empty DSN disables reporting.
func Init(opts Options) error {
	if opts.DSN == "" {
		enabled.Store(false)
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Release:          "livecontrol@" + opts.Release,
		Environment:      opts.Environment,
		AttachStacktrace: true,
		SampleRate:       1.0,
	})
	if err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		scope.SetTag("go_version", runtime.Version())
	})

	enabled.Store(true)
	return nil
}

func IsEnabled() bool {
	return enabled.Load()
}

// Flush waits up to 2 seconds for buffered events to be sent.
func Flush() {
	if !IsEnabled() {
		return
	}
	sentry.Flush(2 * time.Second)
}

// CaptureError reports err.
func CaptureError(err error) {
	if err == nil || !IsEnabled() {
		return
	}
	sentry.CaptureException(err)
}

// Recover turns a panic in next into a 500 response. The panic is logged
// and, when enabled, reported to Sentry with the request attached.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			log.Error().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("recovered from panic")

			if IsEnabled() {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(r)
				hub.Recover(rec)
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}
