// Package errorreporter wraps getsentry/sentry-go behind a small
// interface so the rest of the module never imports it directly.
// Grounded on CoolLamer-karen's backend/cmd/server/main.go: DSN-gated
// init, CaptureException on fatal paths, a bounded Flush before exit.
package errorreporter

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/rokid/voiceclient/internal/opctl"
)

// Reporter captures errors to Sentry. The zero value is a disabled
// reporter; use New to enable one. A nil *Reporter is valid and every method on it is a no-op, so
// callers can wire it unconditionally and skip it only by passing nil.
type Reporter struct {
	enabled bool
}

// New initializes Sentry if dsn is non-empty. environment is attached to
// every captured event (e.g. "production", "staging"). A Sentry init
// failure is logged by the caller and does not prevent startup; it just
// leaves reporting disabled.
func New(dsn, environment string) (*Reporter, error) {
	if dsn == "" {
		return &Reporter{enabled: false}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	}); err != nil {
		return nil, fmt.Errorf("errorreporter: sentry init: %w", err)
	}
	return &Reporter{enabled: true}, nil
}

// Capture reports a bare error.
func (r *Reporter) Capture(err error) {
	if r == nil || !r.enabled || err == nil {
		return
	}
	sentry.CaptureException(err)
}

// CaptureOperationError reports an operation's terminal error kind with
// the session id attached as a tag, so failures can be grouped by
// reason in the Sentry UI.
func (r *Reporter) CaptureOperationError(id int64, kind opctl.ErrorKind) {
	if r == nil || !r.enabled || kind == opctl.ErrorNone {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("session_id", fmt.Sprintf("%d", id))
		scope.SetTag("error_kind", kind.String())
		sentry.CaptureException(fmt.Errorf("operation %d failed: %s", id, kind.String()))
	})
}

// Flush blocks up to timeout waiting for buffered events to send. Call
// it once during shutdown, after the last Capture.
func (r *Reporter) Flush(timeout time.Duration) {
	if r == nil || !r.enabled {
		return
	}
	sentry.Flush(timeout)
}
