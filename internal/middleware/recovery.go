package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"

	"github.com/anmar534/desktop-management-system/internal/apierr"
	"github.com/anmar534/desktop-management-system/internal/errorlog"
	"github.com/anmar534/desktop-management-system/internal/errorreporting"
	"github.com/anmar534/desktop-management-system/internal/logger"
	"github.com/anmar534/desktop-management-system/internal/metrics"
)

// PanicErrorType is the error log type used for recovered handler panics.
const PanicErrorType = "panic"

// Recover turns handler panics into a SYSTEM_INTERNAL response. When errs is
// set the panic is also recorded as a critical error, which forwards it to
// Sentry; otherwise it is captured on a request-scoped Sentry hub directly.
func Recover(errs *errorlog.Log) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				stack := debug.Stack()
				metrics.HTTPPanics.Inc()

				logger.ErrorContext(r.Context(), "Panic recovered",
					"error", rec,
					"stack", string(stack),
					"method", r.Method,
					"path", r.URL.Path,
				)

				if errs != nil {
					errs.Report(r.Context(), errorlog.Input{
						Type:      PanicErrorType,
						Message:   fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, rec),
						Component: "http",
						Severity:  errorlog.SeverityCritical,
					})
				} else if errorreporting.IsSentryEnabled() {
					hub := sentry.CurrentHub().Clone()
					hub.Scope().SetRequest(r)
					hub.Scope().SetLevel(sentry.LevelFatal)
					hub.Scope().SetTag("method", r.Method)
					hub.Scope().SetTag("path", r.URL.Path)
					if e, ok := rec.(error); ok {
						hub.CaptureException(e)
					} else {
						hub.CaptureMessage(errorreporting.ScrubPII(fmt.Sprint(rec)))
					}
				}

				apierr.WriteErrorWithContext(w, r, apierr.SystemInternal(""))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
