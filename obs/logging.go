/*
logging.go - Structured logging for the server and CLI

PURPOSE:
  Builds the zerolog logger every component receives, and a chi middleware
  that writes one structured line per HTTP request.

FORMATS:
  json     One JSON object per line (default, for log shippers)
  console  Human-readable colored output for local runs

SEE ALSO:
  - metrics.go: Prometheus collectors
  - config/config.go: LOG_FORMAT / LOG_LEVEL
*/
package obs

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// NewLogger configures a zerolog logger writing to stdout.
// Unknown levels fall back to info.
func NewLogger(format, level string) zerolog.Logger {
	return NewLoggerTo(os.Stdout, format, level)
}

func NewLoggerTo(w io.Writer, format, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	out := w
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "text":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// =============================================================================
// HTTP
// =============================================================================

// StatusRecorder wraps ResponseWriter to capture the status code.
type StatusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *StatusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *StatusRecorder) Write(p []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(p)
	sr.bytes += int64(n)
	return n, err
}

func (sr *StatusRecorder) Status() int         { return sr.status }
func (sr *StatusRecorder) BytesWritten() int64 { return sr.bytes }

// routePattern returns the matched chi pattern, or the raw path when the
// request did not reach a route.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// RequestLogger writes one "http_request" line per request.
// Server errors log at error level, client errors at warn.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := NewStatusRecorder(w)
			start := time.Now()
			next.ServeHTTP(rec, r)

			evt := log.Info()
			switch {
			case rec.Status() >= http.StatusInternalServerError:
				evt = log.Error()
			case rec.Status() >= http.StatusBadRequest:
				evt = log.Warn()
			}
			evt.
				Str("method", r.Method).
				Str("route", routePattern(r)).
				Str("path", r.URL.Path).
				Int("status", rec.Status()).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Int64("bytes", rec.BytesWritten()).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http_request")
		})
	}
}
