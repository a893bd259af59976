package httpmw

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/log"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/xerrors"
)

// responseWriter records status and body size for the access log. The
// first header or body write opens a "response.write" child span that
// carries time to first byte and how long writes blocked on the client.
type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64

	ctx     context.Context
	start   time.Time
	span    trace.Span
	opened  bool
	blocked time.Duration
	err     error
}

func newResponseWriter(w http.ResponseWriter, r *http.Request) *responseWriter {
	return &responseWriter{ResponseWriter: w, ctx: r.Context(), start: time.Now()}
}

func (rw *responseWriter) open() {
	if rw.opened {
		return
	}
	rw.opened = true
	if !trace.SpanFromContext(rw.ctx).IsRecording() {
		return
	}
	_, rw.span = otel.Tracer("cdninv/httpmw").Start(rw.ctx, "response.write",
		trace.WithAttributes(attribute.Float64("http.server.ttfb_seconds", time.Since(rw.start).Seconds())))
}

func (rw *responseWriter) close() {
	if rw.span == nil {
		return
	}
	rw.span.SetAttributes(
		attribute.Int("http.response.status_code", rw.statusOrOK()),
		attribute.Int64("http.response.body.size", rw.bytes),
		attribute.Float64("http.server.write.block_seconds", rw.blocked.Seconds()),
	)
	if rw.err != nil {
		rw.span.RecordError(rw.err)
		rw.span.SetStatus(codes.Error, rw.err.Error())
	}
	rw.span.End()
}

func (rw *responseWriter) statusOrOK() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.open()
	rw.status = code
	defer rw.timeBlocked(time.Now())
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.open()
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	defer rw.timeBlocked(time.Now())
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	if rw.err == nil {
		rw.err = err
	}
	return n, err
}

func (rw *responseWriter) timeBlocked(since time.Time) { rw.blocked += time.Since(since) }

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, xerrors.New("response writer does not support hijacking")
}

// WithLogger stores a request-scoped logger in the context. It must run
// inside RequestID and ClientIP.
func WithLogger(base log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reqID := RequestIDFromContext(ctx)
			clientAddr := ClientIPFromContext(ctx)

			peerAddr := r.RemoteAddr
			if host, _, err := net.SplitHostPort(peerAddr); err == nil {
				peerAddr = host
			}
			if clientAddr == "" {
				clientAddr = peerAddr
			}
			scheme := schemeFromRequest(r)

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("request_id", reqID),
					attribute.String("client.address", clientAddr),
					attribute.String("network.peer.address", peerAddr),
					attribute.String("url.scheme", scheme),
				)
			}

			L := base.With(
				"request_id", reqID,
				"client.address", clientAddr,
				"network.peer.address", peerAddr,
				"server.address", r.Host,
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
				"url.scheme", scheme,
			)
			next.ServeHTTP(w, r.WithContext(log.WithContext(ctx, L)))
		})
	}
}

// AccessLog writes one line per webhook request through the context
// logger, at warn level for 5xx. Probe endpoints are not logged.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := newResponseWriter(w, r)
			next.ServeHTTP(rw, r)
			rw.close()

			if isProbePath(r.URL.Path) {
				return
			}

			ctx := r.Context()
			status := rw.statusOrOK()
			kv := []any{
				"http.response.status_code", status,
				"http.server.request.duration", time.Since(rw.start).Seconds(),
				"http.response.body.size", rw.bytes,
				"http.request.body.size", max(r.ContentLength, 0),
				"http.route", routePattern(ctx),
			}
			if ct := chi.URLParamFromCtx(ctx, "contentType"); ct != "" {
				kv = append(kv, "content_type", ct)
			}

			L := log.FromContext(ctx)
			if status >= http.StatusInternalServerError {
				L.Warn(ctx, "http request", kv...)
			} else {
				L.Info(ctx, "http request", kv...)
			}
		})
	}
}

// routePattern is the matched chi pattern, or "unmatched".
func routePattern(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func isProbePath(p string) bool {
	return p == "/-/ready" || p == "/-/healthy" || p == "/healthz" || p == "/readyz"
}

// schemeFromRequest trusts X-Forwarded-Proto only after ClientIP has had a
// chance to strip it, and only accepts http or https.
func schemeFromRequest(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		first := strings.ToLower(strings.TrimSpace(strings.Split(xf, ",")[0]))
		if first == "http" || first == "https" {
			return first
		}
	}
	if r.URL != nil {
		if s := strings.ToLower(r.URL.Scheme); s == "http" || s == "https" {
			return s
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// Scope names the handler on the request logger and span.
func Scope(handler string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = log.WithContext(ctx, log.FromContext(ctx).With("handler", handler))
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(attribute.String("app.handler", handler))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
