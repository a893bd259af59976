package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTraceHeader = "X-Trace-Id"
	defaultSpanHeader  = "X-Span-Id"
)

// TraceResponseHeaders echoes the active trace and span ids so a CMS
// operator can quote them when reporting a failed invalidation. Empty
// names fall back to X-Trace-Id and X-Span-Id.
func TraceResponseHeaders(traceHeader, spanHeader string) func(http.Handler) http.Handler {
	traceHeader = cmpOr(traceHeader, defaultTraceHeader)
	spanHeader = cmpOr(spanHeader, defaultSpanHeader)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				h := w.Header()
				h.Set(traceHeader, sc.TraceID().String())
				h.Set(spanHeader, sc.SpanID().String())
			}
			next.ServeHTTP(w, r)
		})
	}
}

func cmpOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
