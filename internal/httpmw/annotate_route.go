package httpmw

import (
	"net/http"

	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// AnnotateHTTPRoute renames the server span to "METHOD pattern" once chi
// has routed the request, so webhook spans group by content type route
// rather than by raw path. Unrouted requests become "METHOD unmatched".
func AnnotateHTTPRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		span := trace.SpanFromContext(r.Context())
		if !span.IsRecording() {
			return
		}
		route := routePattern(r.Context())
		span.SetAttributes(semconv.HTTPRouteKey.String(route))
		span.SetName(r.Method + " " + route)
	})
}
