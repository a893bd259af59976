package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const SettingsHashHeader = "X-Settings-Hash"

// SettingsInfo reports the hash of the active settings snapshot, or "" when
// none is loaded.
type SettingsInfo interface {
	Hash() string
}

// SettingsHeaders stamps responses with a short settings hash so a caller
// can tell which path templates produced an invalidation.
func SettingsHeaders(info SettingsInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if info == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if h := info.Hash(); h != "" {
				short := h
				if len(short) > 12 {
					short = short[:12]
				}
				w.Header().Set(SettingsHashHeader, short)
				if span := trace.SpanFromContext(r.Context()); span.IsRecording() {
					span.SetAttributes(attribute.String("cdninv.settings.hash", h))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
