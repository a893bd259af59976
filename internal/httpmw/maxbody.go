package httpmw

import "net/http"

// MaxBody caps webhook payloads at limit bytes. Reads past the cap fail
// with *http.MaxBytesError; handlers answer 413 for it.
func MaxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
