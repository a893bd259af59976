package httpmw

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMaxBody(t *testing.T) {
	const limit = 64
	payload := func(n int) string { return `{"id":7,"title":"` + strings.Repeat("x", n) + `"}` }
	base := len(payload(0))

	tests := []struct {
		name     string
		method   string
		body     string
		limit    int64
		wantRead int
		wantErr  bool
	}{
		{"under limit", http.MethodPost, payload(10), limit, base + 10, false},
		{"exactly at limit", http.MethodPost, payload(limit - base), limit, limit, false},
		{"one over", http.MethodPost, payload(limit - base + 1), limit, limit, true},
		{"far over", http.MethodPost, payload(4096), limit, limit, true},
		{"empty get", http.MethodGet, "", limit, 0, false},
		{"zero limit rejects body", http.MethodPost, "{}", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				n       int
				readErr error
			)
			h := MaxBody(tt.limit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, err := io.ReadAll(r.Body)
				n, readErr = len(b), err
			}))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, "/api/v1/events/save", strings.NewReader(tt.body)))

			if tt.wantErr {
				var mbe *http.MaxBytesError
				if !errors.As(readErr, &mbe) {
					t.Fatalf("err = %v, want *http.MaxBytesError", readErr)
				}
				if mbe.Limit != tt.limit {
					t.Errorf("Limit = %d, want %d", mbe.Limit, tt.limit)
				}
			} else if readErr != nil {
				t.Fatalf("unexpected read error: %v", readErr)
			}
			if n != tt.wantRead {
				t.Errorf("read %d bytes, want %d", n, tt.wantRead)
			}
		})
	}
}

func TestMaxBody_BehindOtherMiddleware(t *testing.T) {
	var readErr error
	h := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, readErr = io.ReadAll(r.Body)
		}),
		RequestID("X-Request-Id"),
		MaxBody(8),
	)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"post_id":123456}`)))

	var mbe *http.MaxBytesError
	if !errors.As(readErr, &mbe) {
		t.Fatalf("err = %v, want *http.MaxBytesError", readErr)
	}
}
