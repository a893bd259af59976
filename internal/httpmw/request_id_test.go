package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc")
	if got := RequestIDFromContext(ctx); got != "abc" {
		t.Fatalf("RequestIDFromContext = %q, want abc", got)
	}
	if got := RequestIDFromContext(WithRequestID(context.Background(), "")); got != "" {
		t.Fatalf("empty id stored: %q", got)
	}
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		inbound  string
		wantSame bool
	}{
		{"generates when missing", "", "", false},
		{"propagates inbound", "", "req-123", true},
		{"custom header", "X-Correlation-Id", "corr-9", true},
		{"rejects control characters", "", "bad\nid", false},
		{"rejects spaces", "", "two words", false},
		{"rejects oversize", "", strings.Repeat("a", maxRequestIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hdr := tt.header
			if hdr == "" {
				hdr = DefaultRequestIDHeader
			}
			var seen string
			h := RequestID(tt.header)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
			if tt.inbound != "" {
				req.Header.Set(hdr, tt.inbound)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Header().Get(hdr) != seen {
				t.Fatalf("response header %q != context id %q", rec.Header().Get(hdr), seen)
			}
			if tt.wantSame {
				if seen != tt.inbound {
					t.Fatalf("id = %q, want %q", seen, tt.inbound)
				}
				return
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Fatalf("generated id %q is not a uuid: %v", seen, err)
			}
		})
	}
}

func TestRequestID_UniquePerRequest(t *testing.T) {
	seen := map[string]bool{}
	h := RequestID("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen[RequestIDFromContext(r.Context())] = true
	}))
	for i := 0; i < 50; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	}
	if len(seen) != 50 {
		t.Fatalf("unique ids = %d, want 50", len(seen))
	}
}
