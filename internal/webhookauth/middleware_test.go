package webhookauth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/httpmw"
)

type authMetrics struct {
	reasons []string
}

func (m *authMetrics) IncWebhookAuthFailure(reason string) { m.reasons = append(m.reasons, reason) }

func echoBody() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_, _ = w.Write(b)
	})
}

func TestMiddleware_Valid(t *testing.T) {
	body := `{"post":{"id":7}}`
	h := Middleware(NewHMACVerifier("k"), 1024, nil, nil)(echoBody())

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(HeaderSignature, Sign([]byte("k"), []byte(body)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != body {
		t.Fatalf("body not restored for next handler: %q", rec.Body.String())
	}
}

func TestMiddleware_Rejects(t *testing.T) {
	body := `{"post":{"id":7}}`
	tests := []struct {
		name   string
		header string
		reason string
	}{
		{"missing", "", "missing"},
		{"malformed", "md5=abc", "malformed"},
		{"wrong key", Sign([]byte("other"), []byte(body)), "mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &authMetrics{}
			called := false
			h := Middleware(NewHMACVerifier("k"), 1024, m, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
			if tt.header != "" {
				req.Header.Set(HeaderSignature, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if called {
				t.Fatal("next handler called on auth failure")
			}
			if len(m.reasons) != 1 || m.reasons[0] != tt.reason {
				t.Fatalf("reasons = %v, want [%s]", m.reasons, tt.reason)
			}
		})
	}
}

func TestMiddleware_TooLarge(t *testing.T) {
	h := Middleware(NewHMACVerifier("k"), 8, nil, nil)(echoBody())
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestMiddleware_NilVerifierPassesThrough(t *testing.T) {
	h := Middleware(nil, 8, nil, nil)(echoBody())
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "hello" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
}

// budgetThrottle allows a fixed number of charges per ip.
type budgetThrottle struct {
	budget int
	spent  map[string]int
}

func (b *budgetThrottle) Blocked(ip string) bool {
	return b.spent[ip] >= b.budget
}

func (b *budgetThrottle) Allow(ip string) bool {
	if b.spent == nil {
		b.spent = map[string]int{}
	}
	b.spent[ip]++
	return b.spent[ip] <= b.budget
}

func TestMiddleware_Throttle(t *testing.T) {
	body := `{"post":{"id":7,"type":"post","status":"publish"}}`
	signed := Sign([]byte("k"), []byte(body))
	thr := &budgetThrottle{budget: 3}
	m := &authMetrics{}
	h := httpmw.ClientIP(Middleware(NewHMACVerifier("k"), 1024, m, thr)(echoBody()))

	send := func(sig string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/events/save", strings.NewReader(body))
		req.RemoteAddr = "10.0.0.5:41000"
		if sig != "" {
			req.Header.Set(HeaderSignature, sig)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := range 50 {
		if code := send(signed); code != http.StatusOK {
			t.Fatalf("signed request %d: status = %d, want 200", i, code)
		}
	}
	if thr.spent["10.0.0.5"] != 0 {
		t.Fatalf("verified requests spent %d units, want 0", thr.spent["10.0.0.5"])
	}

	var codes []int
	for range 5 {
		codes = append(codes, send(""))
	}
	want := []int{401, 401, 401, 429, 429}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("unsigned codes = %v, want %v", codes, want)
		}
	}
	if thr.spent["10.0.0.5"] != 3 {
		t.Fatalf("spent = %d, want 3", thr.spent["10.0.0.5"])
	}
	if got := m.reasons[len(m.reasons)-1]; got != "throttled" {
		t.Fatalf("last failure reason = %q, want throttled", got)
	}
}
