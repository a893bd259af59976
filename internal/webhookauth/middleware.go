package webhookauth

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/log"
)

// Metrics is implemented by the metrics package.
type Metrics interface {
	IncWebhookAuthFailure(reason string)
}

// Throttle limits callers that fail authentication. It is implemented by
// *ratelimit.IPLimiter.
type Throttle interface {
	// Blocked reports whether ip is out of budget without spending any.
	Blocked(ip string) bool
	// Allow spends one unit of ip's budget.
	Allow(ip string) bool
}

// Middleware reads the body (at most maxBytes), verifies its signature and
// restores the body for the next handler. A nil Verifier lets every
// request through.
//
// With a Throttle, verified requests are never charged. A failed
// verification spends one unit for the client IP, and a client out of
// budget gets 429 before its signature is checked.
func Middleware(v Verifier, maxBytes int64, m Metrics, t Throttle) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if v == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			L := log.FromContext(ctx)
			ip := httpmw.ClientIPFromContext(ctx)

			if t != nil && t.Blocked(ip) {
				if m != nil {
					m.IncWebhookAuthFailure("throttled")
				}
				w.Header().Set("Retry-After", "30")
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
			if err != nil {
				var mbe *http.MaxBytesError
				if errors.As(err, &mbe) {
					writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				writeError(w, http.StatusBadRequest, "unreadable request body")
				return
			}

			mac, err := ParseHeader(r.Header.Get(HeaderSignature))
			if err == nil {
				err = v.Verify(ctx, body, mac)
			}
			if err != nil {
				reason := failureReason(err)
				if m != nil {
					m.IncWebhookAuthFailure(reason)
				}
				if t != nil {
					t.Allow(ip)
				}
				L.Warn(ctx, "webhook authentication failed", "reason", reason, "error", err.Error())
				writeError(w, http.StatusUnauthorized, "invalid signature")
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			next.ServeHTTP(w, r)
		})
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingSignature):
		return "missing"
	case errors.Is(err, ErrMalformedSignature):
		return "malformed"
	case errors.Is(err, ErrSignatureMismatch):
		return "mismatch"
	}
	return "verifier_error"
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}` + "\n"))
}
