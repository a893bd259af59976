package webhookhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/cdn"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/content"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/invalidation"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/settings"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/webhookauth"
)

// test stubs

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []cdn.Request
}

func (r *recordingInvalidator) Invalidate(_ context.Context, _ string, paths []string, ref string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cdn.Request{Paths: paths, CallerReference: ref})
	return "INV1", nil
}

type captureHandler struct {
	events []content.Event
	ctxErr error
}

func (c *captureHandler) Handle(ctx context.Context, ev content.Event) invalidation.Result {
	c.events = append(c.events, ev)
	c.ctxErr = ctx.Err()
	return invalidation.Result{}
}

type fixture struct {
	router http.Handler
	inv    *recordingInvalidator
	mgr    *settings.Manager
}

func newFixture(t *testing.T, verifier webhookauth.Verifier) *fixture {
	t.Helper()
	return newThrottledFixture(t, verifier, nil)
}

// newThrottledFixture resolves the client ip from RemoteAddr the way the
// webhook listener does, so throttle is keyed per caller.
func newThrottledFixture(t *testing.T, verifier webhookauth.Verifier, throttle Throttle) *fixture {
	t.Helper()
	mgr := settings.NewManager()
	mgr.Set(settings.Snapshot{
		Settings: settings.Settings{Paths: map[string][]string{
			"post": {"/blog/%slug%"},
			"news": {"/news/%id%"},
			"page": {"/%slug%/"},
		}},
		Hash:     "abc123",
		Source:   "file:///etc/cdninv/settings.yaml",
		LoadedAt: time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC),
	})
	lookup := settings.NewLookup(mgr, nil, nil)
	inv := &recordingInvalidator{}
	orch := invalidation.New(invalidation.Options{
		Paths:      lookup,
		Dispatcher: cdn.NewDispatcher(cdn.Config{DistributionID: "E123"}, inv, nil, nil),
	})

	api := NewAPI(Options{
		Events:   orch,
		Registry: lookup,
		Settings: mgr,
		Verifier: verifier,
		Throttle: throttle,
	})
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return &fixture{router: httpmw.ClientIP(r), inv: inv, mgr: mgr}
}

func (f *fixture) post(t *testing.T, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeEvent(t *testing.T, rec *httptest.ResponseRecorder) EventResponse {
	t.Helper()
	var resp EventResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return resp
}

const publishedPost = `{"post":{"id":7,"slug":"launch","type":"post","status":"publish"},"context":{},"request_id":"cms-1"}`

// save endpoint

func TestHandleSave_Published(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(t, "/api/v1/events/save", publishedPost, nil)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", rec.Code, rec.Body.String())
	}
	resp := decodeEvent(t, rec)
	if resp.Decision != "process" || resp.Reason != "published" || resp.Outcome != "ok" {
		t.Fatalf("resp = %+v", resp)
	}
	if !reflect.DeepEqual(resp.Paths, []string{"/blog/launch"}) {
		t.Fatalf("paths = %v", resp.Paths)
	}
	if !strings.HasPrefix(resp.CallerReference, "7-") || resp.InvalidationID != "INV1" {
		t.Fatalf("resp = %+v", resp)
	}
	if len(f.inv.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(f.inv.calls))
	}
}

func TestHandleSave_SkipsIncompleteREST(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"post":{"id":"7","slug":"launch","type":"post","status":"publish"},"context":{"rest_request":true}}`
	rec := f.post(t, "/api/v1/events/save", body, nil)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeEvent(t, rec)
	if resp.Decision != "skip" || resp.Reason != "rest_incomplete" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Paths == nil || len(resp.Paths) != 0 {
		t.Fatalf("paths = %#v, want empty slice", resp.Paths)
	}
	if len(f.inv.calls) != 0 {
		t.Fatal("invalidation sent for incomplete REST save")
	}
}

func TestHandleSave_Draft(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(t, "/api/v1/events/save", `{"post":{"id":7,"type":"post","status":"draft"}}`, nil)
	resp := decodeEvent(t, rec)
	if rec.Code != http.StatusAccepted || resp.Reason != "unpublished" {
		t.Fatalf("status = %d resp = %+v", rec.Code, resp)
	}
}

func TestHandleSave_AutosaveSource(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"post":{"id":7,"type":"post","status":"publish"},"source":"autosave"}`
	resp := decodeEvent(t, f.post(t, "/api/v1/events/save", body, nil))
	if resp.Reason != "autosave" {
		t.Fatalf("reason = %q, want autosave", resp.Reason)
	}
}

func TestHandleSave_NormalizesStatusAndSource(t *testing.T) {
	f := newFixture(t, nil)

	resp := decodeEvent(t, f.post(t, "/api/v1/events/save", `{"post":{"id":7,"type":"post","status":" Draft"}}`, nil))
	if resp.Reason != "unpublished" {
		t.Fatalf("reason = %q, want unpublished", resp.Reason)
	}
	resp = decodeEvent(t, f.post(t, "/api/v1/events/save", `{"post":{"id":7,"type":"post","status":"PUBLISH"},"source":" Autosave"}`, nil))
	if resp.Reason != "autosave" {
		t.Fatalf("reason = %q, want autosave", resp.Reason)
	}
	resp = decodeEvent(t, f.post(t, "/api/v1/events/save", `{"post":{"id":7,"slug":"launch","type":"post","status":"Publish"}}`, nil))
	if resp.Decision != "process" || resp.Outcome != "ok" {
		t.Fatalf("resp = %+v", resp)
	}
	if len(f.inv.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(f.inv.calls))
	}
}

func TestHandleSave_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{nope`},
		{"fractional id", `{"post":{"id":7.5,"type":"post","status":"publish"}}`},
		{"missing id", `{"post":{"type":"post","status":"publish"}}`},
		{"missing status", `{"post":{"id":7,"type":"post"}}`},
		{"blank status", `{"post":{"id":7,"type":"post","status":"  "}}`},
		{"missing type", `{"post":{"id":7,"status":"publish"}}`},
		{"rest source", `{"post":{"id":7,"type":"post","status":"publish"},"source":"rest-insert"}`},
		{"unknown source", `{"post":{"id":7,"type":"post","status":"publish"},"source":"cron"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			rec := f.post(t, "/api/v1/events/save", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
			if len(f.inv.calls) != 0 {
				t.Fatal("invalidation sent for bad request")
			}
		})
	}
}

func TestHandleSave_TooLarge(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"post":{"id":7,"type":"post","status":"publish","slug":"` + strings.Repeat("x", DefaultMaxBodyBytes) + `"}}`
	rec := f.post(t, "/api/v1/events/save", body, nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestHandleSave_DetachesClientCancellation(t *testing.T) {
	h := &captureHandler{}
	api := NewAPI(Options{Events: h})
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/save", strings.NewReader(publishedPost)).WithContext(ctx)
	r.ServeHTTP(httptest.NewRecorder(), req)

	if len(h.events) != 1 {
		t.Fatalf("events = %d, want 1", len(h.events))
	}
	if h.ctxErr != nil {
		t.Fatalf("handler saw cancelled context: %v", h.ctxErr)
	}
	if h.events[0].Source != content.SourceStandardSave || h.events[0].RequestID != "cms-1" {
		t.Fatalf("event = %+v", h.events[0])
	}
}

// rest-after-insert endpoint

func TestHandleRESTInsert_Registered(t *testing.T) {
	f := newFixture(t, nil)
	body := `{"post":{"id":12,"slug":"breaking","status":"publish"},"context":{"rest_request":true}}`
	rec := f.post(t, "/api/v1/events/rest-after-insert/news", body, nil)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	resp := decodeEvent(t, rec)
	if resp.Decision != "process" || !reflect.DeepEqual(resp.Paths, []string{"/news/12"}) {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestHandleRESTInsert_PostAlwaysRegistered(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(t, "/api/v1/events/rest-after-insert/post", publishedPost, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleRESTInsert_Unregistered(t *testing.T) {
	for _, ct := range []string{"page", "attachment", "product"} {
		t.Run(ct, func(t *testing.T) {
			f := newFixture(t, nil)
			body := `{"post":{"id":1,"status":"publish"}}`
			rec := f.post(t, "/api/v1/events/rest-after-insert/"+ct, body, nil)
			if rec.Code != http.StatusNotFound {
				t.Fatalf("status = %d, want 404", rec.Code)
			}
		})
	}
}

func TestHandleRESTInsert_TypeMismatch(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(t, "/api/v1/events/rest-after-insert/news", publishedPost, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// authentication

func TestEvents_RequireSignature(t *testing.T) {
	f := newFixture(t, webhookauth.NewHMACVerifier("s3cret"))

	rec := f.post(t, "/api/v1/events/save", publishedPost, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned status = %d, want 401", rec.Code)
	}

	sig := webhookauth.Sign([]byte("s3cret"), []byte(publishedPost))
	rec = f.post(t, "/api/v1/events/save", publishedPost, map[string]string{webhookauth.HeaderSignature: sig})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("signed status = %d, want 202", rec.Code)
	}
}

func newLimiter(t *testing.T, perSecond float64, burst int) *ratelimit.IPLimiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ratelimit.New(ctx, ratelimit.WithRate(perSecond, burst))
}

func TestEvents_BulkSignedSavesNotThrottled(t *testing.T) {
	f := newThrottledFixture(t, webhookauth.NewHMACVerifier("s3cret"), newLimiter(t, 5, 20))
	sig := map[string]string{webhookauth.HeaderSignature: webhookauth.Sign([]byte("s3cret"), []byte(publishedPost))}

	for i := range 40 {
		if rec := f.post(t, "/api/v1/events/save", publishedPost, sig); rec.Code != http.StatusAccepted {
			t.Fatalf("signed save %d: status = %d, want 202", i, rec.Code)
		}
	}
	if len(f.inv.calls) != 40 {
		t.Fatalf("calls = %d, want 40", len(f.inv.calls))
	}

	// failed signatures from the same caller spend the burst
	var unauthorized, limited int
	for range 30 {
		switch rec := f.post(t, "/api/v1/events/save", publishedPost, nil); rec.Code {
		case http.StatusUnauthorized:
			unauthorized++
		case http.StatusTooManyRequests:
			limited++
		default:
			t.Fatalf("unsigned status = %d", rec.Code)
		}
	}
	if unauthorized < 20 || limited == 0 {
		t.Fatalf("unauthorized = %d limited = %d, want burst of 401 then 429", unauthorized, limited)
	}

	// a throttled caller is still served once it signs
	if rec := f.post(t, "/api/v1/events/save", publishedPost, sig); rec.Code != http.StatusAccepted {
		t.Fatalf("signed save after throttling: status = %d, want 202", rec.Code)
	}
}

func TestEvents_ThrottledWithoutVerifier(t *testing.T) {
	f := newThrottledFixture(t, nil, newLimiter(t, 0.001, 3))

	for i := range 3 {
		if rec := f.post(t, "/api/v1/events/save", publishedPost, nil); rec.Code != http.StatusAccepted {
			t.Fatalf("save %d: status = %d, want 202", i, rec.Code)
		}
	}
	rec := f.post(t, "/api/v1/events/save", publishedPost, nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("status = %d retry-after = %q, want 429", rec.Code, rec.Header().Get("Retry-After"))
	}
	if len(f.inv.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(f.inv.calls))
	}
}

func TestHandleSettings_Throttled(t *testing.T) {
	f := newThrottledFixture(t, webhookauth.NewHMACVerifier("s3cret"), newLimiter(t, 0.001, 1))
	get := func() int {
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/settings", http.NoBody))
		return rec.Code
	}
	if code := get(); code != http.StatusOK {
		t.Fatalf("first status = %d", code)
	}
	if code := get(); code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", code)
	}
}

// settings endpoint

func TestHandleSettings(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/settings", http.NoBody)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp SettingsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Hash != "abc123" || resp.Source == "" || resp.LoadedAt == nil {
		t.Fatalf("resp = %+v", resp)
	}
	if !reflect.DeepEqual(resp.Paths["post"], []string{"/blog/%slug%"}) {
		t.Fatalf("paths = %v", resp.Paths)
	}
	if !reflect.DeepEqual(resp.RESTTypes, []string{"news", "post"}) {
		t.Fatalf("rest types = %v", resp.RESTTypes)
	}
}

func TestHandleSettings_NotLoaded(t *testing.T) {
	api := NewAPI(Options{Settings: settings.NewManager()})
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/settings", http.NoBody))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("Content-Type = %q", ct)
	}
}
