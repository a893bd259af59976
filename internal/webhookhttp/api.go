// Package webhookhttp exposes the CMS webhook endpoints that feed update
// events into the invalidation pipeline.
package webhookhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/content"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/invalidation"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/log"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/settings"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/webhookauth"
)

// DefaultMaxBodyBytes caps a webhook body.
const DefaultMaxBodyBytes = 64 << 10

// EventHandler runs one event through the invalidation pipeline.
type EventHandler interface {
	Handle(ctx context.Context, ev content.Event) invalidation.Result
}

// Registry answers which content types accept REST completion events.
type Registry interface {
	RESTRegistered(contentType string) bool
	RESTTypes() []string
}

// SnapshotProvider returns the active settings snapshot.
type SnapshotProvider interface {
	Get() (*settings.Snapshot, bool)
}

// Throttle is per-client rate limiting, implemented by
// *ratelimit.IPLimiter.
type Throttle interface {
	webhookauth.Throttle
	Middleware(next http.Handler) http.Handler
}

// Options configures the webhook API.
type Options struct {
	Events   EventHandler
	Registry Registry
	Settings SnapshotProvider
	Logger   log.Logger

	// Verifier authenticates event posts. nil disables authentication.
	Verifier    webhookauth.Verifier
	AuthMetrics webhookauth.Metrics

	// Throttle, when set, limits unauthenticated traffic: failed signature
	// checks, the settings view, and every event post when Verifier is nil.
	// Verified events are never limited so a bulk publish is not dropped.
	Throttle Throttle

	MaxBodyBytes int64
}

// API implements the webhook endpoints.
type API struct {
	events      EventHandler
	registry    Registry
	settings    SnapshotProvider
	logger      log.Logger
	verifier    webhookauth.Verifier
	authMetrics webhookauth.Metrics
	throttle    Throttle
	maxBody     int64
}

// NewAPI creates a webhook API handler.
func NewAPI(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &API{
		events:      opts.Events,
		registry:    opts.Registry,
		settings:    opts.Settings,
		logger:      opts.Logger,
		verifier:    opts.Verifier,
		authMetrics: opts.AuthMetrics,
		throttle:    opts.Throttle,
		maxBody:     opts.MaxBodyBytes,
	}
}

// RegisterRoutes attaches the webhook endpoints to the router.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			var authThrottle webhookauth.Throttle
			if api.throttle != nil {
				if api.verifier == nil {
					r.Use(api.throttle.Middleware)
				} else {
					authThrottle = api.throttle
				}
			}
			r.Use(webhookauth.Middleware(api.verifier, api.maxBody, api.authMetrics, authThrottle))
			r.With(httpmw.Scope("events.save")).Post("/events/save", api.HandleSave)
			r.With(httpmw.Scope("events.rest_after_insert")).Post("/events/rest-after-insert/{contentType}", api.HandleRESTInsert)
		})
		r.Group(func(r chi.Router) {
			if api.throttle != nil {
				r.Use(api.throttle.Middleware)
			}
			r.With(httpmw.Scope("settings")).Get("/settings", api.HandleSettings)
		})
	})
}

// HandleSave accepts the standard save notification. The payload may name
// an autosave or revision source; REST completions use their own endpoint.
func (api *API) HandleSave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, ok := api.decode(w, r)
	if !ok {
		return
	}
	if p.Post.Type == "" {
		api.writeError(ctx, w, http.StatusBadRequest, "post.type is required")
		return
	}

	src := p.Source
	switch {
	case src == "":
		src = content.SourceStandardSave
	case !src.Valid():
		api.writeError(ctx, w, http.StatusBadRequest, "unknown event source")
		return
	case src == content.SourceRESTInsert:
		api.writeError(ctx, w, http.StatusBadRequest, "rest-insert events must use the rest-after-insert endpoint")
		return
	}

	api.handle(w, r, content.Event{
		Item:          p.Post,
		Source:        src,
		DoingAutosave: p.Context.DoingAutosave,
		InRESTRequest: p.Context.RESTRequest,
		RESTCompleted: p.Context.RESTCompleted,
		RequestID:     p.RequestID,
	})
}

// HandleRESTInsert accepts the REST after-insert notification for one
// registered content type.
func (api *API) HandleRESTInsert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contentType := chi.URLParam(r, "contentType")

	if api.registry == nil || !api.registry.RESTRegistered(contentType) {
		api.writeError(ctx, w, http.StatusNotFound, "content type is not registered for REST completion")
		return
	}

	p, ok := api.decode(w, r)
	if !ok {
		return
	}
	if p.Post.Type == "" {
		p.Post.Type = contentType
	}
	if p.Post.Type != contentType {
		api.writeError(ctx, w, http.StatusBadRequest, "post.type does not match the route content type")
		return
	}

	api.handle(w, r, content.Event{
		Item:          p.Post,
		Source:        content.SourceRESTInsert,
		DoingAutosave: p.Context.DoingAutosave,
		InRESTRequest: true,
		RESTCompleted: true,
		RequestID:     p.RequestID,
	})
}

func (api *API) handle(w http.ResponseWriter, r *http.Request, ev content.Event) {
	ctx := r.Context()

	// a CMS that hangs up must not abort an invalidation already in flight
	res := api.events.Handle(context.WithoutCancel(ctx), ev)

	resp := EventResponse{
		Decision:        "skip",
		Reason:          string(res.Decision.Reason),
		Paths:           res.Paths,
		CallerReference: res.CallerReference,
		Outcome:         string(res.Outcome.Kind),
		InvalidationID:  res.Outcome.InvalidationID,
		RequestID:       httpmw.RequestIDFromContext(ctx),
	}
	if res.Decision.Process {
		resp.Decision = "process"
	}
	if resp.Paths == nil {
		resp.Paths = []string{}
	}

	api.writeJSON(ctx, w, http.StatusAccepted, resp)
}

// decode reads and validates the event body, writing the error response
// itself when it returns false.
func (api *API) decode(w http.ResponseWriter, r *http.Request) (eventPayload, bool) {
	ctx := r.Context()
	var p eventPayload

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, api.maxBody))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			api.writeError(ctx, w, http.StatusRequestEntityTooLarge, "request body too large")
			return p, false
		}
		api.writeError(ctx, w, http.StatusBadRequest, "unreadable request body")
		return p, false
	}

	if err := json.Unmarshal(body, &p); err != nil {
		log.FromContext(ctx).Debug(ctx, "malformed webhook body", "error", err.Error())
		api.writeError(ctx, w, http.StatusBadRequest, "malformed JSON body")
		return p, false
	}

	p.Post.Type = strings.TrimSpace(p.Post.Type)
	p.Post.Slug = strings.TrimSpace(p.Post.Slug)
	p.Post.Status = p.Post.Status.Normalize()
	p.Source = content.Source(strings.ToLower(strings.TrimSpace(string(p.Source))))
	switch {
	case p.Post.ID == "":
		api.writeError(ctx, w, http.StatusBadRequest, "post.id is required")
		return p, false
	case p.Post.Status == "":
		api.writeError(ctx, w, http.StatusBadRequest, "post.status is required")
		return p, false
	}
	return p, true
}

// HandleSettings serves the active settings.
func (api *API) HandleSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var restTypes []string
	if api.registry != nil {
		restTypes = api.registry.RESTTypes()
	}

	var snap *settings.Snapshot
	ok := false
	if api.settings != nil {
		snap, ok = api.settings.Get()
	}
	if !ok {
		api.writeJSON(ctx, w, http.StatusServiceUnavailable, SettingsResponse{
			Paths:     map[string][]string{},
			RESTTypes: restTypes,
			Error:     "settings not loaded",
		})
		return
	}

	paths := make(map[string][]string, len(snap.Settings.Paths))
	for _, ct := range snap.Settings.ContentTypes() {
		paths[ct] = snap.Settings.For(ct)
	}
	loaded := snap.LoadedAt.UTC().Truncate(time.Second)

	api.writeJSON(ctx, w, http.StatusOK, SettingsResponse{
		Source:    snap.Source,
		Hash:      snap.Hash,
		LoadedAt:  &loaded,
		Paths:     paths,
		RESTTypes: restTypes,
		Warnings:  snap.Warnings,
	})
}

func (api *API) writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	api.writeJSON(ctx, w, status, errorResponse{
		Error:     msg,
		RequestID: httpmw.RequestIDFromContext(ctx),
	})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
