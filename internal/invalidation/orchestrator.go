// Package invalidation turns a content update event into at most one CDN
// invalidation request.
package invalidation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/callerref"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/cdn"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/content"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/eventgate"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/log"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/pathtmpl"
)

// PathLookup returns the path templates for an item after hooks ran.
type PathLookup interface {
	PathsFor(contentType string, item content.Item) []string
}

// Dispatcher submits a resolved invalidation request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req cdn.Request) cdn.Outcome
}

// SettingsState reports why no settings document is active, or nil.
type SettingsState interface {
	ReadyErr() error
}

// Metrics is implemented by the metrics package.
type Metrics interface {
	IncEvent(source, decision, reason string)
}

// Options configures an Orchestrator.
type Options struct {
	Paths      PathLookup
	Dispatcher Dispatcher
	Logger     log.Logger
	Metrics    Metrics

	// Settings, when set, separates "settings not loaded" from "no paths
	// configured" for events that resolve to no templates.
	Settings SettingsState

	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator is stateless between calls and safe for concurrent use.
type Orchestrator struct {
	paths      PathLookup
	dispatcher Dispatcher
	settings   SettingsState
	logger     log.Logger
	metrics    Metrics
	now        func() time.Time
	tracer     trace.Tracer
}

func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		paths:      opts.Paths,
		dispatcher: opts.Dispatcher,
		settings:   opts.Settings,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
		tracer:     otel.Tracer("linnemanlabs/invalidation"),
	}
}

// Result reports what Handle did. It carries no error; failures were
// logged where they happened.
type Result struct {
	Decision        eventgate.Decision
	Paths           []string
	CallerReference string

	// Outcome is the zero value when the gate rejected the event.
	Outcome cdn.Outcome
}

// Dispatched reports whether a request reached the dispatcher.
func (r Result) Dispatched() bool {
	switch r.Outcome.Kind {
	case "", cdn.KindEmptyRequest, cdn.KindSettingsUnavailable:
		return false
	}
	return true
}

// Handle runs one event through the pipeline: gate, template lookup,
// placeholder resolution, caller reference, dispatch.
func (o *Orchestrator) Handle(ctx context.Context, ev content.Event) Result {
	ctx, span := o.tracer.Start(ctx, "invalidation.handle",
		trace.WithAttributes(
			attribute.String("content.id", ev.Item.ID.String()),
			attribute.String("content.type", ev.Item.Type),
			attribute.String("event.source", string(ev.Source)),
		),
	)
	defer span.End()

	lg := o.logger.With(
		"content_id", ev.Item.ID.String(),
		"content_type", ev.Item.Type,
		"source", string(ev.Source),
	)
	if ev.RequestID != "" {
		lg = lg.With("cms_request_id", ev.RequestID)
	}

	dec := eventgate.Evaluate(ev)
	res := Result{Decision: dec}
	span.SetAttributes(
		attribute.Bool("gate.process", dec.Process),
		attribute.String("gate.reason", string(dec.Reason)),
	)
	o.countEvent(ev, dec)

	if !dec.Process {
		lg.Debug(ctx, "event skipped", "reason", string(dec.Reason))
		return res
	}

	var tpls []string
	if o.paths != nil {
		tpls = o.paths.PathsFor(ev.Item.Type, ev.Item)
	}
	if len(tpls) == 0 {
		if o.settings != nil {
			if err := o.settings.ReadyErr(); err != nil {
				lg.Warn(ctx, "event dropped, settings not loaded", "error", err)
				span.SetAttributes(attribute.String("cdn.outcome", string(cdn.KindSettingsUnavailable)))
				res.Outcome = cdn.Outcome{Kind: cdn.KindSettingsUnavailable, Err: err}
				return res
			}
		}
		lg.Debug(ctx, "no invalidation paths configured")
		res.Outcome = cdn.Outcome{Kind: cdn.KindEmptyRequest}
		return res
	}

	res.Paths = pathtmpl.ResolveAll(tpls, ev.Item)
	if len(res.Paths) == 0 {
		lg.Debug(ctx, "all invalidation paths resolved blank")
		res.Outcome = cdn.Outcome{Kind: cdn.KindEmptyRequest}
		return res
	}
	res.CallerReference = callerref.TokenFor(ev.Item.ID, o.now())
	span.SetAttributes(attribute.String("cdn.caller_reference", res.CallerReference))

	res.Outcome = o.dispatcher.Dispatch(ctx, cdn.Request{
		Paths:           res.Paths,
		CallerReference: res.CallerReference,
	})
	lg.Debug(ctx, "event handled",
		"paths", res.Paths,
		"caller_reference", res.CallerReference,
		"outcome", res.Outcome.String(),
	)
	return res
}

func (o *Orchestrator) countEvent(ev content.Event, dec eventgate.Decision) {
	if o.metrics == nil {
		return
	}
	decision := "skip"
	if dec.Process {
		decision = "process"
	}
	o.metrics.IncEvent(string(ev.Source), decision, string(dec.Reason))
}
