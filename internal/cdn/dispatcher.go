package cdn

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/log"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/xerrors"
)

const (
	// DefaultTimeout bounds a single CreateInvalidation call.
	DefaultTimeout = 5 * time.Second

	notDefined = "not defined"
)

// Config is read once at startup.
type Config struct {
	DryRun         bool
	DistributionID string
	Timeout        time.Duration
}

// Request is one invalidation batch.
type Request struct {
	Paths           []string
	CallerReference string
}

// Invalidator submits an invalidation batch and returns the provider's
// invalidation id.
type Invalidator interface {
	Invalidate(ctx context.Context, distributionID string, paths []string, callerRef string) (string, error)
}

// Metrics is implemented by the metrics package.
type Metrics interface {
	IncInvalidation(outcome string)
	ObserveDispatchDuration(seconds float64)
	ObserveInvalidationPaths(n int)
}

// Dispatcher sends requests to an Invalidator, honouring dry-run mode.
type Dispatcher struct {
	cfg     Config
	inv     Invalidator
	logger  log.Logger
	metrics Metrics
	tracer  trace.Tracer
}

// NewDispatcher builds a Dispatcher. inv may be nil in dry-run mode.
func NewDispatcher(cfg Config, inv Invalidator, logger log.Logger, m Metrics) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.DistributionID = strings.TrimSpace(cfg.DistributionID)
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{
		cfg:     cfg,
		inv:     inv,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("linnemanlabs/cdn"),
	}
}

// Dispatch submits req. It never returns an error; the Outcome describes
// what happened and failures are already logged.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Outcome {
	ctx, span := d.tracer.Start(ctx, "cdn.dispatch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("cdn.paths", len(req.Paths)),
			attribute.String("cdn.caller_reference", req.CallerReference),
			attribute.Bool("cdn.dry_run", d.cfg.DryRun),
		),
	)
	defer span.End()

	start := time.Now()
	out := d.dispatch(ctx, req)

	span.SetAttributes(attribute.String("cdn.outcome", string(out.Kind)))
	if out.InvalidationID != "" {
		span.SetAttributes(attribute.String("cdn.invalidation_id", out.InvalidationID))
	}
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.String())
	}

	if d.metrics != nil {
		d.metrics.IncInvalidation(string(out.Kind))
		if out.Kind == KindOK || out.Kind == KindProviderError || out.Kind == KindTransportError {
			d.metrics.ObserveDispatchDuration(time.Since(start).Seconds())
			d.metrics.ObserveInvalidationPaths(len(req.Paths))
		}
	}
	return out
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) Outcome {
	if len(req.Paths) == 0 {
		d.logger.Debug(ctx, "cloudfront invalidation skipped, no paths",
			"caller_reference", req.CallerReference,
		)
		return Outcome{Kind: KindEmptyRequest}
	}

	if d.cfg.DryRun {
		dist := d.cfg.DistributionID
		if dist == "" {
			dist = notDefined
		}
		d.logger.Info(ctx, "cloudfront invalidation dry run",
			"distribution_id", dist,
			"paths", req.Paths,
			"caller_reference", req.CallerReference,
		)
		return Outcome{Kind: KindDryRun}
	}

	if d.cfg.DistributionID == "" {
		err := xerrors.New("distribution id not defined")
		d.logger.Error(ctx, err, "distribution id not defined",
			"paths", req.Paths,
			"caller_reference", req.CallerReference,
		)
		return Outcome{Kind: KindConfigError, Code: "distribution_id", Err: err}
	}
	if d.inv == nil {
		err := xerrors.New("cloudfront client not configured")
		d.logger.Error(ctx, err, "cloudfront client not configured")
		return Outcome{Kind: KindConfigError, Code: "client", Err: err}
	}

	cctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	id, err := d.invoke(cctx, req)
	if err != nil {
		kind, code := classify(err)
		d.logger.Error(ctx, err, "cloudfront invalidation failed",
			"distribution_id", d.cfg.DistributionID,
			"paths", req.Paths,
			"caller_reference", req.CallerReference,
			"outcome", string(kind),
			"code", code,
		)
		return Outcome{Kind: kind, Code: code, Err: err}
	}

	d.logger.Info(ctx, "cloudfront invalidation created",
		"distribution_id", d.cfg.DistributionID,
		"invalidation_id", id,
		"paths", len(req.Paths),
		"caller_reference", req.CallerReference,
	)
	return Outcome{Kind: KindOK, InvalidationID: id}
}

// invoke calls the Invalidator, turning a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, req Request) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.WithStack(&panicError{value: r})
		}
	}()
	return d.inv.Invalidate(ctx, d.cfg.DistributionID, req.Paths, req.CallerReference)
}

type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("invalidator panic: %v", e.value) }
