// Package otelx installs the global OpenTelemetry tracer provider and
// propagator. When tracing is disabled an SDK provider with no exporter
// is still installed so otelhttp and manual spans keep working and the
// trace ids they mint still reach log lines and response headers.
package otelx

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/version"
	"github.com/keithlinneman/linnemanlabs-cdninv/internal/xerrors"
)

// dialTimeout bounds exporter construction; the collector is expected to
// be local.
const dialTimeout = 3 * time.Second

type Options struct {
	Enabled   bool
	Endpoint  string
	Insecure  bool
	Sample    float64
	Service   string
	Component string
	Version   string
	// Attributes are added to the resource, e.g. the distribution id.
	Attributes map[string]string
}

// ServiceName joins service and component the way spans are labelled in
// the backend ("cdninv.server"). An empty service falls back to the app
// name.
func (o Options) ServiceName() string {
	svc := o.Service
	if svc == "" {
		svc = version.AppName
	}
	if o.Component == "" {
		return svc
	}
	return svc + "." + o.Component
}

func (o Options) userAgent() string {
	ver := o.Version
	if ver == "" {
		ver = "dev"
	}
	return o.ServiceName() + "/" + ver
}

func (o Options) resourceAttrs() []attribute.KeyValue {
	kv := []attribute.KeyValue{
		semconv.ServiceNameKey.String(o.ServiceName()),
		semconv.ServiceVersionKey.String(o.Version),
	}
	keys := make([]string, 0, len(o.Attributes))
	for k := range o.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kv = append(kv, attribute.String(k, o.Attributes[k]))
	}
	return kv
}

func setPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
}

// Init installs the providers and returns their shutdown func.
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	setPropagator()

	if !o.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(o.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(o.userAgent())),
	}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, dialTimeout)
	defer dialCancel()
	exp, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "otlp exporter %s", o.Endpoint)
	}

	// resource.New returns a usable partial resource alongside detector
	// errors; those are not fatal.
	res, _ := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		resource.WithAttributes(o.resourceAttrs()...),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(o.Sample),
		)),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
