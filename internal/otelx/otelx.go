// Package otelx installs the global tracer provider and propagators.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/penthu-app/penthu-web/internal/version"
	"github.com/penthu-app/penthu-web/internal/xerrors"
)

const defaultDialTimeout = 3 * time.Second

type Options struct {
	Enabled  bool
	Endpoint string
	Insecure bool
	// Sample is the root sampling ratio, clamped to [0, 1].
	Sample float64

	Service   string // default penthu-web
	Component string // default web
	Build     version.Info

	DialTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Service == "" {
		o.Service = version.AppName
	}
	if o.Component == "" {
		o.Component = "web"
	}
	if o.Sample < 0 {
		o.Sample = 0
	}
	if o.Sample > 1 {
		o.Sample = 1
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
}

// serviceName is what traces are grouped by, "penthu-web.web"
func (o *Options) serviceName() string {
	return o.Service + "." + o.Component
}

func setPropagators() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
}

// Init installs the tracer provider. When disabled an unexported SDK
// provider is still installed so spans carry valid ids for log correlation.
// The returned shutdown flushes pending spans.
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	o.setDefaults()
	setPropagators()

	if !o.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}
	if o.Endpoint == "" {
		return nil, xerrors.New("otelx: tracing enabled without an OTLP endpoint")
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(o.Endpoint),
	}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	// the exporter dial blocks without a deadline
	dialCtx, dialCancel := context.WithTimeout(ctx, o.DialTimeout)
	defer dialCancel()
	exp, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "otelx: create OTLP exporter")
	}

	res, _ := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		resource.WithAttributes(resourceAttrs(&o)...),
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

func resourceAttrs(o *Options) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(o.serviceName()),
	}
	if o.Build.Version != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(o.Build.Version))
	}
	if o.Build.Commit != "" {
		attrs = append(attrs, attribute.String("vcs.revision", o.Build.Commit))
	}
	return attrs
}
