package otelx

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/penthu-app/penthu-web/internal/version"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false, Endpoint: "ignored:4317"})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown #%d: %v", i+1, err)
		}
	}

	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		t.Fatalf("TracerProvider type = %T, want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}

	// spans still get ids so logs can be correlated
	_, span := tp.Tracer("test").Start(context.Background(), "download")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Fatal("span context should be valid with the SDK provider")
	}
}

func TestInit_Propagators(t *testing.T) {
	_, _ = Init(context.Background(), Options{})

	fields := otel.GetTextMapPropagator().Fields()
	want := map[string]bool{"traceparent": false, "baggage": false}
	for _, f := range fields {
		if _, ok := want[f]; ok {
			want[f] = true
		}
	}
	for f, seen := range want {
		if !seen {
			t.Errorf("propagator missing %q (fields %v)", f, fields)
		}
	}
	var _ propagation.TextMapPropagator = otel.GetTextMapPropagator()
}

func TestInit_EnabledWithoutEndpoint(t *testing.T) {
	if _, err := Init(context.Background(), Options{Enabled: true}); err == nil {
		t.Fatal("expected error without endpoint")
	}
}

func TestInit_Enabled_ReturnsPromptly(t *testing.T) {
	// the grpc exporter connects lazily; Init must not hang on a dead collector
	start := time.Now()
	shutdown, err := Init(context.Background(), Options{
		Enabled:     true,
		Endpoint:    "127.0.0.1:1",
		Insecure:    true,
		Sample:      1,
		DialTimeout: 200 * time.Millisecond,
	})
	if time.Since(start) > 5*time.Second {
		t.Fatal("Init blocked on an unreachable collector")
	}
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{Sample: 7}
	o.setDefaults()

	if o.serviceName() != "penthu-web.web" {
		t.Fatalf("service name = %q", o.serviceName())
	}
	if o.Sample != 1 {
		t.Fatalf("Sample = %v, want clamped to 1", o.Sample)
	}
	if o.DialTimeout != defaultDialTimeout {
		t.Fatalf("DialTimeout = %v", o.DialTimeout)
	}

	o = Options{Sample: -0.5}
	o.setDefaults()
	if o.Sample != 0 {
		t.Fatalf("Sample = %v, want clamped to 0", o.Sample)
	}
}

func TestResourceAttrs(t *testing.T) {
	o := Options{Component: "ops", Build: version.Info{Version: "1.4.0", Commit: "abc123"}}
	o.setDefaults()

	got := map[string]string{}
	for _, kv := range resourceAttrs(&o) {
		got[string(kv.Key)] = kv.Value.AsString()
	}
	if got[string(semconv.ServiceNameKey)] != "penthu-web.ops" {
		t.Errorf("service.name = %q", got[string(semconv.ServiceNameKey)])
	}
	if got[string(semconv.ServiceVersionKey)] != "1.4.0" {
		t.Errorf("service.version = %q", got[string(semconv.ServiceVersionKey)])
	}
	if got["vcs.revision"] != "abc123" {
		t.Errorf("vcs.revision = %q", got["vcs.revision"])
	}

	o = Options{}
	o.setDefaults()
	if n := len(resourceAttrs(&o)); n != 1 {
		t.Fatalf("attrs without build info = %d, want 1", n)
	}
}
