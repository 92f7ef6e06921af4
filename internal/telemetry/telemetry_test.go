package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown := Setup(Config{ServiceName: "fieldops-api"}, zap.NewNop())
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	fields := otel.GetTextMapPropagator().Fields()
	found := false
	for _, field := range fields {
		if field == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected trace context propagator, got fields %v", fields)
	}
}

func TestNewResourceAttributes(t *testing.T) {
	res, err := newResource(Config{ServiceName: "fieldops-api", ServiceVersion: "1.4.0", Environment: "staging"})
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	set := res.Set()
	for key, want := range map[attribute.Key]string{
		semconv.ServiceNameKey:           "fieldops-api",
		semconv.ServiceVersionKey:        "1.4.0",
		semconv.DeploymentEnvironmentKey: "staging",
	} {
		value, ok := set.Value(key)
		if !ok || value.AsString() != want {
			t.Fatalf("%s: expected %q, got %q", key, want, value.AsString())
		}
	}
}

func TestSampleRatio(t *testing.T) {
	cases := map[float64]float64{0: 1, -1: 1, 2: 1, 0.25: 0.25, 1: 1}
	for in, want := range cases {
		if got := sampleRatio(in); got != want {
			t.Fatalf("sampleRatio(%v): expected %v, got %v", in, want, got)
		}
	}
}
