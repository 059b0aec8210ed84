package tracing

import (
	"context"
	"os"
	"testing"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	os.Unsetenv("OTEL_ENABLED")
	os.Unsetenv("OTEL_SERVICE_NAME")
	os.Unsetenv("OTEL_SAMPLING_RATIO")

	cfg := ConfigFromEnv("statekeepd", "v0.0.0")
	if !cfg.Enabled {
		t.Fatal("expected tracing enabled by default")
	}
	if cfg.ServiceName != "statekeepd" {
		t.Fatalf("service name = %q, want statekeepd", cfg.ServiceName)
	}
	if cfg.SamplingRatio != 1.0 {
		t.Fatalf("sampling ratio = %v, want 1.0", cfg.SamplingRatio)
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	os.Setenv("OTEL_ENABLED", "false")
	os.Setenv("OTEL_SERVICE_NAME", "custom-name")
	os.Setenv("OTEL_SAMPLING_RATIO", "0.25")
	defer func() {
		os.Unsetenv("OTEL_ENABLED")
		os.Unsetenv("OTEL_SERVICE_NAME")
		os.Unsetenv("OTEL_SAMPLING_RATIO")
	}()

	cfg := ConfigFromEnv("statekeepd", "v0.0.0")
	if cfg.Enabled {
		t.Fatal("expected tracing disabled via OTEL_ENABLED=false")
	}
	if cfg.ServiceName != "custom-name" {
		t.Fatalf("service name = %q, want custom-name", cfg.ServiceName)
	}
	if cfg.SamplingRatio != 0.25 {
		t.Fatalf("sampling ratio = %v, want 0.25", cfg.SamplingRatio)
	}
}

func TestNoopProviderShutdownAndTracerDoNotPanic(t *testing.T) {
	p := Noop()
	if p.Tracer("test") == nil {
		t.Fatal("expected a non-nil no-op tracer")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitDisabledReturnsNoop(t *testing.T) {
	p, err := Init(Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if p.Tracer("test") == nil {
		t.Fatal("expected a non-nil tracer from the disabled provider")
	}
}
