package tracer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"anvil/internal/infra/config"
)

func TestSetupNoopVariants(t *testing.T) {
	for _, cfg := range []config.TracerConfig{
		{Enabled: false, Exporter: "stdout"},
		{Enabled: true, Exporter: "noop"},
		{Enabled: true, Exporter: ""},
	} {
		shutdown, err := Setup(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Setup(%+v): %v", cfg, err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}
}

func TestSetupUnsupportedExporter(t *testing.T) {
	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "jaeger"})
	if err == nil {
		t.Error("expected error for unsupported exporter")
	}
}

func TestSetupStdoutWritesToFile(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
	path := filepath.Join(t.TempDir(), "traces.jsonl")

	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "stdout", Output: path})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	_, span := StartSpan(context.Background(), "orchestrator.test",
		trace.WithAttributes(StringAttr("run.id", "r1")))
	SetOK(span)
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "orchestrator.test") {
		t.Errorf("trace output missing span name: %s", data)
	}
}

func TestHelpersOnNoopSpan(t *testing.T) {
	otel.SetTracerProvider(noop.NewTracerProvider())

	ctx, span := StartSpan(context.Background(), "test-span")
	if ctx == nil {
		t.Fatal("context should not be nil")
	}
	SetOK(span)
	RecordError(span, errors.New("test error"))
	span.End()

	if s := StringAttr("run.id", "r1"); string(s.Key) != "run.id" || s.Value.AsString() != "r1" {
		t.Errorf("StringAttr = %v", s)
	}
	if i := IntAttr("tokens", 42); string(i.Key) != "tokens" || i.Value.AsInt64() != 42 {
		t.Errorf("IntAttr = %v", i)
	}
}
