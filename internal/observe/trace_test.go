package observe

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// spanRecorder installs an in-memory tracer provider as the global one for
// the duration of the test and hands back its exporter.
func spanRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	return exp
}

func TestStartSpan_RecordsNamedSpan(t *testing.T) {
	exp := spanRecorder(t)

	ctx, span := StartSpan(context.Background(), "dialog.turn")
	if CorrelationID(ctx) == "" {
		t.Error("span context carries no trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "dialog.turn" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "dialog.turn")
	}
}

func TestCorrelationID(t *testing.T) {
	t.Run("no active span", func(t *testing.T) {
		if got := CorrelationID(context.Background()); got != "" {
			t.Errorf("CorrelationID = %q, want empty", got)
		}
	})

	t.Run("hex trace ID", func(t *testing.T) {
		spanRecorder(t)

		ctx, span := StartSpan(context.Background(), "tts.synthesize")
		defer span.End()

		cid := CorrelationID(ctx)
		if len(cid) != 32 {
			t.Fatalf("correlation ID length = %d, want 32", len(cid))
		}
		if strings.Trim(cid, "0123456789abcdef") != "" {
			t.Errorf("correlation ID is not lowercase hex: %q", cid)
		}
	})

	t.Run("distinct per turn", func(t *testing.T) {
		spanRecorder(t)

		seen := make(map[string]struct{}, 100)
		for range 100 {
			ctx, span := StartSpan(context.Background(), "dialog.turn")
			cid := CorrelationID(ctx)
			span.End()
			if _, dup := seen[cid]; dup {
				t.Fatalf("duplicate correlation ID %s", cid)
			}
			seen[cid] = struct{}{}
		}
	})
}

// captureLogs redirects the default slog logger into a buffer.
func captureLogs(t *testing.T) *strings.Builder {
	t.Helper()

	var buf strings.Builder
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestLogger_AttachesSpanIdentifiers(t *testing.T) {
	spanRecorder(t)
	buf := captureLogs(t)

	ctx, span := StartSpan(context.Background(), "stt.stream")
	defer span.End()

	Logger(ctx).Info("transcript received")

	out := buf.String()
	if !strings.Contains(out, "trace_id="+CorrelationID(ctx)) {
		t.Errorf("log line missing the span's trace_id: %s", out)
	}
	if !strings.Contains(out, "span_id=") {
		t.Errorf("log line missing span_id: %s", out)
	}
}

func TestLogger_PlainWithoutSpan(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("startup")

	if out := buf.String(); strings.Contains(out, "trace_id") {
		t.Errorf("log line should carry no trace_id outside a span: %s", out)
	}
}

func TestTracer_UsesGlobalProvider(t *testing.T) {
	exp := spanRecorder(t)

	_, span := Tracer().Start(context.Background(), "order.extract")
	span.End()

	if spans := exp.GetSpans(); len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
}
