package ui

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func TestTelemetryOutput_PrintsFinishedSpans(t *testing.T) {
	var buf bytes.Buffer
	out := NewTelemetryOutput(&buf)
	tracer := out.Tracer("test")

	start := func(resource string) trace.Span {
		_, span := tracer.Start(context.Background(), "resource.start",
			trace.WithAttributes(attribute.String(ResourceAttribute, resource)))
		return span
	}

	api := start("api")
	api.AddEvent("ready")
	api.End()

	web := start("web")
	web.SetStatus(codes.Error, "dependency not ready")
	web.End()

	worker := start("worker")
	worker.End()
	out.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "[ok] api")
	assert.Contains(t, lines[1], "[x] web")
	assert.Contains(t, lines[1], "(dependency not ready)")
	assert.Contains(t, lines[2], "[--] worker")
}

func TestTelemetryOutput_NilFallsBackToGlobalTracer(t *testing.T) {
	var out *TelemetryOutput
	assert.NotNil(t, out.Tracer("test"))
	out.Close()
}
