package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ResourceAttribute names the resource a span belongs to.
const ResourceAttribute = "apphost.resource"

// TelemetryOutput prints one line for every finished resource span.
type TelemetryOutput struct {
	provider *sdktrace.TracerProvider
}

func NewTelemetryOutput(w io.Writer) *TelemetryOutput {
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(&spanLineProcessor{w: w}))
	return &TelemetryOutput{provider: provider}
}

func (o *TelemetryOutput) Tracer(name string) trace.Tracer {
	if o == nil || o.provider == nil {
		return otel.Tracer(name)
	}
	return o.provider.Tracer(name)
}

func (o *TelemetryOutput) Close() {
	if o == nil || o.provider == nil {
		return
	}
	_ = o.provider.Shutdown(context.Background())
}

type spanLineProcessor struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *spanLineProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *spanLineProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	if p == nil || p.w == nil {
		return
	}
	line := formatSpanLine(span)
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

func (p *spanLineProcessor) Shutdown(context.Context) error {
	return nil
}

func (p *spanLineProcessor) ForceFlush(context.Context) error {
	return nil
}

func formatSpanLine(span sdktrace.ReadOnlySpan) string {
	name := attributeValue(span.Attributes(), ResourceAttribute)
	if name == "" {
		name = span.Name()
	}
	elapsed := Muted(span.EndTime().Sub(span.StartTime()).Round(time.Millisecond).String())

	status := span.Status()
	switch {
	case status.Code == codes.Error:
		msg := strings.TrimSpace(status.Description)
		if msg == "" {
			return fmt.Sprintf("  %s %s %s", ErrorStyle.Render("[x]"), name, elapsed)
		}
		return fmt.Sprintf("  %s %s %s (%s)", ErrorStyle.Render("[x]"), name, elapsed, msg)
	case hasEvent(span, "ready"):
		return fmt.Sprintf("  %s %s %s", SuccessStyle.Render("[ok]"), name, elapsed)
	default:
		return fmt.Sprintf("  %s %s %s", MutedStyle.Render("[--]"), name, elapsed)
	}
}

func hasEvent(span sdktrace.ReadOnlySpan, name string) bool {
	for _, e := range span.Events() {
		if e.Name == name {
			return true
		}
	}
	return false
}

func attributeValue(attrs []attribute.KeyValue, key string) string {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsString()
		}
	}
	return ""
}
