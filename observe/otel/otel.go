// Package otel bridges the observe.Sink to OpenTelemetry tracing.
//
// Chat turns, node transitions, checkpoints, and tool calls become spans
// visible in any OpenTelemetry-compatible backend.
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/archiq/assistant/observe"
)

const instrumentationName = "github.com/archiq/assistant"

// Sink implements observe.Sink by emitting OpenTelemetry spans.
type Sink struct {
	tracer trace.Tracer
}

// NewSink creates an OTel sink using the given TracerProvider.
// If tp is nil, it uses a noop tracer provider.
func NewSink(tp trace.TracerProvider) *Sink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Sink{
		tracer: tp.Tracer(instrumentationName),
	}
}

// Emit converts an observe.Event into an OTel span.
func (s *Sink) Emit(_ context.Context, event observe.Event) error {
	event.Normalize()

	startTime := event.Timestamp
	_, span := s.tracer.Start(context.Background(), spanNameFor(event), trace.WithTimestamp(startTime))

	attrs := []attribute.KeyValue{
		attribute.String("assistant.event.kind", string(event.Kind)),
	}
	if event.ThreadID != "" {
		attrs = append(attrs, attribute.String("assistant.thread.id", event.ThreadID))
	}
	if event.TurnID != "" {
		attrs = append(attrs, attribute.String("assistant.turn.id", event.TurnID))
	}
	if event.NodeID != "" {
		attrs = append(attrs, attribute.String("assistant.node.id", event.NodeID))
	}
	if event.ToolName != "" {
		attrs = append(attrs, attribute.String("assistant.tool.name", event.ToolName))
	}
	if event.Name != "" {
		attrs = append(attrs, attribute.String("assistant.event.name", event.Name))
	}
	if event.Status != "" {
		attrs = append(attrs, attribute.String("assistant.status", string(event.Status)))
	}
	if event.Message != "" {
		attrs = append(attrs, attribute.String("assistant.message", truncate(event.Message, 1024)))
	}
	if event.DurationMs > 0 {
		attrs = append(attrs, attribute.Int64("assistant.duration_ms", event.DurationMs))
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, attribute.String("assistant.attr."+k, fmt.Sprintf("%v", v)))
	}
	span.SetAttributes(attrs...)

	if event.Status == observe.StatusFailed {
		span.SetStatus(codes.Error, event.Error)
		if event.Error != "" {
			span.RecordError(fmt.Errorf("%s", event.Error))
		}
	} else if event.Status == observe.StatusCompleted {
		span.SetStatus(codes.Ok, "")
	}

	endTime := startTime
	if event.DurationMs > 0 {
		endTime = startTime.Add(time.Duration(event.DurationMs) * time.Millisecond)
	}
	span.End(trace.WithTimestamp(endTime))
	return nil
}

func spanNameFor(event observe.Event) string {
	switch event.Kind {
	case observe.KindTurn:
		return "assistant.turn"
	case observe.KindNode:
		if event.NodeID != "" {
			return "assistant.node." + event.NodeID
		}
		return "assistant.node.step"
	case observe.KindCheckpoint:
		return "assistant.checkpoint"
	case observe.KindTool:
		if event.ToolName != "" {
			return "assistant.tool." + event.ToolName
		}
		return "assistant.tool.call"
	case observe.KindProvider:
		if event.Name != "" {
			return "assistant.llm." + event.Name
		}
		return "assistant.llm.generate"
	default:
		if event.Name != "" {
			return "assistant." + event.Name
		}
		return "assistant.event"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
