package tracing

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter writes every finished span as a debug log entry.
type LogExporter struct {
	logger logrus.FieldLogger
}

func NewLogExporter(logger logrus.FieldLogger) *LogExporter {
	return &LogExporter{logger: logger}
}

func (e *LogExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		fields := logrus.Fields{
			"trace_id":    span.SpanContext().TraceID().String(),
			"span_id":     span.SpanContext().SpanID().String(),
			"duration_ms": span.EndTime().Sub(span.StartTime()).Milliseconds(),
			"status":      span.Status().Code.String(),
		}
		for _, attr := range span.Attributes() {
			fields[string(attr.Key)] = attr.Value.Emit()
		}
		e.logger.WithFields(fields).Debugf("span %s", span.Name())
	}
	return nil
}

func (e *LogExporter) Shutdown(context.Context) error {
	return nil
}

// Processors returns the span processors for the named exporter. An empty
// name means none.
func Processors(exporter string, logger logrus.FieldLogger) ([]sdktrace.SpanProcessor, error) {
	switch exporter {
	case "", ExporterNone:
		return nil, nil
	case ExporterLog:
		return []sdktrace.SpanProcessor{sdktrace.NewBatchSpanProcessor(NewLogExporter(logger))}, nil
	default:
		return nil, fmt.Errorf("unknown traces exporter %q", exporter)
	}
}
