package ws

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	messageSpanName  = "ws.message"
	messageEventName = "taskboard.ws.message"
)

// messageMetrics records per-message handling observations and emits one
// span plus one structured log entry when the message is done.
type messageMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	msgType   string
	errorCode string
}

func newMessageMetrics(ctx context.Context, logger *log.Logger) (*messageMetrics, context.Context) {
	tracer := otel.GetTracerProvider().Tracer("taskboard/ws")
	ctx, span := tracer.Start(ctx, messageSpanName)
	return &messageMetrics{logger: logger, span: span, start: time.Now()}, ctx
}

func (m *messageMetrics) SetType(msgType string) {
	m.msgType = msgType
}

func (m *messageMetrics) SetErrorCode(code string) {
	if code == "" {
		return
	}
	m.errorCode = code
}

func (m *messageMetrics) Log() {
	if m == nil {
		return
	}
	totalMs := float64(time.Since(m.start)) / float64(time.Millisecond)

	attrs := []attribute.KeyValue{
		attribute.String("taskboard.ws.type", m.msgType),
		attribute.Float64("taskboard.ws.total_ms", totalMs),
	}
	if m.errorCode != "" {
		attrs = append(attrs, attribute.String("taskboard.ws.error_code", m.errorCode))
		m.span.SetStatus(codes.Error, m.errorCode)
	} else {
		m.span.SetStatus(codes.Ok, "")
	}
	m.span.SetAttributes(attrs...)
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name": messageEventName,
		"type":       m.msgType,
		"total_ms":   totalMs,
	}
	if m.errorCode != "" {
		fields["error_code"] = m.errorCode
	}
	if sc := m.span.SpanContext(); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	m.logger.WithFields(fields).Debug("observability.event")
}
