package api

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
	joinSpanName    = "realtime.ws.join"
	joinEventName   = "ws.join.metrics"
	joinEventDomain = "realtime"
)

// joinMetrics captures the timing and outcome of one room-join attempt and
// emits both an OpenTelemetry span and a structured observability log line.
type joinMetrics struct {
	logger *log.Logger
	start  time.Time
	span   trace.Span

	room          string
	user          string
	authzDuration time.Duration
	accepted      bool
	reason        string
}

func newJoinMetrics(ctx context.Context, logger *log.Logger) (*joinMetrics, context.Context) {
	m := &joinMetrics{logger: logger, start: time.Now()}
	tracer := otel.Tracer("realtime-service/api")
	spanCtx, span := tracer.Start(ctx, joinSpanName)
	m.span = span
	return m, spanCtx
}

func (m *joinMetrics) ObserveAuthz(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.authzDuration = duration
}

func (m *joinMetrics) SetRoom(room string)  { m.room = room }
func (m *joinMetrics) SetUser(user string)  { m.user = user }
func (m *joinMetrics) SetOutcome(accepted bool, reason string) {
	m.accepted = accepted
	m.reason = reason
}

// Log finalizes the span and writes the observability event.
func (m *joinMetrics) Log() {
	if m == nil {
		return
	}

	total := time.Since(m.start)

	if m.span != nil {
		m.span.SetAttributes(
			attribute.String("realtime.room", m.room),
			attribute.Bool("realtime.join.accepted", m.accepted),
			attribute.Float64("realtime.join.total_ms", durationToMillis(total)),
			attribute.Float64("realtime.join.authz_ms", durationToMillis(m.authzDuration)),
		)
		if m.reason != "" {
			m.span.SetAttributes(attribute.String("realtime.join.reason", m.reason))
		}
		if m.accepted {
			m.span.SetStatus(codes.Ok, "")
		} else {
			m.span.SetStatus(codes.Error, m.reason)
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":   joinEventName,
		"event.domain": joinEventDomain,
		"room":         m.room,
		"user":         m.user,
		"accepted":     m.accepted,
		"total_ms":     durationToMillis(total),
	}
	if m.authzDuration > 0 {
		fields["authz_ms"] = durationToMillis(m.authzDuration)
	}
	if m.reason != "" {
		fields["reason"] = m.reason
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}
	m.logger.WithFields(fields).Info("observability.event")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
