package observer

import (
	"context"
	"time"

	"github.com/nevindra/maestro"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// AgentCaller is the outbound A2A call surface the observer can wrap.
// a2a.Client satisfies it.
type AgentCaller interface {
	CallAgent(ctx context.Context, baseURL string, task maestro.Task, timeout time.Duration) (maestro.TaskResult, error)
}

// ObservedCaller wraps an AgentCaller to emit a span, metrics, and a log
// record per outbound agent call. The span is the parent for the transport's
// own retry spans via context propagation.
type ObservedCaller struct {
	inner AgentCaller
	inst  *Instruments
}

// WrapCaller returns an instrumented AgentCaller.
func WrapCaller(inner AgentCaller, inst *Instruments) *ObservedCaller {
	return &ObservedCaller{inner: inner, inst: inst}
}

func (o *ObservedCaller) CallAgent(ctx context.Context, baseURL string, task maestro.Task, timeout time.Duration) (maestro.TaskResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "a2a.call_agent", trace.WithAttributes(
		AttrAgentEndpoint.String(baseURL),
		AttrTaskID.String(task.ID),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.CallAgent(ctx, baseURL, task, timeout)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	switch {
	case ctx.Err() != nil && err != nil:
		status = "cancelled"
		span.SetStatus(codes.Error, "cancelled")
	case err != nil:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(AttrAgentStatus.String(status))

	o.inst.AgentCalls.Add(ctx, 1, metric.WithAttributes(
		AttrAgentEndpoint.String(baseURL),
		attribute.String("status", status),
	))
	o.inst.AgentCallDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrAgentEndpoint.String(baseURL),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("agent call completed"))
	rec.AddAttributes(
		otellog.String("a2a.endpoint", baseURL),
		otellog.String("a2a.task_id", task.ID),
		otellog.String("a2a.status", status),
		otellog.Float64("a2a.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}
