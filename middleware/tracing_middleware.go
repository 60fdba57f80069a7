package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"interop-rpc/message"
)

const instrumentationName = "interop-rpc"

// TracingConfig selects the OpenTelemetry providers. Nil providers resolve to the
// global ones when the middleware is built.
type TracingConfig struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	ServiceName    string
}

type tracer struct {
	service  string
	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

func newTracer(cfg TracingConfig) *tracer {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "TestService"
	}
	meter := cfg.MeterProvider.Meter(instrumentationName)
	t := &tracer{
		service: cfg.ServiceName,
		tracer:  cfg.TracerProvider.Tracer(instrumentationName),
	}
	t.requests, _ = meter.Int64Counter("rpc.server.requests",
		metric.WithUnit("{request}"),
		metric.WithDescription("Number of RPC requests"),
	)
	t.duration, _ = meter.Float64Histogram("rpc.server.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of RPC requests"),
	)
	return t
}

func (t *tracer) start(ctx context.Context, method, kind string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "interop-rpc/"+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.system", "interop-rpc"),
			attribute.String("rpc.service", t.service),
			attribute.String("rpc.method", method),
			attribute.String("rpc.interop.call_kind", kind),
		),
	)
}

func (t *tracer) end(ctx context.Context, span trace.Span, method, kind string, start time.Time, errText string) {
	status := "ok"
	if errText != "" {
		status = "error"
		span.SetStatus(codes.Error, errText)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	attrs := metric.WithAttributes(
		attribute.String("rpc.method", method),
		attribute.String("rpc.interop.call_kind", kind),
		attribute.String("status", status),
	)
	if t.requests != nil {
		t.requests.Add(ctx, 1, attrs)
	}
	if t.duration != nil {
		t.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	span.End()
}

func TracingMiddleware(cfg TracingConfig) Middleware {
	t := newTracer(cfg)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			ctx, span := t.start(ctx, req.ServiceMethod, "unary")
			resp := next(ctx, req)
			span.SetAttributes(
				attribute.Int("rpc.interop.request_bytes", len(req.Payload)),
				attribute.Int("rpc.interop.response_bytes", len(resp.Payload)),
			)
			t.end(ctx, span, req.ServiceMethod, "unary", start, resp.Error)
			return resp
		}
	}
}

func TracingStreamMiddleware(cfg TracingConfig) StreamMiddleware {
	t := newTracer(cfg)
	return func(next StreamFunc) StreamFunc {
		return func(ctx context.Context, serviceMethod string) error {
			start := time.Now()
			ctx, span := t.start(ctx, serviceMethod, "stream")
			err := next(ctx, serviceMethod)
			errText := ""
			if err != nil {
				errText = err.Error()
				span.RecordError(err)
			}
			t.end(ctx, span, serviceMethod, "stream", start, errText)
			return err
		}
	}
}
