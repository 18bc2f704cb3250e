package telemetry

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles logging, tracing, metrics, and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// NewNopTelemetry returns telemetry that records nothing.
func NewNopTelemetry() *Telemetry {
	cfg := DefaultConfig()
	cfg.Events.Enabled = false
	tracer, _ := NewTracer(TracingConfig{}, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	metrics, _ := NewMetrics(MetricsConfig{})
	events, _ := NewEventPublisher(cfg.Events)
	return &Telemetry{
		Logger:  NewNopLogger(),
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}
	return t.Tracer.Shutdown(ctx)
}

// Flush forces all pending spans to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() *http.Server {
	return t.Metrics.StartMetricsServer(t.Logger)
}

// InstrumentedContext carries a span, logger, and timer for one operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)
	logger := FromContext(ctx).WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.WithField("trace_id", span.SpanContext().TraceID().String())
	}

	return &InstrumentedContext{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span == nil {
		return
	}
	if err != nil {
		RecordError(ic.Span, err)
	} else {
		RecordSuccess(ic.Span)
	}
	ic.Span.End()
}

type (
	buildSpanKey  struct{}
	buildTimerKey struct{}
	phaseSpanKey  struct{}
	phaseTimerKey struct{}
)

// WithBuildContext starts the telemetry of a build: a root span, a logger
// carrying the build ID, the started metric, and the started event.
func WithBuildContext(ctx context.Context, buildID, output string, phases []string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartBuildSpan(ctx, buildID, output)
	spanCtx = tel.Logger.WithBuildID(buildID).WithContext(spanCtx)

	tel.Metrics.RecordBuildStarted(output)
	_ = tel.Events.PublishBuildStarted(buildID, phases)

	spanCtx = context.WithValue(spanCtx, buildSpanKey{}, span)
	return context.WithValue(spanCtx, buildTimerKey{}, NewTimer())
}

// EndBuildContext completes the build telemetry. code labels the error
// metric when err is non-nil.
func EndBuildContext(ctx context.Context, buildID, code string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(buildSpanKey{}).(trace.Span); ok {
		if err != nil {
			span.SetAttributes(AttrErrorCode.String(code))
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	var timer *Timer
	if t, ok := ctx.Value(buildTimerKey{}).(*Timer); ok {
		timer = t
	} else {
		timer = NewTimer()
	}

	if err != nil {
		tel.Metrics.RecordBuildError(code)
		tel.Metrics.RecordBuildCompleted("failed", timer.Duration())
		_ = tel.Events.PublishBuildFailed(buildID, err.Error())
		return
	}
	tel.Metrics.RecordBuildCompleted("success", timer.Duration())
	_ = tel.Events.PublishBuildCompleted(buildID, timer.Duration())
}

// WithPhaseContext starts the telemetry of one phase's compilation.
func WithPhaseContext(ctx context.Context, buildID, phase string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartPhaseSpan(ctx, buildID, phase)
	spanCtx = FromContext(ctx).WithPhase(phase).WithContext(spanCtx)
	spanCtx = context.WithValue(spanCtx, phaseSpanKey{}, span)
	return context.WithValue(spanCtx, phaseTimerKey{}, NewTimer())
}

// EndPhaseContext completes the phase telemetry.
func EndPhaseContext(ctx context.Context, buildID, phase string, compiled, reused int, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(phaseSpanKey{}).(trace.Span); ok {
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	if err != nil {
		return
	}
	if timer, ok := ctx.Value(phaseTimerKey{}).(*Timer); ok {
		tel.Metrics.RecordPhaseCompiled(phase, timer.Duration())
		_ = tel.Events.PublishPhaseCompiled(buildID, phase, compiled, reused, timer.Duration())
	}
}

// RecordCallable counts one callable slot as compiled or reused and tags
// the current span.
func RecordCallable(ctx context.Context, kind string, reused bool) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}
	tel.Metrics.RecordCallable(kind, reused)
	trace.SpanFromContext(ctx).AddEvent("callable", trace.WithAttributes(
		AttrCallableKind.String(kind),
		AttrCacheHit.Bool(reused),
	))
}
