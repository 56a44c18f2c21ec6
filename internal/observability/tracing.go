package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracingConfig holds configuration for OpenTelemetry tracing
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
	SampleRate     float64
}

// TracingManager manages OpenTelemetry tracing
type TracingManager struct {
	logger   *zap.SugaredLogger
	config   TracingConfig
	tracer   oteltrace.Tracer
	provider *trace.TracerProvider
	enabled  bool
}

// NewTracingManager creates a new tracing manager
func NewTracingManager(logger *zap.SugaredLogger, config TracingConfig) (*TracingManager, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	tm := &TracingManager{
		logger:  logger,
		config:  config,
		enabled: config.Enabled,
	}

	if !config.Enabled {
		logger.Debug("OpenTelemetry tracing disabled")
		return tm, nil
	}

	if err := tm.initTracing(); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	logger.Infow("OpenTelemetry tracing initialized",
		"service_name", config.ServiceName,
		"otlp_endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate)

	return tm, nil
}

func (tm *TracingManager) initTracing() error {
	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(tm.config.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(tm.config.ServiceName),
			semconv.ServiceVersionKey.String(tm.config.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	tm.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(tm.config.SampleRate))),
	)
	otel.SetTracerProvider(tm.provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tm.tracer = tm.provider.Tracer(tm.config.ServiceName)
	return nil
}

// Close flushes and shuts down the tracing provider
func (tm *TracingManager) Close(ctx context.Context) error {
	if tm == nil || !tm.enabled || tm.provider == nil {
		return nil
	}
	tm.logger.Info("Shutting down OpenTelemetry tracing")
	return tm.provider.Shutdown(ctx)
}

// IsEnabled returns whether tracing is enabled
func (tm *TracingManager) IsEnabled() bool {
	return tm != nil && tm.enabled
}

// StartSpan starts a new trace span. A nil or disabled manager returns the
// span already in ctx.
func (tm *TracingManager) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if !tm.IsEnabled() {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return tm.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// TraceStart creates a span for a supervisor start request.
func (tm *TracingManager) TraceStart(ctx context.Context, toolID, surface string) (context.Context, oteltrace.Span) {
	return tm.StartSpan(ctx, "session.start",
		attribute.String("tool.id", toolID),
		attribute.String("session.surface", surface),
	)
}

// TraceLaunch creates a span for one launcher run.
func (tm *TracingManager) TraceLaunch(ctx context.Context, toolID, kind, sessionID string) (context.Context, oteltrace.Span) {
	return tm.StartSpan(ctx, "tool.launch",
		attribute.String("tool.id", toolID),
		attribute.String("tool.kind", kind),
		attribute.String("session.id", sessionID),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// HTTPMiddleware returns middleware that adds tracing to HTTP requests
func (tm *TracingManager) HTTPMiddleware() func(http.Handler) http.Handler {
	if !tm.IsEnabled() {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tm.tracer.Start(ctx, r.Method+" "+r.URL.Path,
				oteltrace.WithAttributes(
					semconv.HTTPMethodKey.String(r.Method),
					semconv.HTTPTargetKey.String(r.URL.Path),
					semconv.HTTPUserAgentKey.String(r.UserAgent()),
				),
			)
			defer span.End()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(w.Header()))
			next.ServeHTTP(ww, r.WithContext(ctx))

			span.SetName(r.Method + " " + routePattern(r))
			span.SetAttributes(semconv.HTTPStatusCodeKey.Int(ww.statusCode))
			if ww.statusCode >= 500 {
				span.SetStatus(codes.Error, http.StatusText(ww.statusCode))
			}
		})
	}
}

// routePattern is the matched chi route, or the raw path outside a router.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
