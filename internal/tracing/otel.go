package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Option adjusts the tracer provider built by InitOpenTelemetry.
type Option func(*setup)

type setup struct {
	version     string
	sampleRatio float64
}

// WithServiceVersion tags every span with the binary version.
func WithServiceVersion(version string) Option {
	return func(s *setup) { s.version = version }
}

// WithSampleRatio samples root spans at ratio (0..1). Child spans follow their parent.
func WithSampleRatio(ratio float64) Option {
	return func(s *setup) { s.sampleRatio = ratio }
}

var tp struct {
	once     sync.Once
	mu       sync.RWMutex
	provider *sdktrace.TracerProvider
	err      error
}

// InitOpenTelemetry installs the process-wide tracer provider. Only the first
// call has any effect; later calls return its error.
func InitOpenTelemetry(serviceName string, opts ...Option) error {
	tp.once.Do(func() {
		s := setup{sampleRatio: 1}
		for _, opt := range opts {
			opt(&s)
		}

		attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
		if s.version != "" {
			attrs = append(attrs, semconv.ServiceVersion(s.version))
		}
		res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
		if err != nil {
			tp.err = err
			return
		}

		provider := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.sampleRatio))),
			sdktrace.WithResource(res),
		)

		tp.mu.Lock()
		tp.provider = provider
		tp.mu.Unlock()
		otel.SetTracerProvider(provider)
	})
	return tp.err
}

// ShutdownOpenTelemetry flushes pending spans. It is a no-op before init.
func ShutdownOpenTelemetry(ctx context.Context) error {
	tp.mu.RLock()
	provider := tp.provider
	tp.mu.RUnlock()
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

// StartSpan starts a span on the named tracer. The span's trace id becomes the
// context trace id unless one is already set, so log lines and spans agree.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
	if GetTraceID(ctx) != "" {
		return ctx, span
	}
	if sc := span.SpanContext(); sc.IsValid() {
		ctx = WithTraceID(ctx, sc.TraceID().String())
	}
	return ctx, span
}

// RecordError marks span as failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
