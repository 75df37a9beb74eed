// Package telemetry provides shared OTel tracer initialization for the
// orchestration plane (workflow engine, dispatcher, LLM pool).
//
// Real tracing requires an OTLP endpoint, either from config or from
// OTEL_EXPORTER_OTLP_ENDPOINT. Without one a no-op tracer is used
// (zero overhead).
package telemetry

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/devplane/devplane/internal/common/config"
)

var (
	initOnce       sync.Once
	tracerProvider trace.TracerProvider = noop.NewTracerProvider()
	sdkProvider    *sdktrace.TracerProvider

	mu          sync.Mutex
	serviceName = "devplane"
	endpoint    string
)

// Init applies telemetry configuration before the first Tracer call.
// It is optional; without it the OTEL_EXPORTER_OTLP_ENDPOINT variable
// still enables tracing.
func Init(cfg config.TelemetryConfig) {
	mu.Lock()
	defer mu.Unlock()
	if cfg.ServiceName != "" {
		serviceName = cfg.ServiceName
	}
	if cfg.Enabled && cfg.OTLPEndpoint != "" {
		endpoint = cfg.OTLPEndpoint
	}
}

func initTracing() {
	mu.Lock()
	ep := endpoint
	svc := serviceName
	mu.Unlock()

	if ep == "" {
		ep = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if ep == "" {
		return
	}

	ctx := context.Background()

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpointHost(ep)),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(svc)),
	)
	if err != nil {
		res = resource.Default()
	}

	sdkProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	tracerProvider = sdkProvider
	otel.SetTracerProvider(tracerProvider)
}

// endpointHost strips the scheme from the endpoint URL for otlptracehttp.
func endpointHost(endpoint string) string {
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(endpoint, prefix) {
			return endpoint[len(prefix):]
		}
	}
	return endpoint
}

// Tracer returns a named tracer. No-op when tracing is disabled.
func Tracer(name string) trace.Tracer {
	initOnce.Do(initTracing)
	return tracerProvider.Tracer(name)
}

// Shutdown flushes pending spans and shuts down the provider.
func Shutdown(ctx context.Context) error {
	if sdkProvider != nil {
		return sdkProvider.Shutdown(ctx)
	}
	return nil
}
