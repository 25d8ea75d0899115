package otelutil

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	otlptracegrpc "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

var tp *sdktrace.TracerProvider

// Init configures a global tracer provider. It prefers an OTLP/gRPC exporter
// when an endpoint is configured and falls back to a stdout exporter when
// ECOUTE_OTEL_STDOUT=1. It returns an error when no exporter is configured;
// callers may choose to ignore it and run untraced.
func Init() error {
	ctx := context.Background()

	res, err := sdkresource.New(ctx, sdkresource.WithAttributes(
		semconv.ServiceNameKey.String("ecoute-relay"),
	))
	if err != nil {
		return err
	}

	endpoint := os.Getenv("ECOUTE_OTEL_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint != "" {
		return initWithOTLP(ctx, res, endpoint)
	}

	if strings.ToLower(os.Getenv("ECOUTE_OTEL_STDOUT")) == "1" {
		return initWithStdout(res)
	}

	return fmt.Errorf("no OTEL exporter configured: set ECOUTE_OTEL_OTLP_ENDPOINT or ECOUTE_OTEL_STDOUT=1")
}

func initWithOTLP(ctx context.Context, res *sdkresource.Resource, endpoint string) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
	}
	insecure := strings.ToLower(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"))
	if insecure == "1" || insecure == "true" {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return err
	}
	install(exporter, res)
	return nil
}

func initWithStdout(res *sdkresource.Resource) error {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return err
	}
	install(exporter, res)
	return nil
}

func install(exporter sdktrace.SpanExporter, res *sdkresource.Resource) {
	tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
}

// Flush gracefully shuts down the tracer provider, flushing pending spans.
// Safe to call multiple times, including when Init never succeeded.
func Flush() {
	if tp == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = tp.Shutdown(ctx)
}
