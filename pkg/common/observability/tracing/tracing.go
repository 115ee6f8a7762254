/*
Copyright 2025 The prioserve Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tracing configures the OpenTelemetry tracer provider from the standard OTEL_* environment variables.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	logutil "github.com/prioserve/prioserve/pkg/common/observability/logging"
	"github.com/prioserve/prioserve/version"
)

const (
	defaultServiceName   = "prioserve"
	defaultEndpoint      = "http://localhost:4317"
	defaultSamplerType   = "parentbased_traceidratio"
	defaultSamplingRatio = 0.1

	exporterConsole = "console"
	exporterOTLP    = "otlp"
)

type errorHandler struct {
	logger logr.Logger
}

func (h *errorHandler) Handle(err error) {
	h.logger.V(logutil.DEFAULT).Error(err, "trace error occurred")
}

// InitTracing installs a global tracer provider and propagator. The provider is flushed and shut down when ctx is
// done.
//
// Recognized variables: OTEL_SERVICE_NAME, OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_TRACES_EXPORTER (console or otlp),
// OTEL_TRACES_SAMPLER (only parentbased_traceidratio) and OTEL_TRACES_SAMPLER_ARG.
func InitTracing(ctx context.Context, logger logr.Logger) error {
	logger = logger.WithName("trace")
	handler := &errorHandler{logger: logger}

	if _, ok := os.LookupEnv("OTEL_SERVICE_NAME"); !ok {
		os.Setenv("OTEL_SERVICE_NAME", defaultServiceName)
	}
	if _, ok := os.LookupEnv("OTEL_EXPORTER_OTLP_ENDPOINT"); !ok {
		os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", defaultEndpoint)
	}

	exporter, err := newExporter(ctx, logger, lookupEnv("OTEL_TRACES_EXPORTER", exporterConsole))
	if err != nil {
		handler.Handle(fmt.Errorf("init trace exporter failed: %w", err))
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(newSampler(handler, lookupEnv("OTEL_TRACES_SAMPLER", defaultSamplerType),
			lookupEnv("OTEL_TRACES_SAMPLER_ARG", ""))),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceVersionKey.String(version.Version),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetErrorHandler(handler)

	go func() {
		<-ctx.Done()
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			handler.Handle(fmt.Errorf("failed to shutdown TracerProvider: %w", err))
		}
		logger.V(logutil.DEFAULT).Info("trace provider shut down")
	}()
	return nil
}

// newSampler builds the sampler. The Go SDK does not read OTEL_TRACES_SAMPLER itself.
func newSampler(handler otel.ErrorHandler, samplerType, arg string) sdktrace.Sampler {
	if samplerType != defaultSamplerType {
		handler.Handle(fmt.Errorf("unsupported sampler type: %s, fallback to %s with %v ratio", samplerType,
			defaultSamplerType, defaultSamplingRatio))
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(defaultSamplingRatio))
	}
	fraction, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		fraction = defaultSamplingRatio
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(fraction))
}

// newExporter creates the span exporter:
//   - console: pretty-printed spans on stdout, for development
//   - otlp: spans sent over gRPC to an OpenTelemetry collector
func newExporter(ctx context.Context, logger logr.Logger, exporterType string) (sdktrace.SpanExporter, error) {
	logger.Info("init OTel trace exporter", "type", exporterType)
	switch exporterType {
	case exporterConsole:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdouttrace exporter: %w", err)
		}
		return exp, nil
	case exporterOTLP:
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp-grpc exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q, want %q or %q", exporterType, exporterConsole, exporterOTLP)
	}
}

func lookupEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
