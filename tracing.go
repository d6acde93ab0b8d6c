// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package marketd

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func (d *Daemon) setupTracing() error {
	ctx := context.Background()
	var opts []sdktrace.TracerProviderOption
	if d.config.tracingStdout {
		stdoutExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(stdoutExporter))
	}
	// Endpoint and TLS configuration comes from the standard
	// OTEL_EXPORTER_OTLP_* environment variables
	otlpExporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	opts = append(opts, sdktrace.WithBatcher(otlpExporter))
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("marketd"),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create tracing resource: %w", err)
	}
	opts = append(opts, sdktrace.WithResource(res))
	tracerProvider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)
	d.shutdownFuncs = append(d.shutdownFuncs, tracerProvider.Shutdown)
	return nil
}
