// Package telemetry configures the OpenTelemetry tracer provider used by the
// request pipeline spans.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Providers holds the tracer provider and its shutdown function.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	Shutdown       func(context.Context) error
}

// NewProviders creates a TracerProvider. With a nil writer no exporter is
// attached and spans are dropped; otherwise spans are written to w as JSON.
func NewProviders(w io.Writer, serviceName, version string) (*Providers, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		),
	)
	if err != nil && !errors.Is(err, resource.ErrSchemaURLConflict) {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	if w == nil {
		tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
		return &Providers{TracerProvider: tp, Shutdown: tp.Shutdown}, nil
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	return &Providers{TracerProvider: tp, Shutdown: tp.Shutdown}, nil
}

// SetGlobal installs the tracer provider so otel.Tracer picks it up.
func (p *Providers) SetGlobal() {
	if p.TracerProvider != nil {
		otel.SetTracerProvider(p.TracerProvider)
	}
}
