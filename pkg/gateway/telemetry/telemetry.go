// Package telemetry sets up the gateway's OpenTelemetry metrics.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Metrics holds the gateway's instrument handles. A zero Metrics is a no-op.
type Metrics struct {
	requests metric.Int64Counter
	tools    metric.Int64Counter
	minted   metric.Int64Counter
}

// Init wires a periodic stdout metrics exporter and returns the gateway
// instruments plus a shutdown func. interval <= 0 disables export and
// returns no-op instruments.
func Init(ctx context.Context, w io.Writer, interval time.Duration) (*Metrics, func(), error) {
	if interval <= 0 {
		return &Metrics{}, func() {}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName("vocalis-gateway"),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, nil, fmt.Errorf("create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("vocalis-gateway")
	m := &Metrics{}
	if m.requests, err = meter.Int64Counter("gateway.requests"); err != nil {
		return nil, nil, fmt.Errorf("create counter: %w", err)
	}
	if m.tools, err = meter.Int64Counter("gateway.tool_executions"); err != nil {
		return nil, nil, fmt.Errorf("create counter: %w", err)
	}
	if m.minted, err = meter.Int64Counter("gateway.credentials_minted"); err != nil {
		return nil, nil, fmt.Errorf("create counter: %w", err)
	}

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mp.Shutdown(ctx)
	}
	return m, shutdown, nil
}

func (m *Metrics) Request(ctx context.Context, route string) {
	if m == nil || m.requests == nil {
		return
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

func (m *Metrics) Tool(ctx context.Context, name string, ok bool) {
	if m == nil || m.tools == nil {
		return
	}
	m.tools.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", name),
		attribute.Bool("ok", ok),
	))
}

func (m *Metrics) Minted(ctx context.Context) {
	if m == nil || m.minted == nil {
		return
	}
	m.minted.Add(ctx, 1)
}
