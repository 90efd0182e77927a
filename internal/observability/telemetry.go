package observability

import (
	"context"
	"errors"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Telemetry owns the SDK providers installed for the process.
type Telemetry struct {
	Tracers *sdktrace.TracerProvider
	Meters  *sdkmetric.MeterProvider
}

// SetupTelemetry installs global meter and tracer providers. Spans are
// exported over OTLP/HTTP only when OTEL_EXPORTER_OTLP_ENDPOINT is set;
// otherwise they are sampled and dropped in process.
func SetupTelemetry(ctx context.Context) (*Telemetry, error) {
	var opts []sdktrace.TracerProviderOption
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		exp, err := otlptracehttp.New(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exp))
	}

	t := &Telemetry{
		Tracers: sdktrace.NewTracerProvider(opts...),
		Meters:  sdkmetric.NewMeterProvider(),
	}
	otel.SetTracerProvider(t.Tracers)
	otel.SetMeterProvider(t.Meters)
	return t, nil
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	return errors.Join(t.Tracers.Shutdown(ctx), t.Meters.Shutdown(ctx))
}
