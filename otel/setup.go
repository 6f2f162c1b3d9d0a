package otel

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/finagent/agent"
	"github.com/petal-labs/finagent/tool"
)

// SetupConfig configures the process telemetry providers.
type SetupConfig struct {
	ServiceName string
	// OTLPEndpoint is an OTLP/HTTP base URL. Empty keeps spans in-process.
	OTLPEndpoint string
	// MetricReaders are attached to the meter provider. Tests pass a
	// ManualReader.
	MetricReaders []sdkmetric.Reader
}

// Telemetry holds the installed providers and the instruments built on them.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracing        *TracingHandler
	Metrics        *AgentMetrics
	ToolObserver   *ToolObserver
}

// Setup installs SDK tracer and meter providers as the process globals,
// registers a ToolObserver with the tool package and builds the agent event
// handlers. Call Shutdown to flush and restore the defaults.
func Setup(ctx context.Context, cfg SetupConfig) (*Telemetry, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "finagent"
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return nil, tool.Wrap(tool.KindAssembly, err, fmt.Sprintf("creating OTLP trace exporter: %v", err))
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, reader := range cfg.MetricReaders {
		meterOpts = append(meterOpts, sdkmetric.WithReader(reader))
	}
	mp := sdkmetric.NewMeterProvider(meterOpts...)

	t, err := newTelemetry(mp.Meter("finagent"), tp.Tracer("finagent"))
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, err
	}
	t.TracerProvider = tp
	t.MeterProvider = mp

	otelapi.SetTracerProvider(tp)
	otelapi.SetMeterProvider(mp)
	tool.SetObserver(t.ToolObserver)
	return t, nil
}

func newTelemetry(meter metric.Meter, tracer trace.Tracer) (*Telemetry, error) {
	observer, err := NewToolObserver(meter, tracer)
	if err != nil {
		return nil, fmt.Errorf("initializing tool observability: %w", err)
	}
	metrics, err := NewAgentMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("initializing agent metrics: %w", err)
	}
	return &Telemetry{
		Tracing:      NewTracingHandler(tracer),
		Metrics:      metrics,
		ToolObserver: observer,
	}, nil
}

// Shutdown flushes pending telemetry and detaches the tool observer.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil {
		return nil
	}
	tool.SetObserver(nil)
	var errs []error
	if t.TracerProvider != nil {
		errs = append(errs, t.TracerProvider.Shutdown(ctx))
	}
	if t.MeterProvider != nil {
		errs = append(errs, t.MeterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Instrument routes a turn's events through the tracing and metrics
// handlers.
func (t *Telemetry) Instrument(seq iter.Seq2[agent.Event, error]) iter.Seq2[agent.Event, error] {
	if t == nil {
		return seq
	}
	return Instrument(seq, t.Tracing, t.Metrics)
}
