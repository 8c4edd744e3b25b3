// Package observability sets up the optional OpenTelemetry trace export.
//
// Traces are sent to a local collector agent via OTLP HTTP. The agent
// handles authentication, buffering and forwarding to whatever backend is
// configured, so the service itself never needs backend credentials.
package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultAgentHost is the default OTLP HTTP endpoint of a local agent.
const DefaultAgentHost = "localhost:4318"

const shutdownTimeout = 5 * time.Second

// Config for the OTLP trace exporter.
type Config struct {
	// AgentHost is the collector OTLP HTTP endpoint (default: localhost:4318)
	AgentHost string
	// ServiceName is the service name shown in the tracing backend
	ServiceName string
	// Environment is the deployment environment (dev, staging, prod)
	Environment string
}

// Setup registers a global tracer provider exporting to the local agent.
// Returns a shutdown function that flushes pending spans; exporter
// creation failures disable tracing instead of failing startup.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) func() {
	if logger == nil {
		logger = slog.Default()
	}

	agentHost := cfg.AgentHost
	if agentHost == "" {
		agentHost = DefaultAgentHost
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(agentHost),
		otlptracehttp.WithInsecure(), // localhost doesn't need TLS
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(cfg.ServiceName))}
	if cfg.Environment != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.DeploymentEnvironment(cfg.Environment)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		logger.Warn("building trace resource", "error", err)
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Debug("tracing enabled",
		"agent", agentHost,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}
