package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// otelLogger bridges Logger onto an OTel LoggerProvider. Used only when
// AGORA_OTEL_ENDPOINT is set; otherwise callers get the stderr sink so the
// process never blocks startup on a missing collector.
type otelLogger struct {
	level     Level
	component string
	inner     otellog.Logger
	fallback  Logger
}

// NewOTelLogger builds a Logger that exports through otlploghttp to endpoint.
// Entries below level are dropped. Debug, Warn and Error entries are also
// written to a stderr logger at the same level; Info entries are not. An
// exporter construction error is returned to the caller.
func NewOTelLogger(ctx context.Context, endpoint string, level Level) (Logger, func(context.Context) error, error) {
	exp, err := otlploghttp.New(ctx, otlploghttp.WithEndpoint(endpoint), otlploghttp.WithInsecure())
	if err != nil {
		return nil, nil, fmt.Errorf("constructing otlp log exporter: %w", err)
	}
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(exp)))
	lg := &otelLogger{
		level:    level,
		inner:    provider.Logger("agora"),
		fallback: NewStderrLogger(level),
	}
	return lg, provider.Shutdown, nil
}

func (l *otelLogger) With(component string) Logger {
	return &otelLogger{level: l.level, component: component, inner: l.inner, fallback: l.fallback.With(component)}
}

func (l *otelLogger) emit(ctx context.Context, level Level, sev otellog.Severity, msg string, kv []any) {
	if level < l.level {
		return
	}
	var rec otellog.Record
	rec.SetTimestamp(time.Now())
	rec.SetBody(otellog.StringValue(msg))
	rec.SetSeverity(sev)
	if l.component != "" {
		rec.AddAttributes(otellog.String("component", l.component))
	}
	for i := 0; i+1 < len(kv); i += 2 {
		rec.AddAttributes(otellog.String(fmt.Sprint(kv[i]), fmt.Sprint(kv[i+1])))
	}
	l.inner.Emit(ctx, rec)
}

func (l *otelLogger) Debug(msg string, kv ...any) {
	l.emit(context.Background(), LevelDebug, otellog.SeverityDebug, msg, kv)
	l.fallback.Debug(msg, kv...)
}
func (l *otelLogger) Info(msg string, kv ...any) {
	l.emit(context.Background(), LevelInfo, otellog.SeverityInfo, msg, kv)
}
func (l *otelLogger) Warn(msg string, kv ...any) {
	l.emit(context.Background(), LevelWarn, otellog.SeverityWarn, msg, kv)
	l.fallback.Warn(msg, kv...)
}
func (l *otelLogger) Error(msg string, kv ...any) {
	l.emit(context.Background(), LevelError, otellog.SeverityError, msg, kv)
	l.fallback.Error(msg, kv...)
}

// Meter wraps the metrics spec.md §3's LoopMetrics and the relay/scheduler
// counters are recorded through. A no-op meter is used whenever
// AGORA_OTEL_ENDPOINT is unset so metrics export is always optional.
type Meter struct {
	metric.Meter
}

// NewMeter constructs a Meter exporting via otlpmetrichttp to endpoint, or a
// no-op Meter if endpoint is empty.
func NewMeter(ctx context.Context, endpoint string) (Meter, func(context.Context) error, error) {
	if endpoint == "" {
		return Meter{Meter: noop.NewMeterProvider().Meter("agora")}, func(context.Context) error { return nil }, nil
	}
	exp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpoint(endpoint), otlpmetrichttp.WithInsecure())
	if err != nil {
		return Meter{}, nil, fmt.Errorf("constructing otlp metric exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	return Meter{Meter: provider.Meter("agora")}, provider.Shutdown, nil
}

// EndpointFromEnv reads AGORA_OTEL_ENDPOINT, the single on/off switch for
// the OTel export path.
func EndpointFromEnv() string {
	return os.Getenv("AGORA_OTEL_ENDPOINT")
}
