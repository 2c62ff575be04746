package wiring

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/agora-run/agora/internal/orchestrator"
	"github.com/agora-run/agora/internal/relay"
	"github.com/agora-run/agora/internal/telemetry"
)

// RegisterLoopMetrics exposes spec.md §3's LoopMetrics counters as OTel
// observable gauges, read on each collection via orc.Metrics(). With the
// no-op meter (AGORA_OTEL_ENDPOINT unset) this is inert — registration
// succeeds but nothing is ever exported.
func RegisterLoopMetrics(meter telemetry.Meter, orc *orchestrator.Orchestrator) error {
	total, err := meter.Int64ObservableGauge("agora.loop.cycles.total")
	if err != nil {
		return fmt.Errorf("wiring: registering cycles.total gauge: %w", err)
	}
	successful, err := meter.Int64ObservableGauge("agora.loop.cycles.successful")
	if err != nil {
		return fmt.Errorf("wiring: registering cycles.successful gauge: %w", err)
	}
	failed, err := meter.Int64ObservableGauge("agora.loop.cycles.failed")
	if err != nil {
		return fmt.Errorf("wiring: registering cycles.failed gauge: %w", err)
	}
	idleConsecutive, err := meter.Int64ObservableGauge("agora.loop.cycles.idle.consecutive")
	if err != nil {
		return fmt.Errorf("wiring: registering cycles.idle.consecutive gauge: %w", err)
	}
	audits, err := meter.Int64ObservableGauge("agora.loop.audits.superego")
	if err != nil {
		return fmt.Errorf("wiring: registering audits.superego gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		m := orc.Metrics()
		o.ObserveInt64(total, int64(m.TotalCycles))
		o.ObserveInt64(successful, int64(m.SuccessfulCycles))
		o.ObserveInt64(failed, int64(m.FailedCycles))
		o.ObserveInt64(idleConsecutive, int64(m.ConsecutiveIdleCycles))
		o.ObserveInt64(audits, int64(m.SuperegoAudits))
		return nil
	}, total, successful, failed, idleConsecutive, audits)
	if err != nil {
		return fmt.Errorf("wiring: registering loop metrics callback: %w", err)
	}
	return nil
}

// RegisterRelayMetrics exposes the relay's WebSocket connection count as an
// observable gauge (agora.relay.ws.connections). Per-envelope
// accepted/dropped counters are a natural follow-up once Server exposes
// running totals; today it only exposes point-in-time hub occupancy.
func RegisterRelayMetrics(meter telemetry.Meter, srv *relay.Server) error {
	connections, err := meter.Int64ObservableGauge("agora.relay.ws.connections")
	if err != nil {
		return fmt.Errorf("wiring: registering relay.ws.connections gauge: %w", err)
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveInt64(connections, int64(srv.Hub().Count()))
		return nil
	}, connections)
	if err != nil {
		return fmt.Errorf("wiring: registering relay metrics callback: %w", err)
	}
	return nil
}
