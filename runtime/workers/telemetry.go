package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"

	"room-relay/observability"
	"room-relay/runtime"
)

// TelemetryWorker periodically logs relay counters together with the
// process's own memory and CPU footprint.
type TelemetryWorker struct {
	log      *slog.Logger
	registry *runtime.Registry
	monitor  *observability.Monitor
	interval time.Duration
}

func NewTelemetryWorker(
	log *slog.Logger,
	registry *runtime.Registry,
	monitor *observability.Monitor,
	interval time.Duration,
) *TelemetryWorker {
	return &TelemetryWorker{log: log, registry: registry, monitor: monitor, interval: interval}
}

func (w *TelemetryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping telemetry")
			return nil
		case <-ticker.C:
			rss, cpu, err := selfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			rooms, clients := w.registry.Counts()
			stats := w.monitor.Snapshot()
			w.log.Info("Relay stats",
				"rooms", rooms,
				"clients", clients,
				"relayed", stats.Relayed,
				"delivered", stats.Delivered,
				"delivery_failures", stats.DeliveryFailures,
				"rss_mb", rss/1024/1024,
				"cpu_percent", cpu,
			)
		}
	}
}

// selfStats retrieves memory and CPU metrics for the given process.
func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpu, nil
}
