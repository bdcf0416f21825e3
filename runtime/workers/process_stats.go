package workers

import (
	"context"
	"log/slog"
	"meet-signal/domain/event"
	"meet-signal/observability"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// ProcessStatsWorker samples CPU and RSS of the coordinator process.
type ProcessStatsWorker struct {
	log            *slog.Logger
	monitoring     *observability.MonitoringManager
	telemetryChan  chan<- event.Event
	metricInterval time.Duration
}

func NewProcessStatsWorker(
	log *slog.Logger,
	monitoring *observability.MonitoringManager,
	telemetryChan chan<- event.Event,
	metricInterval time.Duration,
) *ProcessStatsWorker {
	return &ProcessStatsWorker{
		log:            log,
		monitoring:     monitoring,
		telemetryChan:  telemetryChan,
		metricInterval: metricInterval,
	}
}

func (w *ProcessStatsWorker) Run(ctx context.Context) error {
	pid := int32(os.Getpid())
	p, err := process.NewProcess(pid)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rss, cpu, err := getSelfStats(p)
			if err != nil {
				w.log.Error("Failed to collect self stats", "err", err)
				continue
			}
			w.monitoring.SetProcessStats(cpu, rss)

			select {
			case w.telemetryChan <- event.Event{
				Type:      event.ProcessStatsType,
				CreatedAt: time.Now().UTC(),
				Payload:   event.ProcessStats{PID: pid, Cpu: cpu, Ram: rss},
			}:
			default:
				w.log.Debug("Telemetry event lost")
			}
		}
	}
}

// getSelfStats retrieves memory and CPU usage for the given process.
func getSelfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
