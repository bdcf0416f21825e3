package workers

import (
	"context"
	"log/slog"
	"meet-signal/domain/event"
	"time"
)

// BufferSample is the fill level of one bounded buffer at sampling time.
type BufferSample struct {
	Name     string
	Length   int
	Capacity int
}

// SampleSource lists the buffers to report. It is called once per tick,
// so buffers created or released between ticks are picked up.
type SampleSource func() []BufferSample

// ChannelCapacityWorker reports how full the coordinator's buffers are:
// room queues, connection sinks and the telemetry channel itself.
type ChannelCapacityWorker struct {
	log            *slog.Logger
	source         SampleSource
	telemetryChan  chan<- event.Event
	metricInterval time.Duration
}

func NewChannelCapacityWorker(
	log *slog.Logger,
	source SampleSource,
	telemetryChan chan<- event.Event,
	metricInterval time.Duration,
) *ChannelCapacityWorker {
	return &ChannelCapacityWorker{
		log:            log,
		source:         source,
		telemetryChan:  telemetryChan,
		metricInterval: metricInterval,
	}
}

func (w ChannelCapacityWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping capacity sampling")
			return nil
		case <-ticker.C:
			w.report(ctx, w.source())
		}
	}
}

// report never blocks: a full telemetry channel loses the rest of this round.
func (w ChannelCapacityWorker) report(ctx context.Context, samples []BufferSample) {
	for i, sample := range samples {
		select {
		case <-ctx.Done():
			return
		case w.telemetryChan <- event.Event{
			Type:      event.ChannelCapacityType,
			CreatedAt: time.Now().UTC(),
			Payload: event.ChannelCapacity{
				ChannelName: sample.Name,
				Capacity:    sample.Capacity,
				Length:      sample.Length,
			},
		}:
		default:
			w.log.Debug("Telemetry full, capacity samples lost", "lost", len(samples)-i)
			return
		}
	}
}
