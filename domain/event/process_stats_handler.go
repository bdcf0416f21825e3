package event

import (
	"fmt"
	"log/slog"
	"meet-signal/errors"
)

type ProcessStatsHandler struct {
	log *slog.Logger
}

func NewProcessStatsHandler(log *slog.Logger) *ProcessStatsHandler {
	return &ProcessStatsHandler{log: log}
}

func (h ProcessStatsHandler) Handle(event Event) {
	switch event.Type {
	case ProcessStatsType:
		payload, ok := event.Payload.(ProcessStats)
		if !ok {
			h.log.Error(errors.ErrInvalidPayload.Error())
			return
		}
		h.log.Debug(fmt.Sprintf("[COORDINATOR] PID %d | CPU %.2f%% | RAM %d bytes",
			payload.PID, payload.Cpu, payload.Ram))
	}
}
