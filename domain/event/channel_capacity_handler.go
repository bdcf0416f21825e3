package event

import (
	"fmt"
	"log/slog"
	"meet-signal/errors"
)

// ChannelCapacityHandler watches the fill level of internal channels
// and warns when a buffered channel is close to saturation.
type ChannelCapacityHandler struct {
	log                  *slog.Logger
	lowCapacityThreshold int
}

func NewChannelCapacityHandler(log *slog.Logger, lowCapacityThreshold int) *ChannelCapacityHandler {
	return &ChannelCapacityHandler{log: log, lowCapacityThreshold: lowCapacityThreshold}
}

func (h ChannelCapacityHandler) Handle(event Event) {
	switch event.Type {
	case ChannelCapacityType:
		payload, ok := event.Payload.(ChannelCapacity)
		if !ok {
			h.log.Error(errors.ErrInvalidPayload.Error())
			return
		}
		h.log.Debug(fmt.Sprintf("Channel %s usage: %d / %d", payload.ChannelName, payload.Length, payload.Capacity))
		if payload.Capacity <= 0 {
			// In case of unbuffered channel
			return
		}
		// Small buffers warn at a quarter of their capacity
		limit := min(h.lowCapacityThreshold, payload.Capacity/4)
		capacityLeft := payload.Capacity - payload.Length
		if capacityLeft <= limit {
			h.log.Warn(fmt.Sprintf("Channel %s capacity left : %d", payload.ChannelName, capacityLeft))
		}
	}
}
