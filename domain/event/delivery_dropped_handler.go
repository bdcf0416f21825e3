package event

import (
	"fmt"
	"log/slog"
	"meet-signal/errors"
)

// DeliveryDroppedHandler reports outbound events lost because a connection could not keep up.
// Delivery is at-most-once, a drop is never retried.
type DeliveryDroppedHandler struct {
	log     *slog.Logger
	counter *Counter
}

func NewDeliveryDroppedHandler(log *slog.Logger, counter *Counter) *DeliveryDroppedHandler {
	return &DeliveryDroppedHandler{log: log, counter: counter}
}

func (h *DeliveryDroppedHandler) Handle(event Event) {
	switch event.Type {
	case DeliveryDroppedType:
		payload, ok := event.Payload.(DeliveryDropped)
		if !ok {
			h.log.Error(errors.ErrInvalidPayload.Error())
			return
		}
		h.counter.Increment(DeliveryDroppedType)
		h.log.Debug(fmt.Sprintf("Event %s dropped for connection %s", payload.EventName, payload.Connection))
	}
}
