package runtime

import (
	"context"
	"log/slog"
	"meet-signal/contract"
	"meet-signal/domain"
	"meet-signal/domain/event"
	"meet-signal/observability"
	"time"

	"github.com/samber/lo"
)

var _ contract.INotifier = (*Notifier)(nil)

// Notifier pushes domain events to connection sinks.
// A sink that cannot take an event within sinkTimeout loses that event only.
type Notifier struct {
	log         *slog.Logger
	registry    contract.IRegistry
	monitoring  *observability.MonitoringManager
	telemetry   chan<- event.Event
	sinkTimeout time.Duration
}

func NewNotifier(
	log *slog.Logger,
	registry contract.IRegistry,
	monitoring *observability.MonitoringManager,
	telemetry chan<- event.Event,
	sinkTimeout time.Duration,
) *Notifier {
	return &Notifier{
		log:         log,
		registry:    registry,
		monitoring:  monitoring,
		telemetry:   telemetry,
		sinkTimeout: sinkTimeout,
	}
}

// BroadcastToRoom delivers evt to every registered member of the room, except the excluded ones.
func (n *Notifier) BroadcastToRoom(
	ctx context.Context,
	roomID domain.RoomID,
	evt event.DomainEvent,
	exclude ...domain.ConnectionID,
) {
	for conn, sink := range n.registry.SinksForRoom(roomID) {
		if lo.Contains(exclude, conn) {
			continue
		}
		n.deliver(ctx, conn, sink, evt)
	}
}

// NotifyOne returns false when conn is not attached or its sink dropped the event.
func (n *Notifier) NotifyOne(ctx context.Context, conn domain.ConnectionID, evt event.DomainEvent) bool {
	sink, ok := n.registry.Sink(conn)
	if !ok {
		n.log.Debug("no live connection for event", "connection", conn, "event", evt.EventName())
		return false
	}
	return n.deliver(ctx, conn, sink, evt)
}

func (n *Notifier) deliver(
	ctx context.Context,
	conn domain.ConnectionID,
	sink contract.EventSink,
	evt event.DomainEvent,
) bool {
	sinkCtx, cancel := context.WithTimeout(ctx, n.sinkTimeout)
	defer cancel()

	if err := sink.Consume(sinkCtx, evt); err != nil {
		n.log.Warn("event dropped", "connection", conn, "event", evt.EventName(), "error", err)
		n.monitoring.IncrDeliveriesDropped()
		n.publish(event.Event{
			Type:      event.DeliveryDroppedType,
			CreatedAt: time.Now().UTC(),
			Payload: event.DeliveryDropped{
				Connection: conn,
				EventName:  evt.EventName(),
			},
		})
		return false
	}
	return true
}

func (n *Notifier) publish(e event.Event) {
	select {
	case n.telemetry <- e:
	default:
		// Telemetry is best effort, a nil or full channel skips the event
	}
}
