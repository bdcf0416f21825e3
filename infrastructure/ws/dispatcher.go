package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"meet-signal/contract"
	"meet-signal/domain"
	"meet-signal/errors"

	"github.com/go-playground/validator/v10"
)

// Dispatcher turns inbound frames of one connection into coordinator calls.
type Dispatcher struct {
	log         *slog.Logger
	coordinator contract.ICoordinator
	validator   *validator.Validate
}

func NewDispatcher(log *slog.Logger, coordinator contract.ICoordinator) *Dispatcher {
	return &Dispatcher{
		log:         log,
		coordinator: coordinator,
		validator:   validator.New(),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, conn domain.ConnectionID, msg Message) error {
	if err := d.validator.Struct(msg); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}

	switch msg.Event {
	case CreateRoomEvent:
		var payload CreateRoomPayload
		if err := d.decode(msg.Data, &payload); err != nil {
			return err
		}
		roomID, err := d.coordinator.CreateRoom(ctx, domain.CreateRoomCommand{
			Identity:   payload.Identity,
			AudioOnly:  payload.AudioOnly,
			Connection: conn,
		})
		if err != nil {
			return err
		}
		d.log.Debug(fmt.Sprintf("Connection %s created room %s", conn, roomID))
		return nil

	case JoinRoomEvent:
		var payload JoinRoomPayload
		if err := d.decode(msg.Data, &payload); err != nil {
			return err
		}
		return d.coordinator.JoinRoom(ctx, domain.JoinRoomCommand{
			RoomID:     domain.RoomID(payload.RoomID),
			Identity:   payload.Identity,
			AudioOnly:  payload.AudioOnly,
			Connection: conn,
		})

	case SignalEvent:
		var payload SignalPayload
		if err := d.decode(msg.Data, &payload); err != nil {
			return err
		}
		d.coordinator.RelaySignal(ctx, domain.SignalCommand{
			Target:  domain.ConnectionID(payload.Target),
			Source:  conn,
			Payload: payload.Payload,
		})
		return nil

	case InitEvent:
		var payload InitPayload
		if err := d.decode(msg.Data, &payload); err != nil {
			return err
		}
		d.coordinator.RelayInit(ctx, domain.ConnectionID(payload.Target), conn)
		return nil

	case DirectMessageEvent:
		var payload DirectMessagePayload
		if err := d.decode(msg.Data, &payload); err != nil {
			return err
		}
		d.coordinator.RelayDirectMessage(ctx, domain.DirectMessageCommand{
			Target:   domain.ConnectionID(payload.Target),
			Source:   conn,
			Content:  payload.Content,
			Identity: payload.Identity,
		})
		return nil

	default:
		return fmt.Errorf("%w: %q", errors.ErrUnknownEvent, msg.Event)
	}
}

func (d *Dispatcher) decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", errors.ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	if err := d.validator.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}
	return nil
}
