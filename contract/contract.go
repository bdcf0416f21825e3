//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"meet-signal/domain"
	"meet-signal/domain/event"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink is the outbound side of one live connection.
// Consume must not block longer than ctx allows.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// IRegistry is the Connection Registry: live connections and the participant bound to each.
type IRegistry interface {
	Attach(conn domain.ConnectionID, sink EventSink)
	Detach(conn domain.ConnectionID)
	Attached(conn domain.ConnectionID) bool
	Register(conn domain.ConnectionID, participant domain.Participant)
	Lookup(conn domain.ConnectionID) (domain.Participant, bool)
	Unregister(conn domain.ConnectionID)
	Sink(conn domain.ConnectionID) (EventSink, bool)
	SinksForRoom(roomID domain.RoomID) map[domain.ConnectionID]EventSink
}

type INotifier interface {
	BroadcastToRoom(ctx context.Context, roomID domain.RoomID, evt event.DomainEvent, exclude ...domain.ConnectionID)
	NotifyOne(ctx context.Context, conn domain.ConnectionID, evt event.DomainEvent) bool
}

// ICoordinator is everything a transport needs to drive sessions.
type ICoordinator interface {
	Connect(conn domain.ConnectionID, sink EventSink)
	Disconnect(ctx context.Context, conn domain.ConnectionID) error
	CreateRoom(ctx context.Context, cmd domain.CreateRoomCommand) (domain.RoomID, error)
	JoinRoom(ctx context.Context, cmd domain.JoinRoomCommand) error
	Leave(ctx context.Context, conn domain.ConnectionID) error
	RoomStatus(ctx context.Context, roomID domain.RoomID) (exists bool, full bool, err error)
	RelaySignal(ctx context.Context, cmd domain.SignalCommand)
	RelayInit(ctx context.Context, target, source domain.ConnectionID)
	RelayDirectMessage(ctx context.Context, cmd domain.DirectMessageCommand)
}
