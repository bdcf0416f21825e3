package workers

import (
	"context"
	"log/slog"
	"meet-signal/domain"
	"meet-signal/errors"
)

// RoomOp is one mutation of a room, executed with exclusive access to it.
type RoomOp func(ctx context.Context) error

type roomTask struct {
	op   RoomOp
	done chan error
}

// RoomWorker executes the operations of one room one at a time, in submission order.
// Every task accepted by the queue runs to completion, whoever submitted it.
type RoomWorker struct {
	roomID domain.RoomID
	tasks  chan roomTask
	log    *slog.Logger
}

func NewRoomWorker(roomID domain.RoomID, queueSize int, log *slog.Logger) *RoomWorker {
	return &RoomWorker{
		roomID: roomID,
		tasks:  make(chan roomTask, queueSize),
		log:    log.With("room", roomID),
	}
}

// Run returns when the queue is closed or ctx is done.
func (w *RoomWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping room worker")
			return ctx.Err()
		case task, ok := <-w.tasks:
			if !ok {
				return nil
			}
			task.done <- w.execute(ctx, task.op)
		}
	}
}

func (w *RoomWorker) execute(ctx context.Context, op RoomOp) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Room operation panicked", "panic", r)
			err = errors.ErrWorkerPanic
		}
	}()
	return op(ctx)
}

// Do enqueues op and waits for its result.
// Only lifetime ends the wait early, once enqueued an operation is never abandoned.
func (w *RoomWorker) Do(lifetime context.Context, op RoomOp) error {
	task := roomTask{op: op, done: make(chan error, 1)}
	select {
	case w.tasks <- task:
	case <-lifetime.Done():
		return errors.ErrCoordinatorStopped
	}
	select {
	case err := <-task.done:
		return err
	case <-lifetime.Done():
		return errors.ErrCoordinatorStopped
	}
}

// Backlog reports the queued operations not yet started.
func (w *RoomWorker) Backlog() (length, capacity int) {
	return len(w.tasks), cap(w.tasks)
}

// Close stops accepting tasks. The caller guarantees no Do is in flight.
func (w *RoomWorker) Close() {
	close(w.tasks)
}
