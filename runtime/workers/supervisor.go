package workers

import (
	"context"
	"fmt"
	"log/slog"
	"meet-signal/contract"
	"meet-signal/domain/event"
	"meet-signal/errors"
	"sync"
	"time"
)

// Supervisor owns the lifetime of the long-running background workers.
// A worker that panics or fails is restarted after restartInterval,
// a worker that returns nil is considered done.
type Supervisor struct {
	Cancel          context.CancelFunc // To stop the context
	wg              *sync.WaitGroup    // Wait for the end of goroutines
	log             *slog.Logger
	telemetry       chan<- event.Event
	restartInterval time.Duration
	workers         []contract.Worker
}

func NewSupervisor(log *slog.Logger, telemetry chan<- event.Event, restartInterval time.Duration) *Supervisor {
	return &Supervisor{
		wg:              &sync.WaitGroup{},
		log:             log,
		telemetry:       telemetry,
		restartInterval: restartInterval,
	}
}

// Run blocks until every worker is done.
// Cancelling the parent ctx or calling Stop ends all of them.
func (s *Supervisor) Run(ctx context.Context) {
	supervisedCtx, cancel := context.WithCancel(ctx)
	s.Cancel = cancel
	defer s.Cancel()

	for _, worker := range s.workers {
		s.Start(supervisedCtx, worker)
	}
	s.wg.Wait()
}

func (s *Supervisor) Add(worker ...contract.Worker) contract.ISupervisor {
	s.workers = append(s.workers, worker...)
	return s
}

// Start runs a worker in its own goroutine and restarts it after a crash.
// A failure in one worker never stops the supervisor itself.
func (s *Supervisor) Start(ctx context.Context, worker contract.Worker) {
	s.wg.Add(1)
	workerName := contract.GetWorkerName(worker)

	go func() {
		defer s.wg.Done()

		for {
			if ctx.Err() != nil {
				s.log.Info(fmt.Sprintf("Stopping : %s", workerName))
				return
			}

			err := func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						s.log.Error("Worker panicked", "name", workerName, "panic", r)
						err = errors.ErrWorkerPanic
					}
				}()
				return worker.Run(ctx)
			}()

			if err == nil {
				// Terminated properly, never restart !
				s.log.Info(fmt.Sprintf("Worker finished : %s", workerName))
				return
			}

			if ctx.Err() != nil {
				s.log.Info("Worker stopped (context canceled)", "name", workerName)
				return
			}

			s.log.Warn("Worker crashed, restarting", "name", workerName, "error", err)
			s.reportRestart(workerName)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.restartInterval):
			}
		}
	}()
}

func (s *Supervisor) reportRestart(workerName string) {
	select {
	case s.telemetry <- event.Event{
		Type:      event.RestartedAfterPanicType,
		CreatedAt: time.Now().UTC(),
		Payload:   event.WorkerRestartedAfterPanic{WorkerName: workerName},
	}:
	default:
	}
}

// Stop cancels every supervised worker. Run returns once they are all gone.
func (s *Supervisor) Stop() {
	if s.Cancel != nil {
		s.Cancel()
	}
}
