package sink

import (
	"context"
	"fmt"
	"meet-signal/contract"
	"meet-signal/domain/event"
	"meet-signal/errors"
	"sync"
)

var _ contract.EventSink = (*ConnectionSink)(nil)

// ConnectionSink buffers the outbound events of one connection.
// The transport write loop drains Events in FIFO order.
type ConnectionSink struct {
	Events chan event.DomainEvent
	done   chan struct{}
	once   sync.Once
}

func NewConnectionSink(bufferSize int) *ConnectionSink {
	return &ConnectionSink{
		Events: make(chan event.DomainEvent, bufferSize),
		done:   make(chan struct{}),
	}
}

// Consume waits for room in the buffer until ctx is done.
// A closed sink refuses the event right away.
func (s *ConnectionSink) Consume(ctx context.Context, e event.DomainEvent) error {
	select {
	case <-s.done:
		return errors.ErrSinkClosed
	default:
	}
	select {
	case s.Events <- e:
		return nil
	case <-s.done:
		return errors.ErrSinkClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", errors.ErrSinkFull, ctx.Err())
	}
}

// Backlog reports the events not yet written to the connection.
func (s *ConnectionSink) Backlog() (length, capacity int) {
	return len(s.Events), cap(s.Events)
}

// Done is closed once the connection is gone
func (s *ConnectionSink) Done() <-chan struct{} {
	return s.done
}

func (s *ConnectionSink) Close() {
	s.once.Do(func() { close(s.done) })
}
