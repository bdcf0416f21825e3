package ws

import (
	"context"
	"errors"
	"log/slog"
	"meet-signal/contract"
	"meet-signal/domain"
	serr "meet-signal/errors"
	"meet-signal/sink"
	"net/http"

	"github.com/gorilla/websocket"
)

// Server upgrades HTTP requests and runs one Client per connection.
type Server struct {
	log            *slog.Logger
	coordinator    contract.ICoordinator
	dispatcher     *Dispatcher
	upgrader       websocket.Upgrader
	bufferSize     int
	maxMessageSize int64
}

func NewServer(log *slog.Logger, coordinator contract.ICoordinator, bufferSize int, maxMessageSize int64) *Server {
	return &Server{
		log:         log,
		coordinator: coordinator,
		dispatcher:  NewDispatcher(log, coordinator),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			// Any origin is accepted
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		bufferSize:     bufferSize,
		maxMessageSize: maxMessageSize,
	}
}

// ServeHTTP blocks for the lifetime of the connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Failed to upgrade connection", "error", err)
		return
	}

	id := domain.NewConnectionID()
	connSink := sink.NewConnectionSink(s.bufferSize)
	client := NewClient(conn, id, connSink, s.log, s.maxMessageSize)

	s.coordinator.Connect(id, connSink)
	go client.WritePump()

	// Operations must survive the request context once the connection is hijacked
	ctx := context.WithoutCancel(r.Context())
	client.ReadPump(func(msg Message) {
		s.handle(ctx, id, msg)
	})

	if err := s.coordinator.Disconnect(ctx, id); err != nil {
		s.log.Error("Disconnect failed", "connection", id, "error", err)
	}
	connSink.Close()
}

func (s *Server) handle(ctx context.Context, id domain.ConnectionID, msg Message) {
	err := s.dispatcher.Dispatch(ctx, id, msg)
	switch {
	case err == nil:
	case errors.Is(err, serr.ErrInvalidPayload), errors.Is(err, serr.ErrUnknownEvent):
		s.log.Warn("Inbound event rejected", "connection", id, "event", msg.Event, "error", err)
	case errors.Is(err, serr.ErrRoomFull), errors.Is(err, serr.ErrAlreadyJoined), errors.Is(err, serr.ErrConnectionClosed):
		s.log.Info("Inbound event refused", "connection", id, "event", msg.Event, "error", err)
	default:
		s.log.Error("Inbound event failed", "connection", id, "event", msg.Event, "error", err)
	}
}
