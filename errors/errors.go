package errors

import "fmt"

var (
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrInvalidPayload     = fmt.Errorf("invalid payload")
	ErrUnknownEvent       = fmt.Errorf("unknown event")
	ErrRoomNotFound       = fmt.Errorf("room not found")
	ErrRoomFull           = fmt.Errorf("room is full")
	ErrAlreadyJoined      = fmt.Errorf("connection already joined a room")
	ErrStoreUnavailable   = fmt.Errorf("room store unavailable")
	ErrCoordinatorStopped = fmt.Errorf("coordinator stopped")
	ErrTurnNotConfigured  = fmt.Errorf("turn credentials not configured")
	ErrConnectionClosed   = fmt.Errorf("connection closed")
	ErrSinkFull           = fmt.Errorf("sink buffer full")
	ErrSinkClosed         = fmt.Errorf("sink closed")
)
