package ws

import "encoding/json"

// Inbound event names
const (
	CreateRoomEvent    = "create-room"
	JoinRoomEvent      = "join-room"
	SignalEvent        = "signal"
	InitEvent          = "init"
	DirectMessageEvent = "direct-message"
)

// Message is the envelope of every frame, in both directions.
type Message struct {
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type CreateRoomPayload struct {
	Identity  string `json:"identity" validate:"required,max=64"`
	AudioOnly bool   `json:"audioOnly"`
}

type JoinRoomPayload struct {
	RoomID    string `json:"roomId" validate:"required,max=64"`
	Identity  string `json:"identity" validate:"required,max=64"`
	AudioOnly bool   `json:"audioOnly"`
}

type SignalPayload struct {
	Target  string          `json:"targetConnectionHandle" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

type InitPayload struct {
	Target string `json:"targetConnectionHandle" validate:"required"`
}

type DirectMessagePayload struct {
	Target   string `json:"targetConnectionHandle" validate:"required"`
	Content  string `json:"content" validate:"required,max=4096"`
	Identity string `json:"identity" validate:"max=64"`
}
