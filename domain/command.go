package domain

import "encoding/json"

type CreateRoomCommand struct {
	Identity   string
	AudioOnly  bool
	Connection ConnectionID
}

type JoinRoomCommand struct {
	RoomID     RoomID
	Identity   string
	AudioOnly  bool
	Connection ConnectionID
}

// SignalCommand carries an opaque negotiation payload (SDP offer/answer or ICE candidate).
type SignalCommand struct {
	Target  ConnectionID
	Source  ConnectionID
	Payload json.RawMessage
}

type DirectMessageCommand struct {
	Target   ConnectionID
	Source   ConnectionID
	Content  string
	Identity string
}
