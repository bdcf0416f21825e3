// Package event defines what the coordinator pushes to connections (DomainEvent)
// and what it reports about itself (Event, technical telemetry).
package event

import (
	"encoding/json"
	"meet-signal/domain"
)

const (
	RoomIDName           = "room-id"
	RoomUpdateName       = "room-update"
	PrepareIncomingName  = "prepare-incoming"
	UserDisconnectedName = "user-disconnected"
	SignalName           = "signal"
	InitName             = "init"
	DirectMessageName    = "direct-message"
)

// DomainEvent is an outbound notification addressed to one or more connections.
type DomainEvent interface {
	EventName() string
}

type RoomIDAssigned struct {
	RoomID domain.RoomID `json:"roomId"`
}

func (RoomIDAssigned) EventName() string { return RoomIDName }

// RoomUpdated always carries the full membership list.
type RoomUpdated struct {
	Members []domain.Participant `json:"members"`
}

func (RoomUpdated) EventName() string { return RoomUpdateName }

// PrepareIncoming tells an existing member that a new peer is joining
// and that it should get ready to negotiate with it.
type PrepareIncoming struct {
	From domain.ConnectionID `json:"fromConnectionHandle"`
}

func (PrepareIncoming) EventName() string { return PrepareIncomingName }

type UserDisconnected struct {
	Connection domain.ConnectionID `json:"connectionHandle"`
}

func (UserDisconnected) EventName() string { return UserDisconnectedName }

type SignalRelayed struct {
	Payload json.RawMessage     `json:"payload"`
	From    domain.ConnectionID `json:"fromConnectionHandle"`
}

func (SignalRelayed) EventName() string { return SignalName }

type InitRelayed struct {
	From domain.ConnectionID `json:"fromConnectionHandle"`
}

func (InitRelayed) EventName() string { return InitName }

// DirectMessage is delivered twice: to the receiver with IsAuthor=false (From set)
// and echoed to the author with IsAuthor=true (To set).
type DirectMessage struct {
	Content  string              `json:"content"`
	Identity string              `json:"identity"`
	IsAuthor bool                `json:"isAuthor"`
	From     domain.ConnectionID `json:"fromConnectionHandle,omitempty"`
	To       domain.ConnectionID `json:"toConnectionHandle,omitempty"`
}

func (DirectMessage) EventName() string { return DirectMessageName }
