// Package domain contains core concepts of the signaling system.
// This file defines Participant entities and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import "github.com/google/uuid"

// ConnectionID is the opaque handle of a live client connection.
// Handles are random per session and act as the only addressing scheme for relays.
type ConnectionID string

type ParticipantID string

// Participant is the membership record of one connection inside one room.
// A participant never outlives its connection.
type Participant struct {
	ID           ParticipantID `msgpack:"id" json:"id"`
	Identity     string        `msgpack:"identity" json:"identity"`
	ConnectionID ConnectionID  `msgpack:"connection_id" json:"connectionHandle"`
	RoomID       RoomID        `msgpack:"room_id" json:"roomId"`
	AudioOnly    bool          `msgpack:"audio_only" json:"audioOnly"`
}

func NewParticipant(identity string, roomID RoomID, conn ConnectionID, audioOnly bool) Participant {
	return Participant{
		ID:           ParticipantID(uuid.NewString()),
		Identity:     identity,
		ConnectionID: conn,
		RoomID:       roomID,
		AudioOnly:    audioOnly,
	}
}

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}
