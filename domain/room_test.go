package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoom_Join_DoesNotMutateSnapshot(t *testing.T) {
	req := require.New(t)
	roomID := NewRoomID()
	alice := NewParticipant("Alice", roomID, "conn-a", false)
	bob := NewParticipant("Bob", roomID, "conn-b", true)
	room := NewRoom(roomID, alice)

	members := room.Join(bob)

	req.Len(members, 2)
	req.Len(room.Members, 1)
	req.Equal(alice, members[0])
	req.Equal(bob, members[1])
}

func TestRoom_Without_RemovesOnlyTheLeavingConnection(t *testing.T) {
	req := require.New(t)
	roomID := NewRoomID()
	alice := NewParticipant("Alice", roomID, "conn-a", false)
	bob := NewParticipant("Bob", roomID, "conn-b", false)
	room := Room{ID: roomID, Members: []Participant{alice, bob}}

	req.Equal([]Participant{bob}, room.Without("conn-a"))
	req.Empty(Room{ID: roomID, Members: []Participant{alice}}.Without("conn-a"))
	req.Len(room.Without("unknown"), 2)
}

func TestRoom_Others(t *testing.T) {
	roomID := NewRoomID()
	room := Room{ID: roomID, Members: []Participant{
		NewParticipant("Alice", roomID, "conn-a", false),
		NewParticipant("Bob", roomID, "conn-b", false),
		NewParticipant("Clara", roomID, "conn-c", false),
	}}

	require.Equal(t, []ConnectionID{"conn-a", "conn-c"}, room.Others("conn-b"))
}

func TestRoom_Full(t *testing.T) {
	req := require.New(t)
	roomID := NewRoomID()
	room := NewRoom(roomID, NewParticipant("p0", roomID, "c0", false))

	for i := 1; i < RoomCapacity; i++ {
		req.False(room.Full())
		room.Members = room.Join(NewParticipant("p", roomID, NewConnectionID(), false))
	}
	// Given the room reached its capacity
	req.Len(room.Members, RoomCapacity)
	req.True(room.Full())
	req.True(room.Has("c0"))
}

func TestCapacityPolicy_Valid(t *testing.T) {
	require.True(t, AdmitOverCapacity.Valid())
	require.True(t, RejectOverCapacity.Valid())
	require.False(t, CapacityPolicy("maybe").Valid())
}
