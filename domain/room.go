package domain

import (
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// RoomCapacity is the number of members above which a room reports itself full.
const RoomCapacity = 4

type RoomID string

func NewRoomID() RoomID {
	return RoomID(uuid.NewString())
}

// Room holds snapshots of its members, not live references.
// A room with zero members must never be persisted.
type Room struct {
	ID      RoomID        `msgpack:"id"`
	Members []Participant `msgpack:"members"`
}

func NewRoom(id RoomID, creator Participant) Room {
	return Room{ID: id, Members: []Participant{creator}}
}

// Full reports whether the room reached RoomCapacity.
func (r Room) Full() bool {
	return len(r.Members) >= RoomCapacity
}

func (r Room) Has(conn ConnectionID) bool {
	return lo.ContainsBy(r.Members, func(p Participant) bool {
		return p.ConnectionID == conn
	})
}

// Join returns the membership with p appended. The receiver is left untouched.
func (r Room) Join(p Participant) []Participant {
	members := make([]Participant, 0, len(r.Members)+1)
	members = append(members, r.Members...)
	return append(members, p)
}

// Without returns every member except the one bound to conn.
func (r Room) Without(conn ConnectionID) []Participant {
	return lo.Reject(r.Members, func(p Participant, _ int) bool {
		return p.ConnectionID == conn
	})
}

// Others returns the connections of every member except conn.
func (r Room) Others(conn ConnectionID) []ConnectionID {
	return lo.FilterMap(r.Members, func(p Participant, _ int) (ConnectionID, bool) {
		return p.ConnectionID, p.ConnectionID != conn
	})
}

// CapacityPolicy decides what a join does when the room is already full.
type CapacityPolicy string

const (
	// AdmitOverCapacity keeps capacity advisory: full rooms are reported but joins still succeed.
	AdmitOverCapacity CapacityPolicy = "admit"
	// RejectOverCapacity refuses joins into a full room.
	RejectOverCapacity CapacityPolicy = "reject"
)

func (p CapacityPolicy) Valid() bool {
	return p == AdmitOverCapacity || p == RejectOverCapacity
}
