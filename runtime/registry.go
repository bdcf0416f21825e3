package runtime

import (
	"meet-signal/contract"
	"meet-signal/domain"
	"sync"
)

type Set map[domain.ConnectionID]struct{}

var _ contract.IRegistry = (*Registry)(nil)

// Registry is the Connection Registry. It maps live connection handles to their sink
// and to the participant they currently represent. Nothing here is persisted.
type Registry struct {
	mu           sync.RWMutex
	sessions     map[domain.ConnectionID]contract.EventSink // map connection -> Sink
	participants map[domain.ConnectionID]domain.Participant // map connection -> Participant
	roomMembers  map[domain.RoomID]Set                      // map room to connections
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:     make(map[domain.ConnectionID]contract.EventSink),
		participants: make(map[domain.ConnectionID]domain.Participant),
		roomMembers:  make(map[domain.RoomID]Set),
	}
}

// Attach records a freshly opened connection. It has no participant yet.
func (r *Registry) Attach(conn domain.ConnectionID, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[conn] = sink
}

// Detach forgets a closed connection and whatever participant it still carried.
func (r *Registry) Detach(conn domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, conn)
	r.unregisterLocked(conn)
}

func (r *Registry) Attached(conn domain.ConnectionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[conn]
	return ok
}

// Register binds a participant to a connection and indexes it under its room.
// Registering the same handle again replaces the previous binding.
func (r *Registry) Register(conn domain.ConnectionID, participant domain.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unregisterLocked(conn)
	r.participants[conn] = participant
	if _, ok := r.roomMembers[participant.RoomID]; !ok {
		r.roomMembers[participant.RoomID] = make(Set)
	}
	r.roomMembers[participant.RoomID][conn] = struct{}{}
}

func (r *Registry) Lookup(conn domain.ConnectionID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[conn]
	return p, ok
}

// Unregister removes the participant bound to conn. The connection itself stays attached.
func (r *Registry) Unregister(conn domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(conn)
}

func (r *Registry) unregisterLocked(conn domain.ConnectionID) {
	participant, ok := r.participants[conn]
	if !ok {
		return
	}
	delete(r.participants, conn)
	if members, ok := r.roomMembers[participant.RoomID]; ok {
		delete(members, conn)

		// If no one is left in the room, remove the room entry entirely
		if len(members) == 0 {
			delete(r.roomMembers, participant.RoomID)
		}
	}
}

func (r *Registry) Sink(conn domain.ConnectionID) (contract.EventSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sink, ok := r.sessions[conn]
	return sink, ok
}

// SinksForRoom resolves every registered member of a room into its live sink.
// Returns nil if the room has no registered member.
func (r *Registry) SinksForRoom(roomID domain.RoomID) map[domain.ConnectionID]contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.roomMembers[roomID]
	if !ok {
		return nil
	}
	activeSinks := make(map[domain.ConnectionID]contract.EventSink, len(members))
	for conn := range members {
		if sink, exists := r.sessions[conn]; exists {
			activeSinks[conn] = sink
		}
	}
	return activeSinks
}

// Sessions is a snapshot of every attached connection, with or without a participant.
func (r *Registry) Sessions() map[domain.ConnectionID]contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make(map[domain.ConnectionID]contract.EventSink, len(r.sessions))
	for conn, sink := range r.sessions {
		sessions[conn] = sink
	}
	return sessions
}

func (r *Registry) Counts() (connections, participants, rooms int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), len(r.participants), len(r.roomMembers)
}
