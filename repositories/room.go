//go:generate go run go.uber.org/mock/mockgen -source=room.go -destination=../mocks/mock_room_repository.go -package=mocks
package repositories

import (
	"errors"
	"fmt"
	"log/slog"
	"meet-signal/domain"
	serr "meet-signal/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	roomPrefix        = "room:"
	participantPrefix = "participant:"
)

// IRoomRepository is the durable mirror of rooms and participants.
// The in-memory registry stays the source of truth for liveness.
type IRoomRepository interface {
	ListRooms() ([]domain.Room, error)
	FindRoom(roomID domain.RoomID) (domain.Room, error)
	InsertRoom(room domain.Room) error
	UpdateRoomMembers(roomID domain.RoomID, members []domain.Participant) error
	DeleteRoom(roomID domain.RoomID) error
	ListParticipants() ([]domain.Participant, error)
	InsertParticipant(participant domain.Participant) error
	DeleteParticipant(conn domain.ConnectionID) error
}

type RoomRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewRoomRepository(db *badger.DB, log *slog.Logger) *RoomRepository {
	return &RoomRepository{db: db, log: log}
}

func roomKey(roomID domain.RoomID) []byte {
	return []byte(roomPrefix + string(roomID))
}

func participantKey(conn domain.ConnectionID) []byte {
	return []byte(participantPrefix + string(conn))
}

func (r RoomRepository) ListRooms() ([]domain.Room, error) {
	var rooms []domain.Room
	err := scan(r.db, []byte(roomPrefix), func(value []byte) error {
		var room domain.Room
		if err := msgpack.Unmarshal(value, &room); err != nil {
			return err
		}
		rooms = append(rooms, room)
		return nil
	})
	if err != nil {
		return nil, unavailable("list rooms", err)
	}
	return rooms, nil
}

// FindRoom returns serr.ErrRoomNotFound when no record exists for roomID.
func (r RoomRepository) FindRoom(roomID domain.RoomID) (domain.Room, error) {
	var room domain.Room
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(roomKey(roomID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &room)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Room{}, serr.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, unavailable("find room", err)
	}
	return room, nil
}

func (r RoomRepository) InsertRoom(room domain.Room) error {
	if err := set(r.db, roomKey(room.ID), room); err != nil {
		return unavailable("insert room", err)
	}
	return nil
}

// UpdateRoomMembers overwrites the member list of an existing room.
func (r RoomRepository) UpdateRoomMembers(roomID domain.RoomID, members []domain.Participant) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(roomKey(roomID)); err != nil {
			return err
		}
		bytes, err := msgpack.Marshal(domain.Room{ID: roomID, Members: members})
		if err != nil {
			return err
		}
		return txn.Set(roomKey(roomID), bytes)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return serr.ErrRoomNotFound
	}
	if err != nil {
		return unavailable("update room members", err)
	}
	return nil
}

func (r RoomRepository) DeleteRoom(roomID domain.RoomID) error {
	if err := del(r.db, roomKey(roomID)); err != nil {
		return unavailable("delete room", err)
	}
	return nil
}

func (r RoomRepository) ListParticipants() ([]domain.Participant, error) {
	var participants []domain.Participant
	err := scan(r.db, []byte(participantPrefix), func(value []byte) error {
		var p domain.Participant
		if err := msgpack.Unmarshal(value, &p); err != nil {
			return err
		}
		participants = append(participants, p)
		return nil
	})
	if err != nil {
		return nil, unavailable("list participants", err)
	}
	return participants, nil
}

func (r RoomRepository) InsertParticipant(participant domain.Participant) error {
	if err := set(r.db, participantKey(participant.ConnectionID), participant); err != nil {
		return unavailable("insert participant", err)
	}
	return nil
}

func (r RoomRepository) DeleteParticipant(conn domain.ConnectionID) error {
	if err := del(r.db, participantKey(conn)); err != nil {
		return unavailable("delete participant", err)
	}
	return nil
}

func set(db *badger.DB, key []byte, value any) error {
	bytes, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, bytes)
	})
}

func del(db *badger.DB, key []byte) error {
	return db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// scan walks every value under prefix in key order.
func scan(db *badger.DB, prefix []byte, fn func(value []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", serr.ErrStoreUnavailable, op, err)
}
