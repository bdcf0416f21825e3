package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"meet-signal/domain"
	"meet-signal/domain/event"
	serr "meet-signal/errors"
	"meet-signal/mocks"
	"meet-signal/observability"
	"meet-signal/repositories"
	"meet-signal/runtime/workers"
	"meet-signal/sink"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func setupTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestCoordinator(t *testing.T, store repositories.IRoomRepository, policy domain.CapacityPolicy) *Coordinator {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	telemetry := make(chan event.Event, 100)
	coordinator := NewCoordinator(
		log,
		NewRegistry(),
		store,
		workers.NewSupervisor(log, telemetry, 10*time.Millisecond),
		observability.NewMonitoringManager(log),
		telemetry,
		Options{
			CapacityPolicy:       policy,
			RoomQueueSize:        8,
			SinkTimeout:          50 * time.Millisecond,
			MetricInterval:       time.Second,
			LowCapacityThreshold: 10,
		},
	)
	t.Cleanup(coordinator.Stop)
	return coordinator
}

func newBadgerCoordinator(t *testing.T, policy domain.CapacityPolicy) (*Coordinator, *repositories.RoomRepository) {
	t.Helper()
	store := repositories.NewRoomRepository(setupTestDB(t), slog.Default())
	return newTestCoordinator(t, store, policy), store
}

func connect(c *Coordinator, conn domain.ConnectionID) *sink.ConnectionSink {
	s := sink.NewConnectionSink(256)
	c.Connect(conn, s)
	return s
}

// drain returns every event buffered so far
func drain(s *sink.ConnectionSink) []event.DomainEvent {
	var events []event.DomainEvent
	for {
		select {
		case e := <-s.Events:
			events = append(events, e)
		default:
			return events
		}
	}
}

func connections(members []domain.Participant) []domain.ConnectionID {
	return lo.Map(members, func(p domain.Participant, _ int) domain.ConnectionID {
		return p.ConnectionID
	})
}

func TestCoordinator_TwoPeersScenario(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coordinator, store := newBadgerCoordinator(t, domain.AdmitOverCapacity)

	// Given A creating a room
	sinkA := connect(coordinator, "A")
	roomID, err := coordinator.CreateRoom(ctx, domain.CreateRoomCommand{Identity: "alice", Connection: "A"})
	req.NoError(err)

	eventsA := drain(sinkA)
	req.Len(eventsA, 2)
	req.Equal(event.RoomIDAssigned{RoomID: roomID}, eventsA[0])
	update, ok := eventsA[1].(event.RoomUpdated)
	req.True(ok)
	req.Equal([]domain.ConnectionID{"A"}, connections(update.Members))
	req.Equal("alice", update.Members[0].Identity)

	// When B probes then joins
	sinkB := connect(coordinator, "B")
	exists, full, err := coordinator.RoomStatus(ctx, roomID)
	req.NoError(err)
	req.True(exists)
	req.False(full)

	req.NoError(coordinator.JoinRoom(ctx, domain.JoinRoomCommand{RoomID: roomID, Identity: "bob", Connection: "B", AudioOnly: true}))

	// Then A prepares for B and both get the two-member list
	eventsA = drain(sinkA)
	req.Len(eventsA, 2)
	req.Equal(event.PrepareIncoming{From: "B"}, eventsA[0])
	update = eventsA[1].(event.RoomUpdated)
	req.Equal([]domain.ConnectionID{"A", "B"}, connections(update.Members))

	eventsB := drain(sinkB)
	req.Len(eventsB, 1)
	update = eventsB[0].(event.RoomUpdated)
	req.Equal([]domain.ConnectionID{"A", "B"}, connections(update.Members))
	req.True(update.Members[1].AudioOnly)

	// When B signals A
	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	coordinator.RelaySignal(ctx, domain.SignalCommand{Target: "A", Source: "B", Payload: payload})
	req.Equal([]event.DomainEvent{event.SignalRelayed{Payload: payload, From: "B"}}, drain(sinkA))

	// When A disconnects
	req.NoError(coordinator.Disconnect(ctx, "A"))
	eventsB = drain(sinkB)
	req.Len(eventsB, 2)
	req.Equal(event.UserDisconnected{Connection: "A"}, eventsB[0])
	update = eventsB[1].(event.RoomUpdated)
	req.Equal([]domain.ConnectionID{"B"}, connections(update.Members))

	room, err := store.FindRoom(roomID)
	req.NoError(err)
	req.Equal([]domain.ConnectionID{"B"}, connections(room.Members))

	// When the last member disconnects, the room is gone
	req.NoError(coordinator.Disconnect(ctx, "B"))
	exists, _, err = coordinator.RoomStatus(ctx, roomID)
	req.NoError(err)
	req.False(exists)

	participants, err := store.ListParticipants()
	req.NoError(err)
	req.Empty(participants)

	stats := coordinator.Stats()
	req.Zero(stats.Connections)
	req.Zero(stats.Participants)
	req.Zero(stats.RoomQueues)
	req.Equal(uint64(1), stats.RoomsCreated)
	req.Equal(uint64(1), stats.RoomsDeleted)
}

func TestCoordinator_JoinRoom_UnknownRoomIsNoop(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coordinator, store := newBadgerCoordinator(t, domain.AdmitOverCapacity)
	sinkA := connect(coordinator, "A")

	req.NoError(coordinator.JoinRoom(ctx, domain.JoinRoomCommand{RoomID: "nowhere", Identity: "alice", Connection: "A"}))

	req.Empty(drain(sinkA))
	_, ok := coordinator.registry.Lookup("A")
	req.False(ok)
	rooms, err := store.ListRooms()
	req.NoError(err)
	req.Empty(rooms)
}

func TestCoordinator_AlreadyJoined(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coordinator, _ := newBadgerCoordinator(t, domain.AdmitOverCapacity)
	connect(coordinator, "A")

	roomID, err := coordinator.CreateRoom(ctx, domain.CreateRoomCommand{Identity: "alice", Connection: "A"})
	req.NoError(err)

	_, err = coordinator.CreateRoom(ctx, domain.CreateRoomCommand{Identity: "alice", Connection: "A"})
	req.ErrorIs(err, serr.ErrAlreadyJoined)
	req.ErrorIs(coordinator.JoinRoom(ctx, domain.JoinRoomCommand{RoomID: roomID, Connection: "A"}), serr.ErrAlreadyJoined)
}

func TestCoordinator_CreateRoom_DetachedConnection(t *testing.T) {
	req := require.New(t)
	coordinator, store := newBadgerCoordinator(t, domain.AdmitOverCapacity)

	_, err := coordinator.CreateRoom(context.Background(), domain.CreateRoomCommand{Identity: "ghost", Connection: "ghost"})
	req.ErrorIs(err, serr.ErrConnectionClosed)

	rooms, err := store.ListRooms()
	req.NoError(err)
	req.Empty(rooms)
}

func TestCoordinator_CancelledCallerMutatesNothing(t *testing.T) {
	req := require.New(t)
	coordinator, store := newBadgerCoordinator(t, domain.AdmitOverCapacity)
	connect(coordinator, "A")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := coordinator.CreateRoom(ctx, domain.CreateRoomCommand{Identity: "alice", Connection: "A"})
	req.ErrorIs(err, context.Canceled)
	rooms, err := store.ListRooms()
	req.NoError(err)
	req.Empty(rooms)
}

func TestCoordinator_CapacityPolicy(t *testing.T) {
	for _, tc := range []struct {
		policy  domain.CapacityPolicy
		wantErr error
		members int
	}{
		{policy: domain.AdmitOverCapacity, wantErr: nil, members: domain.RoomCapacity + 1},
		{policy: domain.RejectOverCapacity, wantErr: serr.ErrRoomFull, members: domain.RoomCapacity},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			req := require.New(t)
			ctx := context.Background()
			coordinator, store := newBadgerCoordinator(t, tc.policy)

			connect(coordinator, "c0")
			roomID, err := coordinator.CreateRoom(ctx, domain.CreateRoomCommand{Identity: "c0", Connection: "c0"})
			req.NoError(err)
			for i := 1; i < domain.RoomCapacity; i++ {
				conn := domain.ConnectionID(fmt.Sprintf("c%d", i))
				connect(coordinator, conn)
				req.NoError(coordinator.JoinRoom(ctx, domain.JoinRoomCommand{RoomID: roomID, Identity: string(conn), Connection: conn}))
			}

			_, full, err := coordinator.RoomStatus(ctx, roomID)
			req.NoError(err)
			req.True(full)

			sinkLate := connect(coordinator, "late")
			err = coordinator.JoinRoom(ctx, domain.JoinRoomCommand{RoomID: roomID, Identity: "late", Connection: "late"})
			if tc.wantErr != nil {
				req.ErrorIs(err, tc.wantErr)
				req.Empty(drain(sinkLate))
			} else {
				req.NoError(err)
			}

			room, err := store.FindRoom(roomID)
			req.NoError(err)
			req.Len(room.Members, tc.members)
		})
	}
}

func TestCoordinator_RelayDirectMessage_ExactlyOnce(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coordinator, _ := newBadgerCoordinator(t, domain.AdmitOverCapacity)
	sinkA := connect(coordinator, "A")
	sinkB := connect(coordinator, "B")
	sinkC := connect(coordinator, "C")

	roomID, err := coordinator.CreateRoom(ctx, domain.CreateRoomCommand{Identity: "alice", Connection: "A"})
	req.NoError(err)
	req.NoError(coordinator.JoinRoom(ctx, domain.JoinRoomCommand{RoomID: roomID, Identity: "bob", Connection: "B"}))
	drain(sinkA)
	drain(sinkB)

	coordinator.RelayDirectMessage(ctx, domain.DirectMessageCommand{Target: "B", Source: "A", Content: "hi", Identity: "alice"})

	req.Equal([]event.DomainEvent{event.DirectMessage{Content: "hi", Identity: "alice", From: "A"}}, drain(sinkB))
	req.Equal([]event.DomainEvent{event.DirectMessage{Content: "hi", Identity: "alice", IsAuthor: true, To: "B"}}, drain(sinkA))

	// C is connected but in no room: nothing is delivered
	coordinator.RelayDirectMessage(ctx, domain.DirectMessageCommand{Target: "C", Source: "A", Content: "hi", Identity: "alice"})
	req.Empty(drain(sinkC))
	req.Empty(drain(sinkA))
}

func TestCoordinator_ConcurrentJoinsAndLeaves(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coordinator, store := newBadgerCoordinator(t, domain.AdmitOverCapacity)

	connect(coordinator, "owner")
	roomID, err := coordinator.CreateRoom(ctx, domain.CreateRoomCommand{Identity: "owner", Connection: "owner"})
	req.NoError(err)

	const joiners = 20
	sinks := make(map[domain.ConnectionID]*sink.ConnectionSink, joiners)
	for i := 0; i < joiners; i++ {
		conn := domain.ConnectionID(fmt.Sprintf("peer-%d", i))
		sinks[conn] = connect(coordinator, conn)
	}

	var wg sync.WaitGroup
	for conn := range sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, coordinator.JoinRoom(ctx, domain.JoinRoomCommand{RoomID: roomID, Identity: string(conn), Connection: conn}))
		}()
	}
	wg.Wait()

	room, err := store.FindRoom(roomID)
	req.NoError(err)
	req.Len(room.Members, joiners+1)

	// Half of the peers leave concurrently
	leaving := lo.Filter(lo.Keys(sinks), func(_ domain.ConnectionID, i int) bool { return i%2 == 0 })
	for _, conn := range leaving {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, coordinator.Disconnect(ctx, conn))
		}()
	}
	wg.Wait()

	room, err = store.FindRoom(roomID)
	req.NoError(err)
	remaining := connections(room.Members)
	req.Len(remaining, joiners+1-len(leaving))
	req.Len(lo.Uniq(remaining), len(remaining))
	for _, conn := range leaving {
		req.NotContains(remaining, conn)
	}

	// Every member still present last saw the final membership
	for conn, s := range sinks {
		if lo.Contains(leaving, conn) {
			continue
		}
		updates := lo.FilterMap(drain(s), func(e event.DomainEvent, _ int) (event.RoomUpdated, bool) {
			update, ok := e.(event.RoomUpdated)
			return update, ok
		})
		req.NotEmpty(updates)
		req.ElementsMatch(remaining, connections(updates[len(updates)-1].Members))
	}
}

func TestCoordinator_JoinRoom_StoreFailure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIRoomRepository(ctrl)
	coordinator := newTestCoordinator(t, store, domain.AdmitOverCapacity)
	sinkA := connect(coordinator, "A")

	store.EXPECT().FindRoom(domain.RoomID("room-1")).Return(domain.Room{}, fmt.Errorf("disk gone"))

	err := coordinator.JoinRoom(context.Background(), domain.JoinRoomCommand{RoomID: "room-1", Identity: "alice", Connection: "A"})
	req.ErrorIs(err, serr.ErrStoreUnavailable)
	req.Empty(drain(sinkA))
	_, ok := coordinator.registry.Lookup("A")
	req.False(ok)
	req.Equal(uint64(1), coordinator.Stats().StoreErrors)
}

func TestCoordinator_CreateRoom_StoreFailureRollsBack(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIRoomRepository(ctrl)
	coordinator := newTestCoordinator(t, store, domain.AdmitOverCapacity)
	sinkA := connect(coordinator, "A")

	gomock.InOrder(
		store.EXPECT().InsertParticipant(gomock.Any()).Return(nil),
		store.EXPECT().InsertRoom(gomock.Any()).Return(fmt.Errorf("disk gone")),
		store.EXPECT().DeleteParticipant(domain.ConnectionID("A")).Return(nil),
	)

	_, err := coordinator.CreateRoom(context.Background(), domain.CreateRoomCommand{Identity: "alice", Connection: "A"})
	req.ErrorIs(err, serr.ErrStoreUnavailable)
	req.Empty(drain(sinkA))
	_, ok := coordinator.registry.Lookup("A")
	req.False(ok)
}

func TestCoordinator_Leave_StoreFailureStillUnregisters(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIRoomRepository(ctrl)
	coordinator := newTestCoordinator(t, store, domain.AdmitOverCapacity)
	connect(coordinator, "A")

	store.EXPECT().InsertParticipant(gomock.Any()).Return(nil)
	store.EXPECT().InsertRoom(gomock.Any()).Return(nil)
	roomID, err := coordinator.CreateRoom(context.Background(), domain.CreateRoomCommand{Identity: "alice", Connection: "A"})
	req.NoError(err)

	store.EXPECT().FindRoom(roomID).Return(domain.Room{}, fmt.Errorf("disk gone"))

	err = coordinator.Leave(context.Background(), "A")
	req.ErrorIs(err, serr.ErrStoreUnavailable)
	_, ok := coordinator.registry.Lookup("A")
	req.False(ok)
	req.True(coordinator.registry.Attached("A"))
}

func TestCoordinator_Stop_RefusesOperations(t *testing.T) {
	req := require.New(t)
	coordinator, _ := newBadgerCoordinator(t, domain.AdmitOverCapacity)
	connect(coordinator, "A")

	coordinator.Stop()

	_, err := coordinator.CreateRoom(context.Background(), domain.CreateRoomCommand{Identity: "alice", Connection: "A"})
	req.ErrorIs(err, serr.ErrCoordinatorStopped)
}

// flakyStore fails the next failFinds FindRoom calls, then behaves like the wrapped store.
type flakyStore struct {
	*repositories.RoomRepository
	failFinds int
}

func (s *flakyStore) FindRoom(roomID domain.RoomID) (domain.Room, error) {
	if s.failFinds > 0 {
		s.failFinds--
		return domain.Room{}, fmt.Errorf("%w: transient", serr.ErrStoreUnavailable)
	}
	return s.RoomRepository.FindRoom(roomID)
}

func TestCoordinator_Leave_ConvergesAfterFailedLeave(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := &flakyStore{RoomRepository: repositories.NewRoomRepository(setupTestDB(t), slog.Default())}
	coordinator := newTestCoordinator(t, store, domain.AdmitOverCapacity)

	// Given A and B in the same room
	connect(coordinator, "A")
	sinkB := connect(coordinator, "B")
	roomID, err := coordinator.CreateRoom(ctx, domain.CreateRoomCommand{Identity: "alice", Connection: "A"})
	req.NoError(err)
	req.NoError(coordinator.JoinRoom(ctx, domain.JoinRoomCommand{RoomID: roomID, Identity: "bob", Connection: "B"}))
	drain(sinkB)

	// When A leaves while the store hiccups
	store.failFinds = 1
	req.ErrorIs(coordinator.Disconnect(ctx, "A"), serr.ErrStoreUnavailable)
	room, err := store.FindRoom(roomID)
	req.NoError(err)
	req.ElementsMatch([]domain.ConnectionID{"A", "B"}, connections(room.Members))

	// Then a newcomer only sees the live member
	sinkC := connect(coordinator, "C")
	req.NoError(coordinator.JoinRoom(ctx, domain.JoinRoomCommand{RoomID: roomID, Identity: "carol", Connection: "C"}))
	eventsC := drain(sinkC)
	req.Len(eventsC, 1)
	update, ok := eventsC[0].(event.RoomUpdated)
	req.True(ok)
	req.ElementsMatch([]domain.ConnectionID{"B", "C"}, connections(update.Members))

	// And the last live members leaving deletes the room and every participant
	req.NoError(coordinator.Disconnect(ctx, "B"))
	req.NoError(coordinator.Disconnect(ctx, "C"))
	_, err = store.FindRoom(roomID)
	req.ErrorIs(err, serr.ErrRoomNotFound)
	participants, err := store.ListParticipants()
	req.NoError(err)
	req.Empty(participants)
}

func TestCoordinator_Leave_LeaverGetsNoNotification(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	coordinator, _ := newBadgerCoordinator(t, domain.AdmitOverCapacity)

	sinkA := connect(coordinator, "A")
	sinkB := connect(coordinator, "B")
	roomID, err := coordinator.CreateRoom(ctx, domain.CreateRoomCommand{Identity: "alice", Connection: "A"})
	req.NoError(err)
	req.NoError(coordinator.JoinRoom(ctx, domain.JoinRoomCommand{RoomID: roomID, Identity: "bob", Connection: "B"}))
	drain(sinkA)
	drain(sinkB)

	req.NoError(coordinator.Leave(ctx, "B"))

	req.Empty(drain(sinkB))
	eventsA := drain(sinkA)
	req.Len(eventsA, 2)
	req.Equal(event.UserDisconnected{Connection: "B"}, eventsA[0])
	update, ok := eventsA[1].(event.RoomUpdated)
	req.True(ok)
	req.Equal([]domain.ConnectionID{"A"}, connections(update.Members))
	_, ok = coordinator.registry.Lookup("B")
	req.False(ok)
	req.True(coordinator.registry.Attached("B"))
}

func TestCoordinator_CreateRoom_RollbackFailureIsReported(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIRoomRepository(ctrl)
	coordinator := newTestCoordinator(t, store, domain.AdmitOverCapacity)
	connect(coordinator, "A")

	gomock.InOrder(
		store.EXPECT().InsertParticipant(gomock.Any()).Return(nil),
		store.EXPECT().InsertRoom(gomock.Any()).Return(fmt.Errorf("disk gone")),
		store.EXPECT().DeleteParticipant(domain.ConnectionID("A")).Return(fmt.Errorf("rollback gone")),
	)

	_, err := coordinator.CreateRoom(context.Background(), domain.CreateRoomCommand{Identity: "alice", Connection: "A"})
	req.ErrorIs(err, serr.ErrStoreUnavailable)
	req.ErrorContains(err, "disk gone")
	req.ErrorContains(err, "rollback gone")
}

func TestCoordinator_BufferSamples(t *testing.T) {
	req := require.New(t)
	coordinator, _ := newBadgerCoordinator(t, domain.AdmitOverCapacity)
	connect(coordinator, "A")
	connect(coordinator, "idle")

	_, err := coordinator.CreateRoom(context.Background(), domain.CreateRoomCommand{Identity: "alice", Connection: "A"})
	req.NoError(err)

	samples := lo.KeyBy(coordinator.bufferSamples(), func(s workers.BufferSample) string { return s.Name })
	req.Contains(samples, "telemetry")
	req.Equal(workers.BufferSample{Name: "connection:A", Length: 2, Capacity: 256}, samples["connection:A"])
	req.NotContains(samples, "connection:idle")
}
