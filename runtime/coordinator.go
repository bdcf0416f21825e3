package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"meet-signal/contract"
	"meet-signal/domain"
	"meet-signal/domain/event"
	serr "meet-signal/errors"
	"meet-signal/observability"
	"meet-signal/repositories"
	"meet-signal/runtime/workers"
	"sync"
	"time"

	"github.com/samber/lo"
)

var _ contract.ICoordinator = (*Coordinator)(nil)

type Options struct {
	CapacityPolicy       domain.CapacityPolicy
	RoomQueueSize        int
	SinkTimeout          time.Duration
	MetricInterval       time.Duration
	LowCapacityThreshold int
}

// Stats is a point-in-time view of the coordinator.
type Stats struct {
	observability.MonitoringStats
	Connections  int `json:"connections"`
	Participants int `json:"participants"`
	Rooms        int `json:"rooms"`
	RoomQueues   int `json:"room_queues"`
}

// backlogged is implemented by sinks able to report their fill level.
type backlogged interface {
	Backlog() (length, capacity int)
}

type roomQueue struct {
	worker *workers.RoomWorker
	refs   int
}

// Coordinator is the Lifecycle Manager.
// Every mutation of a room goes through that room's RoomWorker, so operations
// on one room are linearized while different rooms progress independently.
type Coordinator struct {
	log        *slog.Logger
	registry   *Registry
	store      repositories.IRoomRepository
	supervisor contract.ISupervisor
	notifier   *Notifier
	relay      *Relay
	monitoring *observability.MonitoringManager
	telemetry  chan event.Event
	options    Options

	// lifetime outlives callers: queued operations run on it, not on the caller context
	lifetime context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	queues  map[domain.RoomID]*roomQueue
	stopped bool
}

func NewCoordinator(
	log *slog.Logger,
	registry *Registry,
	store repositories.IRoomRepository,
	supervisor contract.ISupervisor,
	monitoring *observability.MonitoringManager,
	telemetry chan event.Event,
	options Options,
) *Coordinator {
	if !options.CapacityPolicy.Valid() {
		options.CapacityPolicy = domain.AdmitOverCapacity
	}
	notifier := NewNotifier(log, registry, monitoring, telemetry, options.SinkTimeout)
	lifetime, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		log:        log,
		registry:   registry,
		store:      store,
		supervisor: supervisor,
		notifier:   notifier,
		relay:      NewRelay(log, registry, notifier, monitoring),
		monitoring: monitoring,
		telemetry:  telemetry,
		options:    options,
		lifetime:   lifetime,
		cancel:     cancel,
		queues:     make(map[domain.RoomID]*roomQueue),
	}
}

// Start runs the background workers (telemetry, channel sampling, process stats) until ctx is done.
func (c *Coordinator) Start(ctx context.Context) {
	counter := event.NewCounter()
	handlers := []event.Handler{
		event.NewChannelCapacityHandler(c.log, c.options.LowCapacityThreshold),
		event.NewWorkerRestartedAfterPanicHandler(c.log, counter),
		event.NewDeliveryDroppedHandler(c.log, counter),
		event.NewProcessStatsHandler(c.log),
	}
	c.supervisor.
		Add(workers.NewTelemetryWorker(c.log, c.telemetry, handlers)).
		Add(workers.NewChannelCapacityWorker(c.log, c.bufferSamples, c.telemetry, c.options.MetricInterval)).
		Add(workers.NewProcessStatsWorker(c.log, c.monitoring, c.telemetry, c.options.MetricInterval))

	c.log.Info("Coordinator started", "capacity_policy", c.options.CapacityPolicy)
	c.supervisor.Run(ctx)
}

// Stop refuses new operations, stops background workers and waits for room workers to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	c.cancel()
	c.supervisor.Stop()
	c.wg.Wait()
	c.log.Info("Coordinator stopped")
}

// Connect attaches a freshly opened connection. It joins no room.
func (c *Coordinator) Connect(conn domain.ConnectionID, sink contract.EventSink) {
	c.registry.Attach(conn, sink)
	c.log.Debug("connection attached", "connection", conn)
}

// Disconnect leaves the current room, if any, then forgets the connection.
// The connection is detached even when leaving failed.
func (c *Coordinator) Disconnect(ctx context.Context, conn domain.ConnectionID) error {
	err := c.Leave(ctx, conn)
	c.registry.Detach(conn)
	c.log.Debug("connection detached", "connection", conn)
	return err
}

// CreateRoom makes a new room whose only member is the caller.
// The caller gets its room id, then the one-member list.
func (c *Coordinator) CreateRoom(ctx context.Context, cmd domain.CreateRoomCommand) (domain.RoomID, error) {
	if _, ok := c.registry.Lookup(cmd.Connection); ok {
		return "", serr.ErrAlreadyJoined
	}
	roomID := domain.NewRoomID()

	err := c.withRoom(ctx, roomID, func(ctx context.Context) error {
		if !c.registry.Attached(cmd.Connection) {
			return serr.ErrConnectionClosed
		}
		creator := domain.NewParticipant(cmd.Identity, roomID, cmd.Connection, cmd.AudioOnly)
		room := domain.NewRoom(roomID, creator)

		if err := c.store.InsertParticipant(creator); err != nil {
			return c.storeFailure(err)
		}
		if err := c.store.InsertRoom(room); err != nil {
			return c.storeFailure(errors.Join(err, c.store.DeleteParticipant(cmd.Connection)))
		}
		c.registry.Register(cmd.Connection, creator)
		c.monitoring.IncrRoomsCreated()
		c.log.Info("room created", "room", roomID, "connection", cmd.Connection)

		c.notifier.NotifyOne(ctx, cmd.Connection, event.RoomIDAssigned{RoomID: roomID})
		c.notifier.NotifyOne(ctx, cmd.Connection, event.RoomUpdated{Members: room.Members})
		return nil
	})
	if err != nil {
		return "", err
	}
	return roomID, nil
}

// JoinRoom adds the caller to an existing room. Joining an unknown room does nothing.
// Existing members are asked to prepare for the newcomer, then everyone gets the new list.
func (c *Coordinator) JoinRoom(ctx context.Context, cmd domain.JoinRoomCommand) error {
	if _, ok := c.registry.Lookup(cmd.Connection); ok {
		return serr.ErrAlreadyJoined
	}

	return c.withRoom(ctx, cmd.RoomID, func(ctx context.Context) error {
		if !c.registry.Attached(cmd.Connection) {
			return serr.ErrConnectionClosed
		}
		room, err := c.store.FindRoom(cmd.RoomID)
		if errors.Is(err, serr.ErrRoomNotFound) {
			c.log.Debug("join ignored, room not found", "room", cmd.RoomID, "connection", cmd.Connection)
			return nil
		}
		if err != nil {
			return c.storeFailure(err)
		}
		room, stale := c.prune(room)

		if room.Full() {
			if c.options.CapacityPolicy == domain.RejectOverCapacity {
				return serr.ErrRoomFull
			}
			c.log.Warn("room over capacity", "room", room.ID, "members", len(room.Members))
		}

		participant := domain.NewParticipant(cmd.Identity, room.ID, cmd.Connection, cmd.AudioOnly)
		members := room.Join(participant)
		if err := c.store.UpdateRoomMembers(room.ID, members); err != nil {
			return c.storeFailure(err)
		}
		if err := c.store.InsertParticipant(participant); err != nil {
			return c.storeFailure(errors.Join(err, c.store.UpdateRoomMembers(room.ID, room.Members)))
		}
		if err := c.dropParticipants(stale); err != nil {
			c.log.Warn("stale participants left in store", "room", room.ID, "error", err)
		}
		c.registry.Register(cmd.Connection, participant)
		c.monitoring.IncrJoins()
		c.log.Info("room joined", "room", room.ID, "connection", cmd.Connection, "members", len(members))

		for _, other := range room.Others(cmd.Connection) {
			c.notifier.NotifyOne(ctx, other, event.PrepareIncoming{From: cmd.Connection})
		}
		c.notifier.BroadcastToRoom(ctx, room.ID, event.RoomUpdated{Members: members})
		return nil
	})
}

// Leave removes the caller from its room. A connection in no room is a no-op.
// The last member leaving deletes the room, otherwise the rest are told who left.
func (c *Coordinator) Leave(ctx context.Context, conn domain.ConnectionID) error {
	participant, ok := c.registry.Lookup(conn)
	if !ok {
		return nil
	}

	return c.withRoom(ctx, participant.RoomID, func(ctx context.Context) error {
		if _, ok := c.registry.Lookup(conn); !ok {
			return nil
		}
		// Unregistered on every path, store failure included
		defer c.registry.Unregister(conn)

		room, err := c.store.FindRoom(participant.RoomID)
		if errors.Is(err, serr.ErrRoomNotFound) {
			if err := c.store.DeleteParticipant(conn); err != nil {
				return c.storeFailure(err)
			}
			return nil
		}
		if err != nil {
			return c.storeFailure(err)
		}

		// Members whose own leave failed earlier are dropped here too
		room, stale := c.prune(room)
		remaining := room.Without(conn)
		if len(remaining) > 0 {
			err = c.store.UpdateRoomMembers(room.ID, remaining)
		} else {
			err = c.store.DeleteRoom(room.ID)
		}
		err = errors.Join(err, c.store.DeleteParticipant(conn), c.dropParticipants(stale))
		c.monitoring.IncrLeaves()

		if len(remaining) == 0 {
			c.monitoring.IncrRoomsDeleted()
			c.log.Info("room deleted", "room", room.ID)
		} else {
			c.notifier.BroadcastToRoom(ctx, room.ID, event.UserDisconnected{Connection: conn}, conn)
			c.notifier.BroadcastToRoom(ctx, room.ID, event.RoomUpdated{Members: remaining}, conn)
		}
		if err != nil {
			return c.storeFailure(err)
		}
		return nil
	})
}

// RoomStatus answers the pre-join probe. A missing room is not an error.
func (c *Coordinator) RoomStatus(_ context.Context, roomID domain.RoomID) (bool, bool, error) {
	room, err := c.store.FindRoom(roomID)
	if errors.Is(err, serr.ErrRoomNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, c.storeFailure(err)
	}
	room, _ = c.prune(room)
	return true, room.Full(), nil
}

func (c *Coordinator) RelaySignal(ctx context.Context, cmd domain.SignalCommand) {
	c.relay.RelaySignal(ctx, cmd)
}

func (c *Coordinator) RelayInit(ctx context.Context, target, source domain.ConnectionID) {
	c.relay.RelayInit(ctx, target, source)
}

func (c *Coordinator) RelayDirectMessage(ctx context.Context, cmd domain.DirectMessageCommand) {
	c.relay.RelayDirectMessage(ctx, cmd)
}

func (c *Coordinator) Stats() Stats {
	connections, participants, rooms := c.registry.Counts()
	c.mu.Lock()
	queues := len(c.queues)
	c.mu.Unlock()
	return Stats{
		MonitoringStats: c.monitoring.GetLatest(),
		Connections:     connections,
		Participants:    participants,
		Rooms:           rooms,
		RoomQueues:      queues,
	}
}

// withRoom runs op on the room's worker and waits for it.
// The caller context only matters before the operation is queued.
func (c *Coordinator) withRoom(ctx context.Context, roomID domain.RoomID, op workers.RoomOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	worker, err := c.acquire(roomID)
	if err != nil {
		return err
	}
	defer c.release(roomID)
	return worker.Do(c.lifetime, op)
}

// acquire returns the room worker, starting one if nobody holds it.
func (c *Coordinator) acquire(roomID domain.RoomID) (*workers.RoomWorker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil, serr.ErrCoordinatorStopped
	}

	queue, ok := c.queues[roomID]
	if !ok {
		worker := workers.NewRoomWorker(roomID, c.options.RoomQueueSize, c.log)
		queue = &roomQueue{worker: worker}
		c.queues[roomID] = queue
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			_ = worker.Run(c.lifetime)
		}()
	}
	queue.refs++
	return queue.worker, nil
}

// release drops the worker once its last holder is done.
func (c *Coordinator) release(roomID domain.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	queue, ok := c.queues[roomID]
	if !ok {
		return
	}
	queue.refs--
	if queue.refs == 0 {
		delete(c.queues, roomID)
		queue.worker.Close()
	}
}

// prune keeps the members whose connection still carries a participant of this room.
// The others are returned so their participant records can be removed.
func (c *Coordinator) prune(room domain.Room) (domain.Room, []domain.ConnectionID) {
	var stale []domain.ConnectionID
	room.Members = lo.Filter(room.Members, func(member domain.Participant, _ int) bool {
		registered, ok := c.registry.Lookup(member.ConnectionID)
		if ok && registered.RoomID == room.ID {
			return true
		}
		stale = append(stale, member.ConnectionID)
		return false
	})
	if len(stale) > 0 {
		c.log.Warn("stale members pruned", "room", room.ID, "stale", stale)
	}
	return room, stale
}

func (c *Coordinator) dropParticipants(conns []domain.ConnectionID) error {
	var errs []error
	for _, conn := range conns {
		errs = append(errs, c.store.DeleteParticipant(conn))
	}
	return errors.Join(errs...)
}

// bufferSamples feeds the capacity worker. Idle connections are left out.
func (c *Coordinator) bufferSamples() []workers.BufferSample {
	samples := []workers.BufferSample{
		{Name: "telemetry", Length: len(c.telemetry), Capacity: cap(c.telemetry)},
	}

	c.mu.Lock()
	for roomID, queue := range c.queues {
		length, capacity := queue.worker.Backlog()
		samples = append(samples, workers.BufferSample{Name: "room:" + string(roomID), Length: length, Capacity: capacity})
	}
	c.mu.Unlock()

	for conn, sink := range c.registry.Sessions() {
		buffer, ok := sink.(backlogged)
		if !ok {
			continue
		}
		if length, capacity := buffer.Backlog(); length > 0 {
			samples = append(samples, workers.BufferSample{Name: "connection:" + string(conn), Length: length, Capacity: capacity})
		}
	}
	return samples
}

func (c *Coordinator) storeFailure(err error) error {
	c.monitoring.IncrStoreErrors()
	c.log.Error("room store failure", "error", err)
	if errors.Is(err, serr.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", serr.ErrStoreUnavailable, err)
}
