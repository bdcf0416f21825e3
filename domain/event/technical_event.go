package event

import (
	"meet-signal/domain"
	"sync"
	"time"
)

type Type string

const (
	RestartedAfterPanicType Type = "WORKER_RESTARTED_AFTER_PANIC"
	ChannelCapacityType     Type = "CHANNEL_CAPACITY"
	ProcessStatsType        Type = "PROCESS_STATS"
	DeliveryDroppedType     Type = "DELIVERY_DROPPED"
)

// Event is a technical telemetry event, never sent to clients.
type Event struct {
	Type      Type
	CreatedAt time.Time
	Payload   any
}

type WorkerRestartedAfterPanic struct {
	WorkerName string
}

type ChannelCapacity struct {
	ChannelName string
	Capacity    int
	Length      int
}

type ProcessStats struct {
	PID int32
	Cpu float64
	Ram uint64
}

type DeliveryDropped struct {
	Connection domain.ConnectionID
	EventName  string
}

// Counter counts telemetry events per type.
type Counter struct {
	mu     sync.Mutex
	counts map[Type]int
}

func NewCounter() *Counter {
	return &Counter{counts: make(map[Type]int)}
}

func (c *Counter) Increment(t Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[t]++
}

func (c *Counter) Get(t Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[t]
}
