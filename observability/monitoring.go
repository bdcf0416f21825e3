package observability

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// MonitoringStats is the snapshot served on the debug endpoint
type MonitoringStats struct {
	// --- ROOM METRICS ---
	RoomsCreated uint64 `json:"rooms_created"`
	RoomsDeleted uint64 `json:"rooms_deleted"`
	Joins        uint64 `json:"joins"`
	Leaves       uint64 `json:"leaves"`

	// --- RELAY METRICS ---
	SignalsRelayed    uint64 `json:"signals_relayed"`
	InitsRelayed      uint64 `json:"inits_relayed"`
	DirectMessages    uint64 `json:"direct_messages"`
	DeliveriesDropped uint64 `json:"deliveries_dropped"`

	// --- SYSTEM METRICS ---
	StoreErrors uint64    `json:"store_errors"`
	CpuPercent  float64   `json:"cpu_percent"`
	RssBytes    uint64    `json:"rss_bytes"`
	SampledAt   time.Time `json:"sampled_at"`
}

// MonitoringManager aggregates coordinator counters
type MonitoringManager struct {
	log *slog.Logger
	mu  sync.RWMutex

	// Atomic counters
	RoomsCreated      uint64
	RoomsDeleted      uint64
	Joins             uint64
	Leaves            uint64
	SignalsRelayed    uint64
	InitsRelayed      uint64
	DirectMessages    uint64
	DeliveriesDropped uint64
	StoreErrors       uint64

	cpuPercent float64
	rssBytes   uint64
	sampledAt  time.Time
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{log: log}
}

func (mm *MonitoringManager) IncrRoomsCreated()      { atomic.AddUint64(&mm.RoomsCreated, 1) }
func (mm *MonitoringManager) IncrRoomsDeleted()      { atomic.AddUint64(&mm.RoomsDeleted, 1) }
func (mm *MonitoringManager) IncrJoins()             { atomic.AddUint64(&mm.Joins, 1) }
func (mm *MonitoringManager) IncrLeaves()            { atomic.AddUint64(&mm.Leaves, 1) }
func (mm *MonitoringManager) IncrSignalsRelayed()    { atomic.AddUint64(&mm.SignalsRelayed, 1) }
func (mm *MonitoringManager) IncrInitsRelayed()      { atomic.AddUint64(&mm.InitsRelayed, 1) }
func (mm *MonitoringManager) IncrDirectMessages()    { atomic.AddUint64(&mm.DirectMessages, 1) }
func (mm *MonitoringManager) IncrDeliveriesDropped() { atomic.AddUint64(&mm.DeliveriesDropped, 1) }
func (mm *MonitoringManager) IncrStoreErrors()       { atomic.AddUint64(&mm.StoreErrors, 1) }

// SetProcessStats records the latest process sample
func (mm *MonitoringManager) SetProcessStats(cpuPercent float64, rssBytes uint64) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.cpuPercent = cpuPercent
	mm.rssBytes = rssBytes
	mm.sampledAt = time.Now().UTC()
}

func (mm *MonitoringManager) GetLatest() MonitoringStats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return MonitoringStats{
		RoomsCreated:      atomic.LoadUint64(&mm.RoomsCreated),
		RoomsDeleted:      atomic.LoadUint64(&mm.RoomsDeleted),
		Joins:             atomic.LoadUint64(&mm.Joins),
		Leaves:            atomic.LoadUint64(&mm.Leaves),
		SignalsRelayed:    atomic.LoadUint64(&mm.SignalsRelayed),
		InitsRelayed:      atomic.LoadUint64(&mm.InitsRelayed),
		DirectMessages:    atomic.LoadUint64(&mm.DirectMessages),
		DeliveriesDropped: atomic.LoadUint64(&mm.DeliveriesDropped),
		StoreErrors:       atomic.LoadUint64(&mm.StoreErrors),
		CpuPercent:        mm.cpuPercent,
		RssBytes:          mm.rssBytes,
		SampledAt:         mm.sampledAt,
	}
}
