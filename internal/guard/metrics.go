package guard

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks call outcomes per guarded boundary.
type Metrics struct {
	mu sync.RWMutex

	totalSuccess uint64
	totalFailure uint64

	successByOp map[string]*uint64
	failureByOp map[string]*uint64

	startTime time.Time
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{
		successByOp: make(map[string]*uint64),
		failureByOp: make(map[string]*uint64),
		startTime:   time.Now(),
	}
}

// RecordSuccess records a successful guarded call.
func (m *Metrics) RecordSuccess(op string) {
	atomic.AddUint64(&m.totalSuccess, 1)
	m.bump(m.successByOp, op)
}

// RecordFailure records a failed or timed-out guarded call.
func (m *Metrics) RecordFailure(op string) {
	atomic.AddUint64(&m.totalFailure, 1)
	m.bump(m.failureByOp, op)
}

func (m *Metrics) bump(byOp map[string]*uint64, op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := byOp[op]; !exists {
		var zero uint64
		byOp[op] = &zero
	}
	atomic.AddUint64(byOp[op], 1)
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	TotalSuccess uint64            `json:"total_success"`
	TotalFailure uint64            `json:"total_failure"`
	SuccessByOp  map[string]uint64 `json:"success_by_op"`
	FailureByOp  map[string]uint64 `json:"failure_by_op"`
	UptimeSecs   float64           `json:"uptime_secs"`
}

// GetSnapshot returns the current counter values.
func (m *Metrics) GetSnapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := &Snapshot{
		TotalSuccess: atomic.LoadUint64(&m.totalSuccess),
		TotalFailure: atomic.LoadUint64(&m.totalFailure),
		SuccessByOp:  make(map[string]uint64, len(m.successByOp)),
		FailureByOp:  make(map[string]uint64, len(m.failureByOp)),
		UptimeSecs:   time.Since(m.startTime).Seconds(),
	}
	for op, v := range m.successByOp {
		s.SuccessByOp[op] = atomic.LoadUint64(v)
	}
	for op, v := range m.failureByOp {
		s.FailureByOp[op] = atomic.LoadUint64(v)
	}
	return s
}
