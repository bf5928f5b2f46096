package utils

import (
	"context"
	"sync"
	"time"
)

// Pinger is anything whose reachability can be probed.
type Pinger func(ctx context.Context) error

// HealthStatus represents current status of external services.
type HealthStatus struct {
	Mongo     bool      `json:"mongo"`
	Redis     bool      `json:"redis"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Healthy reports whether every probed dependency answered.
func (h HealthStatus) Healthy() bool {
	return h.Mongo && h.Redis
}

// HealthMonitor periodically probes the store and the queue backend.
type HealthMonitor struct {
	mongo Pinger
	redis Pinger
	clock Clock

	mu      sync.RWMutex
	current HealthStatus
}

// NewHealthMonitor builds a monitor; a nil pinger counts as healthy.
func NewHealthMonitor(mongo, redis Pinger, clock Clock) *HealthMonitor {
	return &HealthMonitor{mongo: mongo, redis: redis, clock: clock}
}

// Status returns the latest stored health snapshot.
func (m *HealthMonitor) Status() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Check probes every dependency once and stores the result.
func (m *HealthMonitor) Check(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	status := HealthStatus{
		Mongo:     m.mongo == nil || m.mongo(ctx) == nil,
		Redis:     m.redis == nil || m.redis(ctx) == nil,
		CheckedAt: m.clock.Now(),
	}

	m.mu.Lock()
	m.current = status
	m.mu.Unlock()
	return status
}

// Run checks immediately, then on every tick until ctx is done.
func (m *HealthMonitor) Run(ctx context.Context, every time.Duration) {
	m.Check(ctx)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
