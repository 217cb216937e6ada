package monitor

import (
	"sync"
	"time"
)

// DispatchRateMonitor implements a sliding window (5s) for a
// deterministic dispatch-rate figure in the stats snapshot.
type DispatchRateMonitor struct {
	buckets    [5]int
	currentPos int
	lastTick   time.Time
	mu         sync.Mutex
}

func NewDispatchRateMonitor() *DispatchRateMonitor {
	return &DispatchRateMonitor{
		lastTick: time.Now(),
	}
}

// Record increments the count for the current second bucket
func (m *DispatchRateMonitor) Record(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	elapsed := int(now.Sub(m.lastTick).Seconds())
	if elapsed >= 1 {
		if elapsed >= 5 {
			for i := range m.buckets {
				m.buckets[i] = 0
			}
			m.currentPos = 0
		} else {
			for i := 0; i < elapsed; i++ {
				m.currentPos = (m.currentPos + 1) % 5
				m.buckets[m.currentPos] = 0
			}
		}
		m.lastTick = now
	}
	m.buckets[m.currentPos] += count
}

// Rate returns the average completions per second over the window
func (m *DispatchRateMonitor) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastTick) > 5*time.Second {
		return 0.0
	}

	sum := 0
	for _, b := range m.buckets {
		sum += b
	}
	return float64(sum) / 5.0
}
