package build

import (
	"sync"
	"time"
)

// Metrics tracks build cycle outcomes.
type Metrics struct {
	TotalCycles     int64         `json:"total_cycles"`
	Published       int64         `json:"published"`
	Partial         int64         `json:"partial"`
	Failed          int64         `json:"failed"`
	Skipped         int64         `json:"skipped"`
	Discarded       int64         `json:"discarded"`
	AverageDuration time.Duration `json:"average_duration"`
	TotalDuration   time.Duration `json:"total_duration"`
	LastDuration    time.Duration `json:"last_duration"`
	mutex           sync.RWMutex
}

// NewMetrics creates a new metrics tracker
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordCycle records a cycle result in the metrics
func (m *Metrics) RecordCycle(result CycleResult) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.TotalCycles++
	m.TotalDuration += result.Duration
	m.LastDuration = result.Duration

	switch {
	case result.Skipped:
		m.Skipped++
	case result.Status == StatusFailed:
		m.Failed++
	case result.Published:
		m.Published++
		if result.Status == StatusPartial {
			m.Partial++
		}
	default:
		m.Discarded++
	}

	// Update average duration
	if m.TotalCycles > 0 {
		m.AverageDuration = m.TotalDuration / time.Duration(m.TotalCycles)
	}
}

// Snapshot returns a copy of the current metrics
func (m *Metrics) Snapshot() *Metrics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return &Metrics{
		TotalCycles:     m.TotalCycles,
		Published:       m.Published,
		Partial:         m.Partial,
		Failed:          m.Failed,
		Skipped:         m.Skipped,
		Discarded:       m.Discarded,
		AverageDuration: m.AverageDuration,
		TotalDuration:   m.TotalDuration,
		LastDuration:    m.LastDuration,
	}
}

// Reset resets all metrics
func (m *Metrics) Reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.TotalCycles = 0
	m.Published = 0
	m.Partial = 0
	m.Failed = 0
	m.Skipped = 0
	m.Discarded = 0
	m.AverageDuration = 0
	m.TotalDuration = 0
	m.LastDuration = 0
}

// SuccessRate returns the share of non-skipped cycles that published, as a
// percentage.
func (m *Metrics) SuccessRate() float64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	built := m.TotalCycles - m.Skipped
	if built == 0 {
		return 0.0
	}

	return float64(m.Published) / float64(built) * 100.0
}
