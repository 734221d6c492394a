package verify

import (
	"sync"
	"time"

	"github.com/a-marczewski/aifred/internal/metrics"
)

// Stats summarises canary probes since the verifier was created.
type Stats struct {
	Probed      int
	Passed      int
	Failed      int
	Errors      int
	LastUpdated time.Time
}

// StatsTracker tracks probe outcomes in memory
type StatsTracker struct {
	mu          sync.RWMutex
	probed      int
	passed      int
	errors      int
	lastUpdated time.Time
}

// NewStatsTracker creates a new stats tracker
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{
		lastUpdated: time.Now(),
	}
}

// RecordProbe records one probe. transportErr marks probes that never got a
// usable response.
func (s *StatsTracker) RecordProbe(passed, transportErr bool) {
	metrics.RecordVerifyProbe(passed)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.probed++
	if passed {
		s.passed++
	}
	if transportErr {
		s.errors++
	}
	s.lastUpdated = time.Now()
}

// GetStats returns the current statistics
func (s *StatsTracker) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Probed:      s.probed,
		Passed:      s.passed,
		Failed:      s.probed - s.passed,
		Errors:      s.errors,
		LastUpdated: s.lastUpdated,
	}
}

// Reset clears all statistics
func (s *StatsTracker) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.probed = 0
	s.passed = 0
	s.errors = 0
	s.lastUpdated = time.Now()
}
