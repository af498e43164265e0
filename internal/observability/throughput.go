// Package observability provides throughput accounting for benchmark phases.
package observability

import (
	"sort"
	"sync"
	"time"
)

// PhaseStats holds the aggregate result of one benchmark phase.
type PhaseStats struct {
	Phase    string
	Workers  int
	Ops      int64
	Bytes    int64
	Failures int64
	Started  time.Time
	Elapsed  time.Duration
}

// OpsPerSec returns operations per second over the phase span.
func (p PhaseStats) OpsPerSec() float64 {
	secs := p.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(p.Ops) / secs
}

// MiBPerSec returns throughput in MiB per second over the phase span.
func (p PhaseStats) MiBPerSec() float64 {
	secs := p.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(p.Bytes) / secs / (1 << 20)
}

// ThroughputStats collects per-phase counters from concurrent workers.
// A phase is timed once, from Begin to End, across all of its workers.
type ThroughputStats struct {
	mu     sync.RWMutex
	phases map[string]*PhaseStats
}

// NewThroughputStats creates an empty tracker.
func NewThroughputStats() *ThroughputStats {
	return &ThroughputStats{
		phases: make(map[string]*PhaseStats),
	}
}

func (s *ThroughputStats) phase(name string) *PhaseStats {
	p, ok := s.phases[name]
	if !ok {
		p = &PhaseStats{Phase: name}
		s.phases[name] = p
	}
	return p
}

// Begin starts the clock of a phase run by the given number of workers.
func (s *ThroughputStats) Begin(name string, workers int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.phase(name)
	p.Workers = workers
	p.Started = time.Now()
	p.Elapsed = 0
}

// Add records completed operations for a phase.
// This method is O(1) and thread-safe.
func (s *ThroughputStats) Add(name string, ops, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.phase(name)
	p.Ops += ops
	p.Bytes += bytes
}

// AddFailure records a worker that stopped on an error.
func (s *ThroughputStats) AddFailure(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase(name).Failures++
}

// End stops the clock of a phase and returns its final stats.
func (s *ThroughputStats) End(name string) PhaseStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.phase(name)
	if !p.Started.IsZero() {
		p.Elapsed = time.Since(p.Started)
	}
	return *p
}

// Record stores complete stats for a phase, replacing earlier ones.
func (s *ThroughputStats) Record(stats PhaseStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := stats
	s.phases[stats.Phase] = &cp
}

// Get returns a copy of one phase's stats.
func (s *ThroughputStats) Get(name string) (PhaseStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.phases[name]
	if !ok {
		return PhaseStats{}, false
	}
	return *p, true
}

// Phases returns a copy of all phases ordered by start time.
func (s *ThroughputStats) Phases() []PhaseStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]PhaseStats, 0, len(s.phases))
	for _, p := range s.phases {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Started.Equal(out[j].Started) {
			return out[i].Started.Before(out[j].Started)
		}
		return out[i].Phase < out[j].Phase
	})
	return out
}
