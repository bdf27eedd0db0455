// Package metrics provides live instrumentation for the benchmark harness:
// Prometheus series, a progress tracker and streaming latency estimation.
package metrics

import (
	"math"
	"sort"
	"sync"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

// DefaultReservoirSize is the number of samples kept for percentile
// estimation. Larger = more accurate, but more memory. 10000 gives <1%
// error at p99.
const DefaultReservoirSize = 10000

// LatencySampler estimates call duration percentiles over a live run
// without storing every sample. Reservoir sampling (Algorithm R) keeps
// memory flat regardless of run length.
type LatencySampler struct {
	mu sync.RWMutex

	// Running statistics (O(1) memory)
	count int64
	sum   float64
	min   float64
	max   float64

	// Reservoir for percentile estimation
	reservoir     []float64
	reservoirSize int
	seen          int64

	// Per-instance random state (xorshift64*) avoids data races on any
	// shared generator
	randState uint64
}

// NewLatencySampler creates a new streaming latency estimator.
func NewLatencySampler() *LatencySampler {
	return &LatencySampler{
		min:           math.MaxFloat64,
		reservoir:     make([]float64, 0, DefaultReservoirSize),
		reservoirSize: DefaultReservoirSize,
		randState:     1,
	}
}

// Add records one duration sample in milliseconds.
func (s *LatencySampler) Add(latencyMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.sum += latencyMs
	s.seen++

	if latencyMs < s.min {
		s.min = latencyMs
	}
	if latencyMs > s.max {
		s.max = latencyMs
	}

	// Reservoir sampling (Algorithm R)
	if len(s.reservoir) < s.reservoirSize {
		s.reservoir = append(s.reservoir, latencyMs)
	} else {
		j := s.fastRand() % uint64(s.seen)
		if j < uint64(s.reservoirSize) {
			s.reservoir[j] = latencyMs
		}
	}
}

// fastRand returns a pseudo-random uint64 using xorshift64*. Not
// cryptographically secure, but fast and good enough for sampling.
func (s *LatencySampler) fastRand() uint64 {
	s.randState ^= s.randState >> 12
	s.randState ^= s.randState << 25
	s.randState ^= s.randState >> 27
	return s.randState * 0x2545F4914F6CDD1D
}

// Stats returns the current duration statistics, nil when no samples have
// been recorded.
func (s *LatencySampler) Stats() *types.DurationStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.count == 0 {
		return nil
	}

	sorted := make([]float64, len(s.reservoir))
	copy(sorted, s.reservoir)
	sort.Float64s(sorted)

	return &types.DurationStats{
		Count:  int(s.count),
		MinMs:  s.min,
		MaxMs:  s.max,
		MeanMs: s.sum / float64(s.count),
		P50Ms:  interpolate(sorted, 0.50),
		P95Ms:  interpolate(sorted, 0.95),
		P99Ms:  interpolate(sorted, 0.99),
	}
}

// Count returns the number of samples recorded.
func (s *LatencySampler) Count() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Reset clears all statistics.
func (s *LatencySampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count = 0
	s.sum = 0
	s.min = math.MaxFloat64
	s.max = 0
	s.reservoir = s.reservoir[:0]
	s.seen = 0
}

// interpolate calculates the p-th percentile from a sorted slice with
// linear interpolation between neighbors.
func interpolate(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	idx := p * float64(len(sorted)-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	frac := idx - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
