package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

// Progress tracks the live state of a sweep for the observer API and the
// WebSocket stream. Counters are atomics so the hot per-call path never
// touches the mutex; the mutex guards the slow-changing descriptive state.
type Progress struct {
	mu           sync.RWMutex
	status       types.BenchStatus
	scenario     string
	currentLabel string
	errMsg       string
	startedAt    time.Time
	coolingUntil time.Time

	batchesDone  atomic.Int64
	batchesTotal atomic.Int64
	callsDone    atomic.Uint64
	callsFailed  atomic.Uint64
	inFlight     atomic.Int64
	peakInFlight atomic.Int64

	sampler *LatencySampler
}

// NewProgress creates an idle tracker.
func NewProgress() *Progress {
	return &Progress{
		status:  types.StatusIdle,
		sampler: NewLatencySampler(),
	}
}

// ScenarioStarted resets the tracker for a fresh scenario run.
func (p *Progress) ScenarioStarted(scenario string, batchesTotal int) {
	p.mu.Lock()
	p.status = types.StatusRunning
	p.scenario = scenario
	p.currentLabel = ""
	p.errMsg = ""
	p.startedAt = time.Now()
	p.coolingUntil = time.Time{}
	p.mu.Unlock()

	p.batchesDone.Store(0)
	p.batchesTotal.Store(int64(batchesTotal))
	p.callsDone.Store(0)
	p.callsFailed.Store(0)
	p.inFlight.Store(0)
	p.peakInFlight.Store(0)
	p.sampler.Reset()
}

// ScenarioFinished marks the scenario completed, or failed when err is
// non-nil.
func (p *Progress) ScenarioFinished(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.currentLabel = ""
	p.coolingUntil = time.Time{}
	if err != nil {
		p.status = types.StatusError
		p.errMsg = err.Error()
		return
	}
	p.status = types.StatusCompleted
}

// BatchStarted records the label about to run.
func (p *Progress) BatchStarted(label string) {
	p.mu.Lock()
	p.currentLabel = label
	p.coolingUntil = time.Time{}
	p.mu.Unlock()
}

// BatchFinished bumps the completed-batch count.
func (p *Progress) BatchFinished() {
	p.batchesDone.Add(1)
}

// CoolingDown records that the driver sleeps until now+d.
func (p *Progress) CoolingDown(d time.Duration) {
	p.mu.Lock()
	p.currentLabel = ""
	p.coolingUntil = time.Now().Add(d)
	p.mu.Unlock()
}

// CallStarted marks one call entering flight.
func (p *Progress) CallStarted() {
	cur := p.inFlight.Add(1)
	AtomicMax(&p.peakInFlight, cur)
}

// CallFinished marks one call leaving flight with its outcome and measured
// duration.
func (p *Progress) CallFinished(failed bool, duration time.Duration) {
	p.inFlight.Add(-1)
	p.callsDone.Add(1)
	if failed {
		p.callsFailed.Add(1)
	}
	p.sampler.Add(float64(duration.Microseconds()) / 1000.0)
}

// Snapshot returns a point-in-time view of the sweep.
func (p *Progress) Snapshot() types.ProgressSnapshot {
	p.mu.RLock()
	snap := types.ProgressSnapshot{
		Status:       p.status,
		Scenario:     p.scenario,
		CurrentLabel: p.currentLabel,
		Error:        p.errMsg,
	}
	if !p.startedAt.IsZero() {
		snap.ElapsedMs = time.Since(p.startedAt).Milliseconds()
	}
	if cooling := time.Until(p.coolingUntil); cooling > 0 {
		snap.CoolingDownMs = cooling.Milliseconds()
	}
	p.mu.RUnlock()

	snap.BatchesDone = int(p.batchesDone.Load())
	snap.BatchesTotal = int(p.batchesTotal.Load())
	snap.CallsDone = p.callsDone.Load()
	snap.CallsFailed = p.callsFailed.Load()
	snap.InFlight = p.inFlight.Load()
	snap.PeakInFlight = p.peakInFlight.Load()
	snap.Latency = p.sampler.Stats()

	return snap
}
