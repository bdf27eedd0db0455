// Package harness runs gated call batches: one goroutine per block number,
// a shared admission gate, and an index-aligned join over the results.
package harness

import (
	"context"
	"time"

	"github.com/gateway-fm/rpcbench/internal/ratelimit"
)

// Gate admits calls into a batch. Acquire blocks until the call may
// proceed; Release returns the permit for gates that track in-flight work.
type Gate interface {
	Acquire(ctx context.Context) error
	Release()
}

// FloodGate bounds instantaneous parallelism with a channel semaphore. It
// imposes no rate ceiling: as soon as one call completes, the next queued
// call is admitted.
type FloodGate struct {
	semaphore chan struct{}
}

// NewFloodGate creates a gate admitting at most concurrency calls in
// flight simultaneously.
func NewFloodGate(concurrency int) *FloodGate {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &FloodGate{semaphore: make(chan struct{}, concurrency)}
}

// Acquire blocks until an in-flight slot is free or the context is done.
func (g *FloodGate) Acquire(ctx context.Context) error {
	select {
	case g.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns an in-flight slot.
func (g *FloodGate) Release() {
	<-g.semaphore
}

// InFlight returns the number of admitted calls not yet released.
func (g *FloodGate) InFlight() int {
	return len(g.semaphore)
}

// Capacity returns the maximum number of simultaneous admissions.
func (g *FloodGate) Capacity() int {
	return cap(g.semaphore)
}

// RateGate adapts a rolling-window limiter to the Gate interface. Release
// is a no-op: slots free themselves as admissions age out of the window,
// so the gate bounds throughput rather than concurrency.
type RateGate struct {
	limiter *ratelimit.Limiter
}

// NewRateGate creates a gate admitting at most rate calls in any rolling
// second.
func NewRateGate(rate int) *RateGate {
	return &RateGate{limiter: ratelimit.PerSecond(rate)}
}

// NewRateGateWithWindow creates a rate gate with an explicit window width.
func NewRateGateWithWindow(rate int, window time.Duration) *RateGate {
	return &RateGate{limiter: ratelimit.New(rate, window)}
}

// Acquire blocks until the rolling window has room for one more admission.
func (g *RateGate) Acquire(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}

// Release is a no-op; window expiry frees the slot.
func (g *RateGate) Release() {}

// Rate returns the admission cap per window.
func (g *RateGate) Rate() int {
	return g.limiter.Limit()
}
