package metrics

import "sync/atomic"

// AtomicMax atomically sets *a to max(*a, v) and returns the value the
// counter holds afterwards. A plain load-compare-store races when two
// goroutines publish peaks at once, so this loops on Compare-And-Swap.
func AtomicMax(a *atomic.Int64, v int64) int64 {
	for {
		current := a.Load()
		if v <= current {
			return current
		}
		if a.CompareAndSwap(current, v) {
			return v
		}
	}
}
