package storage

import (
	"math"
	"sort"

	"github.com/gateway-fm/rpcbench/internal/rpc"
	"github.com/gateway-fm/rpcbench/pkg/types"
)

// Summarize computes duration statistics over a batch's records, failed
// calls included: a timeout's measured duration is part of the picture.
// Returns nil for an empty batch.
func Summarize(records []rpc.CallRecord) *types.DurationStats {
	if len(records) == 0 {
		return nil
	}

	durs := make([]float64, 0, len(records))
	sum := 0.0
	for _, rec := range records {
		ms := float64(rec.Duration().Microseconds()) / 1000.0
		durs = append(durs, ms)
		sum += ms
	}
	sort.Float64s(durs)

	return &types.DurationStats{
		Count:  len(durs),
		MinMs:  durs[0],
		MaxMs:  durs[len(durs)-1],
		MeanMs: sum / float64(len(durs)),
		P50Ms:  percentile(durs, 50),
		P95Ms:  percentile(durs, 95),
		P99Ms:  percentile(durs, 99),
	}
}

// CountErrors returns the number of records carrying an error.
func CountErrors(records []rpc.CallRecord) int {
	n := 0
	for _, rec := range records {
		if rec.Failed() {
			n++
		}
	}
	return n
}

// percentile returns the p-th percentile of sorted values by nearest rank.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
