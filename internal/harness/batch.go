package harness

import (
	"context"
	"sync"
	"time"

	"github.com/gateway-fm/rpcbench/internal/rpc"
)

// BlockFetcher is the slice of the RPC caller a batch needs: one
// header-only block fetch per block number. Implementations must be safe
// for concurrent use.
type BlockFetcher interface {
	GetBlockByNumber(ctx context.Context, number uint64) rpc.CallRecord
}

// RunBatch issues one gated call per block number, launches all of them up
// front, and waits for every call to finish. The returned slice is
// index-aligned with blocks: records[i] measures blocks[i], and the length
// always equals len(blocks) no matter how many calls fail. Per-call
// failures are recorded, never propagated; completion order is neither
// guaranteed nor relied upon.
func RunBatch(ctx context.Context, fetcher BlockFetcher, gate Gate, blocks []uint64) []rpc.CallRecord {
	records := make([]rpc.CallRecord, len(blocks))

	var wg sync.WaitGroup
	for i, number := range blocks {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := gate.Acquire(ctx); err != nil {
				now := time.Now()
				msg := err.Error()
				records[i] = rpc.CallRecord{Start: now, End: now, Err: &msg}
				return
			}
			defer gate.Release()

			records[i] = fetcher.GetBlockByNumber(ctx, number)
		}()
	}
	wg.Wait()

	return records
}

// BlockRange returns count consecutive block numbers starting at start.
func BlockRange(start uint64, count int) []uint64 {
	if count <= 0 {
		return nil
	}
	blocks := make([]uint64, count)
	for i := range blocks {
		blocks[i] = start + uint64(i)
	}
	return blocks
}
