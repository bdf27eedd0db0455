// Package storage persists benchmark results: one CSV file per labeled
// batch, and a SQLite index of completed runs for the observer API.
package storage

import (
	"context"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

// Storage defines the persistence interface for the benchmark run index.
// Runs are keyed by label; saving an existing label replaces the previous
// run, mirroring the per-label result files. ListRuns filters by provider
// when the provider argument is non-empty.
type Storage interface {
	SaveRun(ctx context.Context, run *types.RunSummary) error
	GetRun(ctx context.Context, label string) (*types.RunSummary, error)
	ListRuns(ctx context.Context, provider string, limit, offset int) (*types.PaginatedRuns, error)
	DeleteRun(ctx context.Context, label string) error

	Close() error
}
