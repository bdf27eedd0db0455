// Package scenario enumerates the benchmark sweeps and sequences their
// batches with cooldown pauses between measurements.
package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gateway-fm/rpcbench/internal/config"
	"github.com/gateway-fm/rpcbench/internal/harness"
	"github.com/gateway-fm/rpcbench/internal/metrics"
	"github.com/gateway-fm/rpcbench/internal/rpc"
	"github.com/gateway-fm/rpcbench/internal/storage"
	"github.com/gateway-fm/rpcbench/pkg/types"
)

// Batch is one labeled measurement: a provider and client profile, a gating
// strategy, and a contiguous block range to fan out over.
type Batch struct {
	Scenario string
	Label    string
	Provider config.Provider
	Protocol types.Protocol
	PoolSize int
	Mode     types.GateMode
	// Concurrency caps in-flight calls in flood mode; Rate caps admissions
	// per second in limit mode. Only one applies per batch.
	Concurrency int
	Rate        int
	Blocks      int

	// Clients optionally carries a pre-built pool shared across batches of
	// the same sweep, so connections warmed by an earlier batch stay open.
	// When nil the driver builds a fresh pool for this batch.
	Clients rpc.ClientProvider
}

// Step is one unit of a sweep plan: a batch to run, or a cooldown pause.
type Step struct {
	Batch    *Batch
	Cooldown time.Duration
}

// Plan is an ordered sweep: batches interleaved with cooldown pauses.
type Plan []Step

// Batches counts the batch steps in the plan.
func (p Plan) Batches() int {
	n := 0
	for _, s := range p {
		if s.Batch != nil {
			n++
		}
	}
	return n
}

func batchStep(b Batch) Step { return Step{Batch: &b} }

func pause(d time.Duration) Step { return Step{Cooldown: d} }

// Driver owns the shared context every sweep runs against: configuration,
// result sinks and instrumentation. Batches run strictly sequentially; each
// batch is fully persisted before the next step starts.
type Driver struct {
	cfg      *config.Config
	store    storage.Storage
	sink     *storage.CSVSink
	bench    *metrics.BenchMetrics
	progress *metrics.Progress
	registry *Registry
	logger   *slog.Logger
}

// Config for creating a Driver.
type Config struct {
	Config   *config.Config
	Storage  storage.Storage       // run index; nil disables it
	Sink     *storage.CSVSink      // per-call CSV files
	Metrics  *metrics.BenchMetrics // Prometheus series; nil disables them
	Progress *metrics.Progress     // live progress; nil allocates a private tracker
	Registry *Registry             // nil uses the built-in registry
	Logger   *slog.Logger
}

// New creates a new Driver.
func New(cfg Config) *Driver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	progress := cfg.Progress
	if progress == nil {
		progress = metrics.NewProgress()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	return &Driver{
		cfg:      cfg.Config,
		store:    cfg.Storage,
		sink:     cfg.Sink,
		bench:    cfg.Metrics,
		progress: progress,
		registry: registry,
		logger:   logger,
	}
}

// Execute resolves the named scenario, derives its full plan up front, and
// runs every step in order.
func (d *Driver) Execute(ctx context.Context, name string) error {
	build, err := d.registry.Get(name)
	if err != nil {
		return err
	}
	plan := build(d.cfg)

	d.logger.Info("scenario starting", "scenario", name, "batches", plan.Batches())
	d.progress.ScenarioStarted(name, plan.Batches())
	if d.bench != nil {
		d.bench.ScenarioStarted(name)
	}

	err = d.runPlan(ctx, plan)

	d.progress.ScenarioFinished(err)
	if d.bench != nil {
		d.bench.ScenarioFinished(name)
	}
	if err != nil {
		d.logger.Error("scenario failed", "scenario", name, "error", err)
		return err
	}
	d.logger.Info("scenario completed", "scenario", name)
	return nil
}

func (d *Driver) runPlan(ctx context.Context, plan Plan) error {
	for _, s := range plan {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.Batch != nil {
			if err := d.Run(ctx, *s.Batch); err != nil {
				return err
			}
			continue
		}
		if err := d.cooldown(ctx, s.Cooldown); err != nil {
			return err
		}
	}
	return nil
}

// Run executes one batch end to end: build clients, gate the fan-out,
// collect every call record, and persist CSV rows plus the summary row.
// Per-call failures are recorded, never returned; only persistence errors
// propagate.
func (d *Driver) Run(ctx context.Context, b Batch) error {
	d.progress.BatchStarted(b.Label)
	d.logger.Info("batch starting",
		"label", b.Label,
		"provider", b.Provider.Name,
		"protocol", string(b.Protocol),
		"mode", string(b.Mode),
		"blocks", b.Blocks,
	)

	clients := b.Clients
	if clients == nil {
		clients = rpc.NewClientProvider(b.Protocol, b.Provider.URL, b.PoolSize, d.cfg.RequestTimeout)
	}
	caller := rpc.NewCaller(b.Provider.URL, b.Provider.Encoding, clients, d.logger)
	fetcher := &instrumentedFetcher{
		inner:    caller,
		provider: b.Provider.Name,
		protocol: string(b.Protocol),
		bench:    d.bench,
		progress: d.progress,
	}

	var gate harness.Gate
	switch b.Mode {
	case types.GateLimit:
		gate = harness.NewRateGate(b.Rate)
	default:
		gate = harness.NewFloodGate(b.Concurrency)
	}

	blocks := harness.BlockRange(d.cfg.StartBlock, b.Blocks)
	startedAt := time.Now()
	records := harness.RunBatch(ctx, fetcher, gate, blocks)
	completedAt := time.Now()

	outputFile, err := d.sink.WriteBatch(b.Label, records)
	if err != nil {
		return fmt.Errorf("write batch %s: %w", b.Label, err)
	}

	errCount := storage.CountErrors(records)
	if d.store != nil {
		summary := &types.RunSummary{
			Label:       b.Label,
			Scenario:    b.Scenario,
			Provider:    b.Provider.Name,
			Protocol:    b.Protocol,
			GateMode:    b.Mode,
			PoolSize:    b.PoolSize,
			Concurrency: b.Concurrency,
			Rate:        float64(b.Rate),
			Blocks:      b.Blocks,
			StartedAt:   startedAt,
			CompletedAt: completedAt,
			Calls:       len(records),
			Errors:      errCount,
			Duration:    storage.Summarize(records),
			OutputFile:  outputFile,
		}
		if err := d.store.SaveRun(ctx, summary); err != nil {
			return fmt.Errorf("index run %s: %w", b.Label, err)
		}
	}

	if d.bench != nil {
		d.bench.BatchCompleted(b.Scenario, b.Provider.Name)
	}
	d.progress.BatchFinished()
	d.logger.Info("batch completed",
		"label", b.Label,
		"calls", len(records),
		"errors", errCount,
		"elapsed", completedAt.Sub(startedAt).String(),
		"output", outputFile,
	)
	return nil
}

// cooldown pauses between batches so connection warm-up or provider-side
// throttling from one measurement does not bleed into the next.
func (d *Driver) cooldown(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}
	d.progress.CoolingDown(dur)
	d.logger.Debug("cooling down", "duration", dur.String())

	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// instrumentedFetcher decorates a BlockFetcher with progress and Prometheus
// accounting around every call.
type instrumentedFetcher struct {
	inner    harness.BlockFetcher
	provider string
	protocol string
	bench    *metrics.BenchMetrics
	progress *metrics.Progress
}

func (f *instrumentedFetcher) GetBlockByNumber(ctx context.Context, number uint64) rpc.CallRecord {
	f.progress.CallStarted()
	if f.bench != nil {
		f.bench.CallStarted()
	}

	rec := f.inner.GetBlockByNumber(ctx, number)

	if f.bench != nil {
		f.bench.CallFinished()
		f.bench.RecordCall(f.provider, f.protocol, rec.Failed(), rec.Duration().Seconds())
	}
	f.progress.CallFinished(rec.Failed(), rec.Duration())
	return rec
}
