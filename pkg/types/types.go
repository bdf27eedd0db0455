// Package types contains public API types for the benchmark harness.
// These types form the external interface and must remain backwards-compatible.
package types

import "time"

// Protocol selects the HTTP version a benchmark client negotiates.
type Protocol string

const (
	ProtocolH1 Protocol = "h1"
	ProtocolH2 Protocol = "h2"
)

// NumberEncoding is the block-number wire representation a provider expects.
type NumberEncoding string

const (
	EncodingHex     NumberEncoding = "hex"
	EncodingDecimal NumberEncoding = "decimal"
)

// BenchStatus represents the current harness state.
type BenchStatus string

const (
	StatusIdle      BenchStatus = "idle"
	StatusRunning   BenchStatus = "running"
	StatusCompleted BenchStatus = "completed"
	StatusError     BenchStatus = "error"
)

// GateMode names the concurrency gating strategy of a batch.
type GateMode string

const (
	GateFlood GateMode = "flood" // bounded in-flight calls
	GateLimit GateMode = "limit" // bounded admissions per rolling window
)

// ProgressSnapshot is a point-in-time view of a running sweep,
// served by the observer API and streamed over WebSocket.
type ProgressSnapshot struct {
	Status        BenchStatus `json:"status"`
	Scenario      string      `json:"scenario"`
	CurrentLabel  string      `json:"currentLabel,omitempty"`
	BatchesDone   int         `json:"batchesDone"`
	BatchesTotal  int         `json:"batchesTotal"`
	CallsDone     uint64      `json:"callsDone"`
	CallsFailed   uint64      `json:"callsFailed"`
	InFlight      int64       `json:"inFlight"`
	PeakInFlight  int64       `json:"peakInFlight"`
	ElapsedMs     int64       `json:"elapsedMs"`
	CoolingDownMs int64       `json:"coolingDownMs,omitempty"`
	Error         string      `json:"error,omitempty"`

	// Latency holds streaming duration estimates for the current scenario,
	// absent until the first call completes.
	Latency *DurationStats `json:"latency,omitempty"`
}

// DurationStats summarizes call durations for one batch.
type DurationStats struct {
	Count  int     `json:"count"`
	MinMs  float64 `json:"minMs"`
	MaxMs  float64 `json:"maxMs"`
	MeanMs float64 `json:"meanMs"`
	P50Ms  float64 `json:"p50Ms"`
	P95Ms  float64 `json:"p95Ms"`
	P99Ms  float64 `json:"p99Ms"`
}

// RunSummary is the persisted per-batch aggregate row.
// JSON tags use camelCase to match the observer API.
type RunSummary struct {
	Label       string         `json:"label"`
	Scenario    string         `json:"scenario"`
	Provider    string         `json:"provider"`
	Protocol    Protocol       `json:"protocol"`
	GateMode    GateMode       `json:"gateMode"`
	PoolSize    int            `json:"poolSize"`
	Concurrency int            `json:"concurrency,omitempty"` // flood mode
	Rate        float64        `json:"rate,omitempty"`        // limit mode, calls per window
	Blocks      int            `json:"blocks"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
	Calls       int            `json:"calls"`
	Errors      int            `json:"errors"`
	Duration    *DurationStats `json:"duration,omitempty"`
	OutputFile  string         `json:"outputFile"`
}

// PaginatedRuns is a page of run summaries, newest first.
type PaginatedRuns struct {
	Runs   []RunSummary `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}
