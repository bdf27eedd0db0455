package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterTools registers all benchmark harness tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerStatus(s, client)
	registerHealth(s, client)
	registerScenarios(s, client)
	registerRuns(s, client)
	registerRunDetail(s, client)
	registerDeleteRun(s, client)
}

func registerStatus(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rpcbench_status",
		gomcp.WithDescription("Get current benchmark status: scenario, batch progress, calls done/failed, in-flight gauge, latency stats."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/status")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Benchmark harness unreachable: %v\n\nIs a sweep running with the observer enabled?", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(raw)), nil
	})
}

func registerHealth(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rpcbench_health",
		gomcp.WithDescription("Quick liveness check for the benchmark harness observer."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/health")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Benchmark harness unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(raw)), nil
	})
}

func registerScenarios(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rpcbench_scenarios",
		gomcp.WithDescription("List the scenario sweeps the harness can run."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := client.Get("/scenarios")
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Scenarios query failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatScenarios(raw)), nil
	})
}

func registerRuns(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rpcbench_runs",
		gomcp.WithDescription("List completed benchmark runs with summary metrics (paginated)."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
		gomcp.WithString("provider",
			gomcp.Description("Only list runs against this provider, e.g. \"alchemy\""),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		offset := req.GetInt("offset", 0)
		path := fmt.Sprintf("/runs?limit=%d&offset=%d", limit, offset)
		if provider := req.GetString("provider", ""); provider != "" {
			path += "&provider=" + url.QueryEscape(provider)
		}

		raw, err := client.Get(path)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Runs query failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRuns(raw)), nil
	})
}

func registerRunDetail(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rpcbench_run_detail",
		gomcp.WithDescription("Get detailed results for a specific benchmark run by label."),
		gomcp.WithString("label",
			gomcp.Required(),
			gomcp.Description("Run label, e.g. \"alchemy,b=1000,c=100,p=h2,i=3\""),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		label, err := req.RequireString("label")
		if err != nil {
			return gomcp.NewToolResultError("label is required"), nil
		}
		raw, err := client.Get("/runs/" + url.PathEscape(label))
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run detail failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunDetail(raw)), nil
	})
}

func registerDeleteRun(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("rpcbench_delete_run",
		gomcp.WithDescription("Delete a benchmark run from the index. This is a MUTATING operation."),
		gomcp.WithString("label",
			gomcp.Required(),
			gomcp.Description("Run label to delete"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		label, err := req.RequireString("label")
		if err != nil {
			return gomcp.NewToolResultError("label is required"), nil
		}
		_, err = client.Delete("/runs/" + url.PathEscape(label))
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Delete failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Run Deleted"),
			kv("Label", label),
		)), nil
	})
}

// Response formatting functions

func formatStatus(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing status: %v", err)
	}

	status := getStr(m, "status")
	scenario := getStr(m, "scenario")
	label := getStr(m, "currentLabel")
	batchesDone := getNum(m, "batchesDone")
	batchesTotal := getNum(m, "batchesTotal")
	callsDone := getNum(m, "callsDone")
	callsFailed := getNum(m, "callsFailed")
	inFlight := getNum(m, "inFlight")
	peak := getNum(m, "peakInFlight")
	elapsedMs := getNum(m, "elapsedMs")
	coolingMs := getNum(m, "coolingDownMs")

	errorRate := 0.0
	if callsDone > 0 {
		errorRate = callsFailed / callsDone * 100
	}

	lines := joinLines(
		section("Benchmark Status"),
		kv("Status", status),
		kv("Scenario", scenario),
		kv("Current Batch", label),
		kv("Batches", fmt.Sprintf("%d/%d", int64(batchesDone), int64(batchesTotal))),
		kv("Calls Done", formatNumber(callsDone)),
		kv("Calls Failed", formatNumber(callsFailed)),
		kv("Error Rate", formatPct(errorRate)),
		kv("In Flight", formatNumber(inFlight)),
		kv("Peak In Flight", formatNumber(peak)),
		kv("Elapsed", fmt.Sprintf("%.1fs", elapsedMs/1000)),
	)

	if coolingMs > 0 {
		lines += "\n" + kv("Cooling Down", fmt.Sprintf("%.1fs remaining", coolingMs/1000))
	}
	if errMsg := getStr(m, "error"); errMsg != "" {
		lines += "\n" + kv("Error", errMsg)
	}

	if lat, ok := m["latency"].(map[string]any); ok {
		lines += "\n\n" + joinLines(
			section("Call Latency"),
			kv("Min", formatMs(getNum(lat, "minMs"))),
			kv("Mean", formatMs(getNum(lat, "meanMs"))),
			kv("P50", formatMs(getNum(lat, "p50Ms"))),
			kv("P95", formatMs(getNum(lat, "p95Ms"))),
			kv("P99", formatMs(getNum(lat, "p99Ms"))),
			kv("Max", formatMs(getNum(lat, "maxMs"))),
		)
	}

	return lines
}

func formatHealth(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing health: %v", err)
	}

	status := getStr(m, "status")
	uptime := getNum(m, "uptime_seconds")

	return joinLines(
		section("Benchmark Harness Health"),
		kv("Status", status),
		kv("Uptime", fmt.Sprintf("%.0fs", uptime)),
	)
}

func formatScenarios(raw json.RawMessage) string {
	var m map[string][]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing scenarios: %v", err)
	}

	lines := section("Available Scenarios")
	for _, name := range m["scenarios"] {
		lines += "\n  - " + name
	}
	return lines
}

func formatRuns(raw json.RawMessage) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Sprintf("Error parsing runs: %v", err)
	}

	total := getNum(m, "total")
	lines := joinLines(
		section("Benchmark Runs"),
		kv("Total Runs", formatNumber(total)),
		"",
	)

	runs, ok := m["runs"].([]any)
	if !ok || len(runs) == 0 {
		lines += "No runs found."
		return lines
	}

	for _, r := range runs {
		run, ok := r.(map[string]any)
		if !ok {
			continue
		}
		label := getStr(run, "label")
		scenario := getStr(run, "scenario")
		provider := getStr(run, "provider")
		calls := getNum(run, "calls")
		errors := getNum(run, "errors")
		startedAt := getStr(run, "startedAt")

		lines += fmt.Sprintf("### %s\n", label)
		lines += joinLines(
			kv("Scenario", scenario),
			kv("Provider", provider),
			kv("Calls", formatNumber(calls)),
			kv("Errors", formatNumber(errors)),
			kv("Started", formatTimestamp(startedAt)),
		)
		lines += "\n\n"
	}

	return lines
}

func formatRunDetail(raw json.RawMessage) string {
	var run map[string]any
	if err := json.Unmarshal(raw, &run); err != nil {
		return fmt.Sprintf("Error parsing run detail: %v", err)
	}

	label := getStr(run, "label")
	if label == "" {
		return "Run not found"
	}

	scenario := getStr(run, "scenario")
	provider := getStr(run, "provider")
	protocol := getStr(run, "protocol")
	gateMode := getStr(run, "gateMode")
	poolSize := getNum(run, "poolSize")
	concurrency := getNum(run, "concurrency")
	rate := getNum(run, "rate")
	blocks := getNum(run, "blocks")
	calls := getNum(run, "calls")
	errors := getNum(run, "errors")
	outputFile := getStr(run, "outputFile")

	errorRate := 0.0
	if calls > 0 {
		errorRate = errors / calls * 100
	}

	lines := joinLines(
		section("Run: "+label),
		kv("Scenario", scenario),
		kv("Provider", provider),
		kv("Protocol", protocol),
		kv("Gate Mode", gateMode),
		kv("Pool Size", formatNumber(poolSize)),
	)
	if concurrency > 0 {
		lines += "\n" + kv("Concurrency", formatNumber(concurrency))
	}
	if rate > 0 {
		lines += "\n" + kv("Rate", fmt.Sprintf("%.0f calls/s", rate))
	}
	lines += "\n" + joinLines(
		kv("Blocks", formatNumber(blocks)),
		kv("Calls", formatNumber(calls)),
		kv("Errors", formatNumber(errors)),
		kv("Error Rate", formatPct(errorRate)),
		kv("Started", formatTimestamp(getStr(run, "startedAt"))),
		kv("Completed", formatTimestamp(getStr(run, "completedAt"))),
		kv("Output File", outputFile),
	)

	if lat, ok := run["duration"].(map[string]any); ok {
		lines += "\n\n" + joinLines(
			section("Call Latency"),
			kv("Count", formatNumber(getNum(lat, "count"))),
			kv("Min", formatMs(getNum(lat, "minMs"))),
			kv("Mean", formatMs(getNum(lat, "meanMs"))),
			kv("P50", formatMs(getNum(lat, "p50Ms"))),
			kv("P95", formatMs(getNum(lat, "p95Ms"))),
			kv("P99", formatMs(getNum(lat, "p99Ms"))),
			kv("Max", formatMs(getNum(lat, "maxMs"))),
		)
	}

	return lines
}

// Helper functions
func getStr(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func getNum(m map[string]any, key string) float64 {
	if v, ok := m[key]; ok {
		if n, ok := v.(float64); ok {
			return n
		}
	}
	return 0
}
