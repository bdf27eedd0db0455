package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/rpcbench/pkg/types"
)

// bodyPreviewLen bounds the response sample carried into logs and error
// messages.
const bodyPreviewLen = 100

// JSONRPCRequest represents a JSON-RPC request
type JSONRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response. The error field is kept
// raw because providers disagree on its shape: some send an object with a
// message, others a bare string.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
	ID      int             `json:"id"`
}

// HTTPStatusError reports a non-2xx HTTP response. The body is never parsed
// as JSON-RPC; its leading bytes are sampled for the error message only.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// CallRecord is the measurement of a single call attempt: wall-clock start
// and end around the request, plus the recorded failure if any. Records are
// immutable once returned.
type CallRecord struct {
	Start time.Time
	End   time.Time
	Err   *string
}

// Failed reports whether the call recorded an error.
func (r CallRecord) Failed() bool { return r.Err != nil }

// Duration returns the measured wall-clock time of the call.
func (r CallRecord) Duration() time.Duration { return r.End.Sub(r.Start) }

// Caller issues JSON-RPC calls against a single endpoint, drawing an HTTP
// client from its provider for every call.
type Caller struct {
	url      string
	encoding types.NumberEncoding
	clients  ClientProvider
	logger   *slog.Logger
}

// NewCaller builds a caller for one endpoint. The encoding controls how
// block numbers are rendered in request params.
func NewCaller(url string, encoding types.NumberEncoding, clients ClientProvider, logger *slog.Logger) *Caller {
	return &Caller{
		url:      url,
		encoding: encoding,
		clients:  clients,
		logger:   logger,
	}
}

// Call performs exactly one JSON-RPC request over HTTP POST. There are no
// retries: every failure mode (transport error, timeout, protocol error,
// non-2xx status) is folded into the returned record, so one failed call
// never affects its siblings. The raw response body is returned when a
// usable response arrived, nil otherwise.
func (c *Caller) Call(ctx context.Context, method string, params []interface{}) ([]byte, CallRecord) {
	client := c.clients.Acquire()

	payload, err := json.Marshal(JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		now := time.Now()
		msg := fmt.Sprintf("failed to marshal request: %v", err)
		return nil, CallRecord{Start: now, End: now, Err: &msg}
	}

	start := time.Now()
	body, err := c.post(ctx, client, payload)
	end := time.Now()

	rec := CallRecord{Start: start, End: end}

	if err != nil {
		msg := err.Error()
		rec.Err = &msg
		c.logger.Warn("rpc call failed",
			"method", method,
			"duration", end.Sub(start),
			"error", msg)
		return nil, rec
	}

	c.logger.Debug("rpc call completed",
		"method", method,
		"duration", end.Sub(start),
		"body", preview(body))

	var resp JSONRPCResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		msg := fmt.Sprintf("failed to unmarshal response: %v", err)
		rec.Err = &msg
		return body, rec
	}

	rec.Err = recordError(resp.Error)
	if rec.Err != nil {
		c.logger.Warn("rpc error response",
			"method", method,
			"error", *rec.Err)
	}
	return body, rec
}

// GetBlockByNumber issues eth_getBlockByNumber for one block with
// header-only payload and returns its record.
func (c *Caller) GetBlockByNumber(ctx context.Context, number uint64) CallRecord {
	_, rec := c.Call(ctx, "eth_getBlockByNumber", []interface{}{c.blockArg(number), false})
	return rec
}

// post sends one request and returns the raw response body. A non-2xx
// status is collapsed into the error path: the response is discarded, never
// parsed as JSON-RPC, with only a body sample kept for the message.
func (c *Caller) post(ctx context.Context, client *http.Client, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		sample, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(sample)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// blockArg renders a block number in the endpoint's expected encoding: a
// 0x-prefixed JSON string for hex, a bare JSON number for decimal.
func (c *Caller) blockArg(number uint64) interface{} {
	if c.encoding == types.EncodingDecimal {
		return number
	}
	return hexutil.EncodeUint64(number)
}

// recordError converts a response "error" field into a record error.
// Objects contribute their nested "message" (absent message means no
// error); any other value is captured verbatim. Explicit null counts as
// no error.
func recordError(raw json.RawMessage) *string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	if trimmed[0] == '{' {
		var obj struct {
			Message *string `json:"message"`
		}
		if err := json.Unmarshal(trimmed, &obj); err == nil {
			return obj.Message
		}
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return &s
	}
	verbatim := string(trimmed)
	return &verbatim
}

func preview(body []byte) string {
	if len(body) > bodyPreviewLen {
		body = body[:bodyPreviewLen]
	}
	return string(body)
}
