package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ryanbastic/go-diary/internal/circuitbreaker"
)

// JSONRPCRequest is a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// errPermanent marks a response that retrying will not fix.
var errPermanent = errors.New("permanent rpc failure")

// RPCClient sends JSON-RPC 2.0 requests over HTTP with retries. Each
// endpoint sits behind its own circuit breaker; an open breaker fails the
// call without touching the network.
type RPCClient struct {
	httpClient *http.Client
	breakers   *circuitbreaker.Group
	nextID     atomic.Int64
	maxRetries int
	baseDelay  time.Duration
}

// NewRPCClient creates a client with the given retry settings and timeout.
// breakers may be nil to disable circuit breaking.
func NewRPCClient(maxRetries int, baseDelay, timeout time.Duration, breakers *circuitbreaker.Group) *RPCClient {
	return &RPCClient{
		httpClient: &http.Client{Timeout: timeout},
		breakers:   breakers,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// Call sends a JSON-RPC 2.0 request to endpoint. Network errors and 5xx
// responses are retried with exponential backoff.
func (c *RPCClient) Call(ctx context.Context, endpoint, method string, params any) (*JSONRPCResponse, error) {
	data, err := json.Marshal(JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	var lastErr error
	for attempt := range c.maxRetries + 1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.attempt(ctx, endpoint, data)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, errPermanent) {
			return nil, err
		}
		lastErr = err

		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.baseDelay << attempt):
			}
		}
	}

	return nil, fmt.Errorf("rpc call failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *RPCClient) attempt(ctx context.Context, endpoint string, data []byte) (*JSONRPCResponse, error) {
	if c.breakers == nil {
		return c.doRequest(ctx, endpoint, data)
	}
	var (
		resp    *JSONRPCResponse
		callErr error
	)
	err := c.breakers.Execute(endpoint, func() error {
		resp, callErr = c.doRequest(ctx, endpoint, data)
		if errors.Is(callErr, errPermanent) {
			// The endpoint answered; that is not an outage.
			return nil
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, callErr
}

func (c *RPCClient) doRequest(ctx context.Context, endpoint string, data []byte) (*JSONRPCResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("server error: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d: %s", errPermanent, resp.StatusCode, string(body))
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal rpc response: %v", errPermanent, err)
	}

	return &rpcResp, nil
}
