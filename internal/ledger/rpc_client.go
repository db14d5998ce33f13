package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// HTTPClient implements Client and QuoteClient over HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a ledger gateway client for endpoint.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with retries and exponential backoff.
// RPC-level errors are not retried; transport errors and 429s are.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// BroadcastTransaction submits a signed transaction to the public mempool.
func (c *HTTPClient) BroadcastTransaction(ctx context.Context, raw []byte) (string, error) {
	var hash string
	params := []interface{}{base58.Encode(raw)}
	if err := c.call(ctx, "sendTransaction", params, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

// GetSequence returns the account's next unused sequence number,
// counting pending transactions.
func (c *HTTPClient) GetSequence(ctx context.Context, address string) (uint64, error) {
	var seq uint64
	params := []interface{}{address, map[string]string{"commitment": "pending"}}
	if err := c.call(ctx, "getSequenceNumber", params, &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// GetBalance returns an account's balance of the given asset.
func (c *HTTPClient) GetBalance(ctx context.Context, address, asset string) (float64, error) {
	var balance float64
	if err := c.call(ctx, "getBalance", []interface{}{address, asset}, &balance); err != nil {
		return 0, err
	}
	return balance, nil
}

// GetBlockNumber returns the latest block number.
func (c *HTTPClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	if err := c.call(ctx, "blockNumber", nil, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// txStatusResult is the raw RPC response for getTransactionStatus.
type txStatusResult struct {
	Hash        string  `json:"hash"`
	Included    bool    `json:"included"`
	BlockNumber uint64  `json:"blockNumber"`
	Success     bool    `json:"success"`
	Fee         float64 `json:"fee"`
	AmountOut   float64 `json:"amountOut"`
}

// GetTransactionStatus looks up inclusion state by hash. Returns nil
// when the ledger does not know the transaction.
func (c *HTTPClient) GetTransactionStatus(ctx context.Context, hash string) (*TxStatus, error) {
	var result *txStatusResult
	if err := c.call(ctx, "getTransactionStatus", []interface{}{hash}, &result); err != nil {
		return nil, err
	}
	if result == nil || result.Hash == "" {
		return nil, nil
	}
	return &TxStatus{
		Hash:        result.Hash,
		Included:    result.Included,
		BlockNumber: result.BlockNumber,
		Success:     result.Success,
		Fee:         result.Fee,
		AmountOut:   result.AmountOut,
	}, nil
}

// GetQuote returns the output amount for a swap along path.
func (c *HTTPClient) GetQuote(ctx context.Context, path Path, amountIn float64) (float64, error) {
	var out float64
	params := []interface{}{path.AssetIn, path.AssetOut, amountIn}
	if err := c.call(ctx, "quote", params, &out); err != nil {
		return 0, err
	}
	return out, nil
}

// EstimateFees returns advisory fee-market data for an urgency level
// ("low", "normal", "high").
func (c *HTTPClient) EstimateFees(ctx context.Context, urgency string) (*FeeQuote, error) {
	var result struct {
		BaseFee     float64 `json:"baseFee"`
		PriorityFee float64 `json:"priorityFee"`
		MaxFee      float64 `json:"maxFee"`
	}
	if err := c.call(ctx, "estimateFees", []interface{}{urgency}, &result); err != nil {
		return nil, err
	}
	return &FeeQuote{
		BaseFee:     result.BaseFee,
		PriorityFee: result.PriorityFee,
		MaxFee:      result.MaxFee,
	}, nil
}

// Compile-time interface checks.
var (
	_ Client      = (*HTTPClient)(nil)
	_ QuoteClient = (*HTTPClient)(nil)
)
