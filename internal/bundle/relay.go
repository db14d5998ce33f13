// Package bundle wraps signed transactions into simulate-then-submit
// units and drives their submission to relay/builder endpoints.
package bundle

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

	"onchain-executor/internal/domain"
)

// Relay is one relay/builder endpoint accepting simulation and
// submission requests.
type Relay interface {
	// Name identifies the endpoint in logs and outcomes.
	Name() string

	// SimulateBundle runs the bundle against the target block's state
	// without submitting it.
	SimulateBundle(ctx context.Context, b *domain.Bundle) (*domain.SimulationResult, error)

	// SubmitBundle submits the bundle for inclusion in its target
	// block. Returns the relay's acknowledgment id.
	SubmitBundle(ctx context.Context, b *domain.Bundle) (string, error)

	// SubmitPrivateTransaction submits a single transaction through
	// the relay's private channel, returning its hash.
	SubmitPrivateTransaction(ctx context.Context, tx *domain.SignedTransaction) (string, error)
}

// RelayClient is a JSON-RPC 2.0 client for one relay endpoint. Relay
// calls are latency-critical and are not retried; multi-block
// replication is the retry mechanism.
type RelayClient struct {
	name      string
	endpoint  string
	client    *http.Client
	requestID atomic.Uint64
}

// NewRelayClient creates a relay client. timeout bounds each call.
func NewRelayClient(name, endpoint string, timeout time.Duration) *RelayClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RelayClient{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name identifies the endpoint.
func (c *RelayClient) Name() string { return c.name }

type relayRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type relayResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *relayError     `json:"error,omitempty"`
}

type relayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *relayError) Error() string {
	return fmt.Sprintf("relay error %d: %s", e.Code, e.Message)
}

// call performs a single JSON-RPC call, no retries.
func (c *RelayClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(relayRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("relay %s: read response: %w", c.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay %s: status %d: %s", c.name, resp.StatusCode, string(respBody))
	}

	var rpcResp relayResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("relay %s: unmarshal response: %w", c.name, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("relay %s: unmarshal result: %w", c.name, err)
		}
	}
	return nil
}

// bundleParam is the wire form of a bundle for relay calls.
type bundleParam struct {
	Transactions []string `json:"transactions"` // base58 raw payloads
	TargetBlock  uint64   `json:"targetBlock"`
	MinTimestamp int64    `json:"minTimestamp,omitempty"`
	MaxTimestamp int64    `json:"maxTimestamp,omitempty"`
}

func encodeBundle(b *domain.Bundle) bundleParam {
	txs := make([]string, len(b.Transactions))
	for i, tx := range b.Transactions {
		txs[i] = base58.Encode(tx.Raw)
	}
	return bundleParam{
		Transactions: txs,
		TargetBlock:  b.TargetBlock,
		MinTimestamp: b.MinTimestamp,
		MaxTimestamp: b.MaxTimestamp,
	}
}

// simulationResult is the raw relay response for simulateBundle.
type simulationResult struct {
	Success      bool    `json:"success"`
	TotalGasUsed uint64  `json:"totalGasUsed"`
	TotalFee     float64 `json:"totalFee"`
	Reason       string  `json:"reason,omitempty"`
	Transactions []struct {
		Hash      string  `json:"hash"`
		Success   bool    `json:"success"`
		GasUsed   uint64  `json:"gasUsed"`
		Fee       float64 `json:"fee"`
		AmountOut float64 `json:"amountOut"`
		Revert    string  `json:"revert,omitempty"`
	} `json:"transactions"`
}

// SimulateBundle runs the bundle against the relay's simulator.
func (c *RelayClient) SimulateBundle(ctx context.Context, b *domain.Bundle) (*domain.SimulationResult, error) {
	var raw simulationResult
	if err := c.call(ctx, "simulateBundle", []interface{}{encodeBundle(b)}, &raw); err != nil {
		return nil, err
	}

	result := &domain.SimulationResult{
		Success:      raw.Success,
		TotalGasUsed: raw.TotalGasUsed,
		TotalFee:     raw.TotalFee,
		Reason:       raw.Reason,
	}
	for _, tx := range raw.Transactions {
		result.Transactions = append(result.Transactions, domain.TxOutcome{
			Hash:      tx.Hash,
			Success:   tx.Success,
			GasUsed:   tx.GasUsed,
			Fee:       tx.Fee,
			AmountOut: tx.AmountOut,
			Revert:    tx.Revert,
		})
	}
	return result, nil
}

// SubmitBundle submits the bundle for its target block.
func (c *RelayClient) SubmitBundle(ctx context.Context, b *domain.Bundle) (string, error) {
	var ack string
	if err := c.call(ctx, "sendBundle", []interface{}{encodeBundle(b)}, &ack); err != nil {
		return "", err
	}
	return ack, nil
}

// SubmitPrivateTransaction submits one transaction privately.
func (c *RelayClient) SubmitPrivateTransaction(ctx context.Context, tx *domain.SignedTransaction) (string, error) {
	var hash string
	params := []interface{}{base58.Encode(tx.Raw)}
	if err := c.call(ctx, "sendPrivateTransaction", params, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

var _ Relay = (*RelayClient)(nil)
