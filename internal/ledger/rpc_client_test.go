package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// rpcHandler answers every method from a fixed result map.
func rpcHandler(t *testing.T, results map[string]interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		result, ok := results[req.Method]
		if !ok {
			t.Errorf("unexpected method %s", req.Method)
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func TestHTTPClient_GetSequence(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, map[string]interface{}{
		"getSequenceNumber": uint64(42),
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	seq, err := client.GetSequence(context.Background(), "addr1")
	if err != nil {
		t.Fatalf("GetSequence: %v", err)
	}
	if seq != 42 {
		t.Errorf("expected sequence 42, got %d", seq)
	}
}

func TestHTTPClient_GetQuote(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, map[string]interface{}{
		"quote": 997.5,
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	out, err := client.GetQuote(context.Background(), Path{AssetIn: "BASE", AssetOut: "TOKEN"}, 1.0)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if out != 997.5 {
		t.Errorf("expected 997.5, got %f", out)
	}
}

func TestHTTPClient_GetTransactionStatus(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, map[string]interface{}{
		"getTransactionStatus": map[string]interface{}{
			"hash":        "abc",
			"included":    true,
			"blockNumber": uint64(1234),
			"success":     true,
			"amountOut":   950.0,
		},
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	st, err := client.GetTransactionStatus(context.Background(), "abc")
	if err != nil {
		t.Fatalf("GetTransactionStatus: %v", err)
	}
	if st == nil {
		t.Fatal("expected status, got nil")
	}
	if !st.Included || st.BlockNumber != 1234 {
		t.Errorf("unexpected status: %+v", st)
	}
	if st.AmountOut != 950.0 {
		t.Errorf("expected amountOut 950, got %f", st.AmountOut)
	}
}

func TestHTTPClient_GetTransactionStatus_Unknown(t *testing.T) {
	server := httptest.NewServer(rpcHandler(t, map[string]interface{}{
		"getTransactionStatus": nil,
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	st, err := client.GetTransactionStatus(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetTransactionStatus: %v", err)
	}
	if st != nil {
		t.Errorf("expected nil status for unknown tx, got %+v", st)
	}
}

func TestHTTPClient_RPCErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]interface{}{"code": -32000, "message": "insufficient funds"},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithMaxRetries(3), WithRetryDelay(time.Millisecond))
	_, err := client.BroadcastTransaction(context.Background(), []byte("tx"))
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("RPC error retried: %d calls", calls.Load())
	}
}

func TestHTTPClient_TransportErrorRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  uint64(7),
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithMaxRetries(5), WithRetryDelay(time.Millisecond))
	n, err := client.GetBlockNumber(context.Background())
	if err != nil {
		t.Fatalf("GetBlockNumber: %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7, got %d", n)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}
