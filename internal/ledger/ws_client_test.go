package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// headServer confirms the newHeads subscription and then streams heads.
func headServer(t *testing.T, heads []headNotification) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Method != "subscribeNewHeads" {
			t.Errorf("expected subscribeNewHeads, got %s", req.Method)
		}

		conn.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  int64(1),
		})

		for _, h := range heads {
			raw, _ := json.Marshal(h)
			conn.WriteJSON(map[string]interface{}{
				"jsonrpc": "2.0",
				"method":  "newHeadsNotification",
				"params": map[string]interface{}{
					"subscription": int64(1),
					"result":       json.RawMessage(raw),
				},
			})
		}

		// Keep connection open until the client closes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestWSClient_SubscribeNewHeads(t *testing.T) {
	server := headServer(t, []headNotification{
		{Number: 100, Hash: "h100", Timestamp: 1700000000},
		{Number: 101, Hash: "h101", Timestamp: 1700000001},
	})
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	client, err := NewWSClient(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	heads, err := client.SubscribeNewHeads(context.Background())
	if err != nil {
		t.Fatalf("SubscribeNewHeads: %v", err)
	}

	for _, want := range []uint64{100, 101} {
		select {
		case head := <-heads:
			if head.Number != want {
				t.Errorf("expected head %d, got %d", want, head.Number)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for head %d", want)
		}
	}
}

func TestWSClient_CloseClosesSubscribers(t *testing.T) {
	server := headServer(t, nil)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, err := NewWSClient(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	heads, err := client.SubscribeNewHeads(context.Background())
	if err != nil {
		t.Fatalf("SubscribeNewHeads: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case _, ok := <-heads:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Error("subscriber channel not closed")
	}
}
