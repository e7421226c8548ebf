package diagnostics

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHubBroadcastsSnapshotToClient(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(hub)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the hub's register channel a moment to pick up the connection
	// before publishing, since Publish only reaches already-registered
	// clients.
	time.Sleep(20 * time.Millisecond)

	hub.Publish(Snapshot{TimestampMicros: 42, RayQueueLen: 7})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got Snapshot
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TimestampMicros != 42 || got.RayQueueLen != 7 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestHubReplaysLatestFrameToNewClient(t *testing.T) {
	hub := NewHub()
	hub.Publish(Snapshot{TimestampMicros: 1})

	// Let the publish settle into h.latest before any client connects.
	time.Sleep(10 * time.Millisecond)

	server := httptest.NewServer(hub)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Snapshot
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TimestampMicros != 1 {
		t.Fatalf("expected the replayed snapshot, got %+v", got)
	}
}
