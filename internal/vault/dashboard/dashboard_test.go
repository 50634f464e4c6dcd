package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/draftvault/draftvault/internal/vault"
)

// fakeStore serves a fixed pending snapshot.
type fakeStore struct {
	pending map[string][]vault.Revision
}

func (f *fakeStore) Register(rootFolder, glob string) error                   { return nil }
func (f *fakeStore) Read(folder, file string) ([]byte, error)                 { return nil, vault.ErrNotFound }
func (f *fakeStore) RecordRevision(folder, file string, content []byte) error { return nil }
func (f *fakeStore) SoftDelete(folder, file string) error                     { return nil }
func (f *fakeStore) List(folder, suffix string) ([]string, error)             { return nil, nil }
func (f *fakeStore) Pending() map[string][]vault.Revision                     { return f.pending }
func (f *fakeStore) PendingWithContent() (map[string]vault.FolderChanges, error) {
	return nil, nil
}
func (f *fakeStore) Refresh(folder string) error { return nil }
func (f *fakeStore) RefreshAll() error           { return nil }
func (f *fakeStore) Close() error                { return nil }

func testServer(t *testing.T, store vault.Store) *Server {
	t.Helper()

	config := &Config{
		Port:   0, // Use random available port
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	}
	server := NewServer(store, config)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	// Give server time to start
	time.Sleep(100 * time.Millisecond)
	return server
}

func TestServerStartStop(t *testing.T) {
	server := testServer(t, &fakeStore{})

	if server.GetAddr() == "" {
		t.Fatal("Server address is empty")
	}
}

func TestWebSocketWelcomeMessage(t *testing.T) {
	store := &fakeStore{
		pending: map[string][]vault.Revision{
			"flows": {{Folder: "flows", File: "a.json", Token: "tok-1"}},
		},
	}
	server := testServer(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypePending {
		t.Errorf("Expected welcome message type %s, got %s", MessageTypePending, msg.Type)
	}

	var stats PendingStats
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatalf("Failed to unmarshal stats: %v", err)
	}
	if stats.Folders != 1 || stats.Total != 1 || stats.ByName["flows"] != 1 {
		t.Errorf("Unexpected welcome stats: %+v", stats)
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	store := &fakeStore{}
	server := testServer(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Drain welcome message
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	handler := NewHandler(server, store, log.New(os.Stderr, "[test] ", 0))
	handler.OnRevisionRecorded("flows", "a.json")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeRevision {
		t.Errorf("Expected %s, got %s", MessageTypeRevision, msg.Type)
	}

	var rev RevisionData
	if err := json.Unmarshal(msg.Data, &rev); err != nil {
		t.Fatalf("Failed to unmarshal revision data: %v", err)
	}
	if rev.Folder != "flows" || rev.File != "a.json" {
		t.Errorf("Unexpected revision data: %+v", rev)
	}
}

// A raw filesystem edit is announced as file_changed, never as a recorded
// revision, and does not push new pending statistics.
func TestFileChangedBroadcast(t *testing.T) {
	store := &fakeStore{}
	server := testServer(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Drain welcome message
	if _, _, err := conn.Read(ctx); err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}

	handler := NewHandler(server, store, log.New(os.Stderr, "[test] ", 0))
	handler.OnFileChanged("flows", "a.json")
	handler.OnRevisionRecorded("flows", "a.json")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeFileChanged {
		t.Errorf("Expected %s, got %s", MessageTypeFileChanged, msg.Type)
	}

	// The next message comes from the recorded revision, proving the
	// file_changed event enqueued no pending stats of its own
	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read second broadcast: %v", err)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeRevision {
		t.Errorf("Expected %s, got %s", MessageTypeRevision, msg.Type)
	}
}

func TestPendingEndpoint(t *testing.T) {
	store := &fakeStore{
		pending: map[string][]vault.Revision{
			"flows": {{Folder: "flows", File: "a.json", Token: "tok-1"}},
		},
	}
	server := testServer(t, store)

	resp, err := http.Get("http://" + server.GetAddr() + "/pending")
	if err != nil {
		t.Fatalf("GET /pending failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var pending map[string][]vault.Revision
	if err := json.NewDecoder(resp.Body).Decode(&pending); err != nil {
		t.Fatalf("Failed to decode pending response: %v", err)
	}
	if len(pending["flows"]) != 1 || pending["flows"][0].Token != "tok-1" {
		t.Errorf("Unexpected pending payload: %v", pending)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := testServer(t, &fakeStore{})

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", body["status"])
	}
}
