package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/zawalid/watchfolio/internal/cloudsync"
	"github.com/zawalid/watchfolio/internal/library/store"
)

func quiet() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type fakeStatus struct {
	mu sync.Mutex
	st cloudsync.Status
	fn func(cloudsync.Status)
}

func (f *fakeStatus) Status() cloudsync.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeStatus) Subscribe(fn func(cloudsync.Status)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
	return func() {
		f.mu.Lock()
		f.fn = nil
		f.mu.Unlock()
	}
}

func (f *fakeStatus) set(st cloudsync.Status) {
	f.mu.Lock()
	f.st = st
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

type fakeStats struct {
	stats store.LibraryStats
	err   error
}

func (f *fakeStats) Stats(context.Context) (store.LibraryStats, error) {
	return f.stats, f.err
}

type fakeChanges struct {
	fn func(store.ChangeEvent)
}

func (f *fakeChanges) OnChange(fn func(store.ChangeEvent)) func() {
	f.fn = fn
	return func() { f.fn = nil }
}

func startServer(t *testing.T, cfg *Config) *Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	cfg.Logger = quiet()
	server := NewServer(cfg)
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to unmarshal message: %v", err)
	}
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Addr: "127.0.0.1:0", Logger: quiet()})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if server.Addr() == "127.0.0.1:0" {
		t.Error("Addr() did not report the bound port")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}

func TestWebSocketWelcome(t *testing.T) {
	status := &fakeStatus{st: cloudsync.Status{IsOnline: true, PendingOperations: 2}}
	server := startServer(t, &Config{Status: status})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStatus {
		t.Fatalf("welcome type = %s, want %s", msg.Type, MessageTypeStatus)
	}
	var st struct {
		IsOnline          bool `json:"isOnline"`
		PendingOperations int  `json:"pendingOperations"`
	}
	if err := json.Unmarshal(msg.Data, &st); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if !st.IsOnline || st.PendingOperations != 2 {
		t.Errorf("welcome status = %+v", st)
	}
	if server.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", server.ClientCount())
	}
}

func TestBroadcastMultipleClients(t *testing.T) {
	server := startServer(t, &Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, ctx, server)
		readMessage(t, ctx, conns[i])
	}

	msg, err := NewMessage(MessageTypeLibraryChange, LibraryChangeData{Action: "create", IDs: []string{"movie-603"}})
	if err != nil {
		t.Fatalf("NewMessage() failed: %v", err)
	}
	server.Broadcast(msg)

	for i, conn := range conns {
		got := readMessage(t, ctx, conn)
		if got.Type != MessageTypeLibraryChange {
			t.Errorf("client %d got %s", i, got.Type)
		}
		var data LibraryChangeData
		if err := json.Unmarshal(got.Data, &data); err != nil {
			t.Fatalf("failed to decode change: %v", err)
		}
		if data.Action != "create" || len(data.IDs) != 1 || data.IDs[0] != "movie-603" {
			t.Errorf("client %d got %+v", i, data)
		}
	}
}

func TestHandlerEvents(t *testing.T) {
	status := &fakeStatus{}
	changes := &fakeChanges{}
	stats := &fakeStats{stats: store.LibraryStats{All: 3, Favorites: 1}}
	server := startServer(t, &Config{Status: status, Stats: stats})

	h := NewHandler(server, stats, quiet())
	h.Watch(status, changes)
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)
	readMessage(t, ctx, conn)

	status.set(cloudsync.Status{IsOnline: true, IsSyncing: true})
	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStatus {
		t.Fatalf("got %s, want %s", msg.Type, MessageTypeStatus)
	}

	changes.fn(store.ChangeEvent{Kind: store.ChangeDelete, IDs: []string{"tv-1396"}})
	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeLibraryChange {
		t.Fatalf("got %s, want %s", msg.Type, MessageTypeLibraryChange)
	}
	msg = readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStats {
		t.Fatalf("got %s, want %s", msg.Type, MessageTypeStats)
	}
	var got store.LibraryStats
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if got.All != 3 || got.Favorites != 1 {
		t.Errorf("stats = %+v", got)
	}

	h.Close()
	status.mu.Lock()
	subscribed := status.fn != nil
	status.mu.Unlock()
	if subscribed || changes.fn != nil {
		t.Error("Close() left subscriptions in place")
	}
}

func TestHTTPEndpoints(t *testing.T) {
	now := time.Now().Add(-5 * time.Minute)
	status := &fakeStatus{st: cloudsync.Status{IsOnline: true, LastSyncTime: &now}}

	tests := []struct {
		name     string
		cfg      *Config
		path     string
		wantCode int
		check    func(t *testing.T, body map[string]interface{})
	}{
		{
			name:     "health",
			cfg:      &Config{},
			path:     "/health",
			wantCode: http.StatusOK,
			check: func(t *testing.T, body map[string]interface{}) {
				if body["status"] != "ok" {
					t.Errorf("status = %v", body["status"])
				}
			},
		},
		{
			name:     "status without engine",
			cfg:      &Config{},
			path:     "/status",
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "status",
			cfg:      &Config{Status: status},
			path:     "/status",
			wantCode: http.StatusOK,
			check: func(t *testing.T, body map[string]interface{}) {
				if body["level"] != "ok" || body["text"] != "5m ago" {
					t.Errorf("level/text = %v/%v", body["level"], body["text"])
				}
				if body["error"] != nil {
					t.Errorf("error = %v, want null", body["error"])
				}
			},
		},
		{
			name:     "stats",
			cfg:      &Config{Stats: &fakeStats{stats: store.LibraryStats{All: 7}}},
			path:     "/stats",
			wantCode: http.StatusOK,
			check: func(t *testing.T, body map[string]interface{}) {
				if body["all"] != float64(7) {
					t.Errorf("all = %v", body["all"])
				}
			},
		},
		{
			name:     "stats failure",
			cfg:      &Config{Stats: &fakeStats{err: errors.New("db closed")}},
			path:     "/stats",
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = quiet()
			ts := httptest.NewServer(NewServer(tt.cfg).Router())
			defer ts.Close()

			resp, err := http.Get(ts.URL + tt.path)
			if err != nil {
				t.Fatalf("GET %s failed: %v", tt.path, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Fatalf("GET %s = %d, want %d", tt.path, resp.StatusCode, tt.wantCode)
			}
			if tt.check == nil {
				return
			}
			var body map[string]interface{}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			tt.check(t, body)
		})
	}
}
