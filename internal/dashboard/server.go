// Package dashboard serves the sync status of a running watchfolio process.
//
// Clients connect to /ws and receive a JSON message whenever the sync status
// or the library changes. /status and /stats return the current values for
// clients that only poll.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"

	"github.com/zawalid/watchfolio/internal/cloudsync"
	"github.com/zawalid/watchfolio/internal/library/store"
)

// MessageType identifies a dashboard message.
type MessageType string

const (
	// MessageTypeStatus carries a cloudsync.Status.
	MessageTypeStatus MessageType = "sync_status"

	// MessageTypeLibraryChange carries a LibraryChangeData.
	MessageTypeLibraryChange MessageType = "library_change"

	// MessageTypeStats carries a store.LibraryStats.
	MessageTypeStats MessageType = "stats"
)

// Message is one websocket frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// LibraryChangeData describes a committed local write.
type LibraryChangeData struct {
	Action string   `json:"action"`
	IDs    []string `json:"ids,omitempty"`
}

// NewMessage encodes v as the payload of a message of type t.
func NewMessage(t MessageType, v interface{}) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s message: %w", t, err)
	}
	return Message{Type: t, Timestamp: time.Now(), Data: data}, nil
}

// StatusSource provides the current sync status.
type StatusSource interface {
	Status() cloudsync.Status
}

// StatsSource provides library statistics.
type StatsSource interface {
	Stats(ctx context.Context) (store.LibraryStats, error)
}

// Config holds server configuration.
type Config struct {
	// Addr is the listen address (default 127.0.0.1:8477). Use port 0 for a
	// random port.
	Addr string

	// Status and Stats back the polling endpoints and the welcome message.
	// Either may be nil.
	Status StatusSource
	Stats  StatsSource

	Logger *log.Logger
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:8477",
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// Server manages websocket clients and broadcasts dashboard messages.
type Server struct {
	addr     string
	status   StatusSource
	stats    StatsSource
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a server. It does not listen until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      config.Addr,
		status:    config.Status,
		stats:     config.Stats,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Router returns the HTTP routes. Start serves them; tests may mount them on
// an httptest server.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	return r
}

// Start listens and begins serving.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Router(),
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop closes every client and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Println("Dashboard stopped")
	return nil
}

// Broadcast queues msg for every client. Messages are dropped when the
// queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				if err := s.write(conn, data); err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("Client connected (total: %d)", count)

	// New clients start from the current status.
	var welcome Message
	if s.status != nil {
		welcome, err = NewMessage(MessageTypeStatus, s.status.Status())
	} else {
		welcome, err = NewMessage(MessageTypeStatus, nil)
	}
	if err == nil {
		data, _ := json.Marshal(welcome)
		_ = s.write(conn, data)
	}

	go s.readLoop(conn)
}

// readLoop drains client frames until the connection closes.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, ok := s.clients[conn]; !ok {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client disconnected (total: %d)", count)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "sync engine not running"})
		return
	}
	body, err := statusBody(s.status.Status(), time.Now())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// statusBody renders a status with its derived level and text.
func statusBody(st cloudsync.Status, now time.Time) (map[string]interface{}, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	var body map[string]interface{}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	body["level"] = st.Level()
	body["text"] = st.Text(now)
	return body, nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "library not available"})
		return
	}
	stats, err := s.stats.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Watchfolio</title>
</head>
<body>
    <h1>Watchfolio sync dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Status: <a href="/status">/status</a> &middot; Stats: <a href="/stats">/stats</a> &middot; Health: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
