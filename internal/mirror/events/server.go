// Package events provides a real-time WebSocket feed of mirror activity.
//
// The server broadcasts reconcile progress, download state changes, and
// adoption events to connected clients, so a dashboard or desktop notifier
// can follow the library without polling it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of a feed message
type MessageType string

const (
	// MessageTypeReconcileProgress reports a reconcile pass advancing
	// through a phase
	MessageTypeReconcileProgress MessageType = "reconcile_progress"

	// MessageTypeReconcileComplete reports a finished reconcile pass
	MessageTypeReconcileComplete MessageType = "reconcile_complete"

	// MessageTypeDownloadUpdate reports a placeholder replacement moving
	// between states
	MessageTypeDownloadUpdate MessageType = "download_update"

	// MessageTypeAdoption reports an untracked placeholder joining the store
	MessageTypeAdoption MessageType = "adoption"

	// MessageTypeStats reports updated library statistics
	MessageTypeStats MessageType = "stats"
)

// Message represents one broadcast frame
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ReconcileProgressData mirrors the engine's progress callback
type ReconcileProgressData struct {
	Phase string `json:"phase"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

// ReconcileCompleteData summarizes a finished reconcile pass
type ReconcileCompleteData struct {
	Created        int           `json:"created"`
	Updated        int           `json:"updated"`
	Skipped        int           `json:"skipped"`
	Failed         int           `json:"failed"`
	DeletedOrphans int           `json:"deleted_orphans"`
	Duration       time.Duration `json:"duration"`
}

// DownloadUpdateData tracks one placeholder replacement
type DownloadUpdateData struct {
	BookID string `json:"book_id"`
	Path   string `json:"path"`
	State  string `json:"state"` // detected, fetching, fetched, verified, replaced, checkpointed, opened
}

// AdoptionData reports an untracked placeholder registered in the store
type AdoptionData struct {
	Path   string `json:"path"`
	BookID string `json:"book_id,omitempty"`
}

// StatsData carries library counts
type StatsData struct {
	Total        int `json:"total"`
	Placeholders int `json:"placeholders"`
	Downloaded   int `json:"downloaded"`
}

// Server manages WebSocket connections and broadcasts feed messages
type Server struct {
	addr           string
	originPatterns []string
	listener       net.Listener
	server         *http.Server

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast chan Message

	// Last stats frame, replayed to newly connected clients
	lastStats   Message
	hasStats    bool
	lastStatsMu sync.RWMutex

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Logging
	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8090)
	Port int

	// OriginPatterns restricts which browser origins may connect to /ws.
	// Default allows all origins.
	OriginPatterns []string

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:           8090,
		OriginPatterns: []string{"*"},
		Logger:         log.Default(),
	}
}

// NewServer creates a new mirror events WebSocket server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if len(config.OriginPatterns) == 0 {
		config.OriginPatterns = []string{"*"}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:           fmt.Sprintf(":%d", config.Port),
		originPatterns: config.OriginPatterns,
		clients:        make(map[*websocket.Conn]bool),
		broadcast:      make(chan Message, 100),
		ctx:            ctx,
		cancel:         cancel,
		logger:         config.Logger,
	}
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Start broadcast handler
	s.wg.Add(1)
	go s.broadcastLoop()

	// Start HTTP server
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Events server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping events server")

	// Signal shutdown
	s.cancel()

	// Close all WebSocket connections
	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server == nil {
		s.wg.Wait()
		return nil
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	// Wait for goroutines
	s.wg.Wait()

	s.logger.Println("Events server stopped")
	return nil
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop handles message broadcasting to all clients
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

			// Remember the latest stats frame for late joiners.
			if msg.Type == MessageTypeStats {
				s.lastStatsMu.Lock()
				s.lastStats = msg
				s.hasStats = true
				s.lastStatsMu.Unlock()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			// Snapshot the client set so slow writes never block new
			// connections.
			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// New clients get the latest known stats right away.
	welcome := s.welcomeMessage()
	welcomeData, _ := json.Marshal(welcome)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, welcomeData)
	cancel()

	go s.readLoop(conn)
}

// welcomeMessage returns the frame sent to a freshly connected client.
func (s *Server) welcomeMessage() Message {
	s.lastStatsMu.RLock()
	defer s.lastStatsMu.RUnlock()
	if s.hasStats {
		return s.lastStats
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now()}
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// Client messages are not processed, the feed is one way
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
	})
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Shelfmark Events</title>
</head>
<body>
    <h1>Shelfmark Events Server</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Connect a WebSocket client to follow reconcile passes, downloads,
    and adoptions in real time.</p>
</body>
</html>`, r.Host)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
