// Package feed serves a WebSocket feed of keynote tracking events.
//
// The server broadcasts tracker lifecycle and sync events to connected
// clients so editors and dashboards can show whether a document's keynote
// table is current.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/keynotes-rtc/keynotes/internal/registry"
	"github.com/keynotes-rtc/keynotes/internal/tracker"
)

// MessageType defines the type of feed message
type MessageType string

const (
	// MessageTypeWelcome is sent once to every new client
	MessageTypeWelcome MessageType = "welcome"

	// MessageTypeStarted indicates tracking of a keynote file started
	MessageTypeStarted MessageType = "tracking_started"

	// MessageTypeStopped indicates tracking stopped
	MessageTypeStopped MessageType = "tracking_stopped"

	// MessageTypeInert indicates tracking could not start
	MessageTypeInert MessageType = "tracking_inert"

	// MessageTypeReloaded indicates a keynote table reload was committed
	MessageTypeReloaded MessageType = "reloaded"

	// MessageTypeFailed indicates a reload attempt failed
	MessageTypeFailed MessageType = "reload_failed"
)

var eventTypes = map[tracker.EventType]MessageType{
	tracker.EventStarted:  MessageTypeStarted,
	tracker.EventStopped:  MessageTypeStopped,
	tracker.EventInert:    MessageTypeInert,
	tracker.EventReloaded: MessageTypeReloaded,
	tracker.EventFailed:   MessageTypeFailed,
}

// Message represents a feed broadcast message
type Message struct {
	Type       MessageType       `json:"type"`
	DocumentID int64             `json:"document_id,omitempty"`
	Document   string            `json:"document,omitempty"`
	Keynotes   string            `json:"keynotes,omitempty"`
	Error      string            `json:"error,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Documents  []registry.Status `json:"documents,omitempty"`
}

// MessageFromEvent converts a tracker event into a feed message.
func MessageFromEvent(e tracker.Event) Message {
	typ, ok := eventTypes[e.Type]
	if !ok {
		typ = MessageType(e.Type)
	}
	msg := Message{
		Type:       typ,
		DocumentID: e.DocumentID,
		Document:   e.Document,
		Keynotes:   e.Keynotes,
		Timestamp:  e.Time,
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg
}

// Server manages WebSocket connections and broadcasts feed messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	status   func() []registry.Status

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast chan Message

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

// Config configures the event feed.
type Config struct {
	// Addr to listen on (default: 127.0.0.1:0, a random port)
	Addr string

	// Status reports the tracked documents for /health and the welcome
	// message. Optional.
	Status func() []registry.Status

	// Logger for server activity (default: slog.Default())
	Logger *slog.Logger
}

// NewServer creates a new feed server
func NewServer(config Config) *Server {
	if config.Addr == "" {
		config.Addr = "127.0.0.1:0"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      config.Addr,
		status:    config.Status,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start listens on the configured address and serves /ws and /health.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("feed server listening", slog.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("feed server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop closes every client connection and shuts the listener down.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	s.logger.Debug("stopping feed server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("feed server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Debug("feed server stopped")
	return nil
}

// Notify implements tracker.Observer. It never blocks.
func (s *Server) Notify(e tracker.Event) {
	s.Broadcast(MessageFromEvent(e))
}

// Broadcast queues a message for all connected clients. The message is
// dropped when the queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Warn("broadcast channel full, dropping message", slog.String("type", string(msg.Type)))
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
				s.logger.Error("failed to marshal message", slog.String("error", err.Error()))
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Written outside the lock so a slow client cannot stall new
			// connections.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Debug("failed to send to client", slog.String("error", err.Error()))
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Debug("feed client connected", slog.Int("clients", clientCount))

	welcome := Message{
		Type:      MessageTypeWelcome,
		Timestamp: time.Now(),
	}
	if s.status != nil {
		welcome.Documents = s.status()
	}
	if data, err := json.Marshal(welcome); err == nil {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		_ = conn.Write(ctx, websocket.MessageText, data)
		cancel()
	}

	go s.readLoop(conn)
}

// readLoop keeps the connection alive until the client goes away. Client
// messages are ignored.
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
	if _, exists := s.clients[conn]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Debug("feed client disconnected", slog.Int("clients", clientCount))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := struct {
		Status    string            `json:"status"`
		Clients   int               `json:"clients"`
		Documents []registry.Status `json:"documents,omitempty"`
	}{
		Status:  "ok",
		Clients: s.ClientCount(),
	}
	if s.status != nil {
		body.Documents = s.status()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected feed clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
