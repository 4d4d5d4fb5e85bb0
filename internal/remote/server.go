package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Server is a self-hostable document store implementing the sync
// protocol: per-namespace collections addressed as
// /v1/users/{ns}/{collection}/{id}, with live snapshots pushed to
// WebSocket watchers on every change. Documents get a server-assigned
// syncedAt timestamp on write.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	// collections maps "namespace/collection" to its documents.
	collections map[string]map[string]json.RawMessage
	collMu      sync.RWMutex

	// watchers maps "namespace/collection" to connected clients.
	watchers  map[string]map[*websocket.Conn]bool
	watcherMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Port to listen on (default: 8600)
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:   8600,
		Logger: log.Default(),
	}
}

// NewServer creates a document store server.
func NewServer(config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:        fmt.Sprintf(":%d", config.Port),
		collections: make(map[string]map[string]json.RawMessage),
		watchers:    make(map[string]map[*websocket.Conn]bool),
		ctx:         ctx,
		cancel:      cancel,
		logger:      config.Logger,
	}
}

// Start begins serving. Non-blocking; use Stop to shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Sync server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Handler returns the HTTP handler, usable directly with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/users/{ns}/{collection}", s.handleReadAll)
	mux.HandleFunc("GET /v1/users/{ns}/{collection}/watch", s.handleWatch)
	mux.HandleFunc("PUT /v1/users/{ns}/{collection}/{id}", s.handleWrite)
	mux.HandleFunc("DELETE /v1/users/{ns}/{collection}/{id}", s.handleDelete)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping sync server")

	s.cancel()

	s.watcherMu.Lock()
	for _, conns := range s.watchers {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		}
	}
	s.watchers = make(map[string]map[*websocket.Conn]bool)
	s.watcherMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Println("Sync server stopped")
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func collectionKey(ns, collection string) string {
	return ns + "/" + collection
}

// handleWrite upserts a document, stamping syncedAt.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	ns, collection, id := r.PathValue("ns"), r.PathValue("collection"), r.PathValue("id")

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		http.Error(w, "document must be a JSON object", http.StatusBadRequest)
		return
	}
	// The store rejects explicit null attributes, like the production
	// document databases this server stands in for.
	for k, v := range doc {
		if string(v) == "null" {
			http.Error(w, fmt.Sprintf("attribute %q must not be null", k), http.StatusBadRequest)
			return
		}
	}

	syncedAt, _ := json.Marshal(time.Now().UnixMilli())
	doc["syncedAt"] = syncedAt
	stored, err := json.Marshal(doc)
	if err != nil {
		http.Error(w, "failed to encode document", http.StatusInternalServerError)
		return
	}

	key := collectionKey(ns, collection)
	s.collMu.Lock()
	if s.collections[key] == nil {
		s.collections[key] = make(map[string]json.RawMessage)
	}
	s.collections[key][id] = stored
	s.collMu.Unlock()

	s.logger.Printf("Write %s/%s", key, id)
	s.broadcastSnapshot(key)
	w.WriteHeader(http.StatusNoContent)
}

// handleDelete removes a document. Absent ids succeed.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ns, collection, id := r.PathValue("ns"), r.PathValue("collection"), r.PathValue("id")

	key := collectionKey(ns, collection)
	s.collMu.Lock()
	if docs := s.collections[key]; docs != nil {
		delete(docs, id)
	}
	s.collMu.Unlock()

	s.logger.Printf("Delete %s/%s", key, id)
	s.broadcastSnapshot(key)
	w.WriteHeader(http.StatusNoContent)
}

// handleReadAll returns the full collection contents.
func (s *Server) handleReadAll(w http.ResponseWriter, r *http.Request) {
	ns, collection := r.PathValue("ns"), r.PathValue("collection")

	docs := s.snapshot(collectionKey(ns, collection))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"docs": docs})
}

// handleWatch upgrades to WebSocket and streams snapshots.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	ns, collection := r.PathValue("ns"), r.PathValue("collection")
	key := collectionKey(ns, collection)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.watcherMu.Lock()
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[*websocket.Conn]bool)
	}
	s.watchers[key][conn] = true
	count := len(s.watchers[key])
	s.watcherMu.Unlock()

	s.logger.Printf("Watcher connected to %s (total: %d)", key, count)

	// Initial snapshot so the client starts from the current state.
	s.sendSnapshot(conn, key, collection)

	go s.readLoop(conn, key)
}

// readLoop keeps the connection alive and detects disconnects.
func (s *Server) readLoop(conn *websocket.Conn, key string) {
	defer s.removeWatcher(conn, key)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeWatcher(conn *websocket.Conn, key string) {
	s.watcherMu.Lock()
	if conns := s.watchers[key]; conns != nil {
		delete(conns, conn)
	}
	s.watcherMu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// snapshot returns the documents of a collection sorted by id.
func (s *Server) snapshot(key string) []Document {
	s.collMu.RLock()
	defer s.collMu.RUnlock()

	docs := make([]Document, 0, len(s.collections[key]))
	for id, data := range s.collections[key] {
		docs = append(docs, Document{ID: id, Data: data})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

// broadcastSnapshot pushes the current collection state to every
// watcher of the key.
func (s *Server) broadcastSnapshot(key string) {
	s.watcherMu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.watchers[key]))
	for conn := range s.watchers[key] {
		conns = append(conns, conn)
	}
	s.watcherMu.Unlock()

	if len(conns) == 0 {
		return
	}

	collection := key
	if idx := strings.LastIndexByte(key, '/'); idx >= 0 {
		collection = key[idx+1:]
	}

	for _, conn := range conns {
		if !s.writeSnapshot(conn, key, collection) {
			s.removeWatcher(conn, key)
		}
	}
}

func (s *Server) sendSnapshot(conn *websocket.Conn, key, collection string) {
	if !s.writeSnapshot(conn, key, collection) {
		s.removeWatcher(conn, key)
	}
}

func (s *Server) writeSnapshot(conn *websocket.Conn, key, collection string) bool {
	msg := snapshotMessage{Collection: collection, Docs: s.snapshot(key)}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal snapshot: %v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.logger.Printf("Failed to send snapshot: %v", err)
		return false
	}
	return true
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.collMu.RLock()
	collections := len(s.collections)
	s.collMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"collections": collections,
	})
}
