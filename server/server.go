// Package server exposes the capture, routing, and progress-stream
// surface over HTTP and WebSocket.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/guchang/superinbox-sub005/adapter"
	"github.com/guchang/superinbox-sub005/dispatch"
	"github.com/guchang/superinbox-sub005/errors"
	"github.com/guchang/superinbox-sub005/item"
	"github.com/guchang/superinbox-sub005/routing"
)

// MaxClients bounds concurrent WebSocket connections.
const MaxClients = 100

// Server wires the stores, the orchestrator, and the progress hub
// behind one HTTP listener.
type Server struct {
	db           *sql.DB
	items        *item.Store
	rules        *routing.Store
	results      *dispatch.ResultStore
	orchestrator *dispatch.Orchestrator
	registry     *adapter.Registry
	log          *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client

	httpServer *http.Server
	startedAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a server over an opened database and a fully built
// adapter registry.
func New(db *sql.DB, registry *adapter.Registry, orchestrator *dispatch.Orchestrator, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		db:           db,
		items:        item.NewStore(db),
		rules:        routing.NewStore(db),
		results:      dispatch.NewResultStore(db),
		orchestrator: orchestrator,
		registry:     registry,
		log:          logger,
		clients:      make(map[*Client]bool),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		startedAt:    time.Now(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start binds the listener and runs until Shutdown or a listen error.
func (s *Server) Start(host string, port int) error {
	mux := s.setupHTTPRoutes()

	s.wg.Add(1)
	go s.runHub()
	s.startProgressBroadcaster()
	s.startStatusBroadcaster()

	addr := fmt.Sprintf("%s:%d", host, port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Infow("Server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server")
	}
	return nil
}

// Shutdown drains clients and stops background goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	s.mu.Lock()
	for client := range s.clients {
		client.close()
	}
	s.clients = make(map[*Client]bool)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Infow("Server stopped")
	return err
}

func (s *Server) setupHTTPRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.corsMiddleware(s.handleWebSocket))
	mux.HandleFunc("/health", s.corsMiddleware(s.handleHealth))

	mux.HandleFunc("POST /api/items", s.corsMiddleware(s.handleCreateItem))
	mux.HandleFunc("POST /api/items/{id}/dispatch", s.corsMiddleware(s.handleDispatchItem))
	mux.HandleFunc("GET /api/items/{id}/routing", s.corsMiddleware(s.handleItemRouting))
	mux.HandleFunc("GET /api/items/{id}/results", s.corsMiddleware(s.handleItemResults))
	mux.HandleFunc("GET /api/items/{id}", s.corsMiddleware(s.handleGetItem))

	mux.HandleFunc("GET /api/rules", s.corsMiddleware(s.handleListRules))
	mux.HandleFunc("POST /api/rules", s.corsMiddleware(s.handleCreateRule))
	mux.HandleFunc("PUT /api/rules/{id}", s.corsMiddleware(s.handleUpdateRule))
	mux.HandleFunc("DELETE /api/rules/{id}", s.corsMiddleware(s.handleDeleteRule))

	mux.HandleFunc("GET /api/adapters", s.corsMiddleware(s.handleListAdapters))

	return mux
}

// runHub owns the client set. Register/unregister flow through channels
// so pump goroutines never touch the map directly.
func (s *Server) runHub() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case client := <-s.register:
			s.handleClientRegister(client)
		case client := <-s.unregister:
			s.handleClientUnregister(client)
		}
	}
}

func (s *Server) handleClientRegister(client *Client) {
	s.mu.Lock()
	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.log.Warnw("Max clients reached, rejecting connection", "client_id", client.id)
		client.close()
		return
	}
	s.clients[client] = true
	count := len(s.clients)
	s.mu.Unlock()

	s.log.Debugw("Client connected", "client_id", client.id, "clients", count)
}

func (s *Server) handleClientUnregister(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		client.close()
	}
	count := len(s.clients)
	s.mu.Unlock()

	s.log.Debugw("Client disconnected", "client_id", client.id, "clients", count)
}

func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}
