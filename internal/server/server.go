// Package server exposes the HTTP API: model listing, chat CRUD, and the
// streaming endpoints (SSE and WebSocket).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/conduit-ai/conduit/internal/catalog"
	"github.com/conduit-ai/conduit/internal/chat"
	"github.com/conduit-ai/conduit/internal/data"
	"github.com/conduit-ai/conduit/internal/routing"
	"github.com/conduit-ai/conduit/pkg/types"
)

// Caller identity and tier arrive from the session layer as trusted headers.
const (
	ownerHeader = "X-Conduit-Owner"
	tierHeader  = "X-Conduit-Tier"

	defaultOwner = "local"
)

// Store is the persistence surface the handlers need.
type Store interface {
	chat.ChatStore
	GetChat(ctx context.Context, id string) (*types.Chat, error)
	DeleteChat(ctx context.Context, id string) error
	ListChatsByOwner(ctx context.Context, ownerID string) ([]types.Chat, error)
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	catalog *catalog.Catalog
	oracle  *routing.Oracle
	manager *chat.Manager
	store   Store
	log     zerolog.Logger
}

// New wires the server.
func New(cat *catalog.Catalog, oracle *routing.Oracle, manager *chat.Manager, store Store, log zerolog.Logger) *Server {
	return &Server{
		catalog: cat,
		oracle:  oracle,
		manager: manager,
		store:   store,
		log:     log,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/models", s.handleListModels)
	mux.HandleFunc("GET /api/providers", s.handleProviders)

	mux.HandleFunc("POST /api/chats", s.handleCreateChat)
	mux.HandleFunc("GET /api/chats", s.handleListChats)
	mux.HandleFunc("GET /api/chats/{id}", s.handleGetChat)
	mux.HandleFunc("DELETE /api/chats/{id}", s.handleDeleteChat)

	mux.HandleFunc("POST /api/chats/{id}/messages", s.handleStream)
	mux.HandleFunc("GET /api/chats/{id}/ws", s.handleWebSocket)

	return mux
}

func caller(r *http.Request) (owner string, tier types.Tier) {
	owner = r.Header.Get(ownerHeader)
	if owner == "" {
		owner = defaultOwner
	}
	return owner, types.ParseTier(r.Header.Get(tierHeader))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	_, tier := caller(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"models": s.catalog.ModelsForTier(tier),
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	providers := s.oracle.AvailableProviders(r.Context())
	if providers == nil {
		providers = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	owner, _ := caller(r)

	var req struct {
		DefaultModel string `json:"default_model"`
	}
	if r.Body != nil {
		// Empty body is fine; a chat needs no options.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if req.DefaultModel != "" {
		if _, err := s.catalog.GetModel(req.DefaultModel); err != nil {
			writeError(w, http.StatusBadRequest, "unknown default model")
			return
		}
	}

	c := chat.NewChat(owner)
	c.DefaultModel = req.DefaultModel

	if err := s.store.UpsertChat(r.Context(), c); err != nil {
		s.log.Error().Err(err).Msg("create chat failed")
		writeError(w, http.StatusInternalServerError, "could not create chat")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	owner, _ := caller(r)
	chats, err := s.store.ListChatsByOwner(r.Context(), owner)
	if err != nil {
		s.log.Error().Err(err).Msg("list chats failed")
		writeError(w, http.StatusInternalServerError, "could not list chats")
		return
	}
	if chats == nil {
		chats = []types.Chat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

// loadOwnedChat fetches a chat and enforces ownership. A chat belonging to
// someone else reads as not-found rather than forbidden.
func (s *Server) loadOwnedChat(w http.ResponseWriter, r *http.Request) *types.Chat {
	owner, _ := caller(r)
	c, err := s.store.GetChat(r.Context(), r.PathValue("id"))
	if errors.Is(err, data.ErrChatNotFound) || (err == nil && c.OwnerID != owner) {
		writeError(w, http.StatusNotFound, "chat not found")
		return nil
	}
	if err != nil {
		s.log.Error().Err(err).Msg("load chat failed")
		writeError(w, http.StatusInternalServerError, "could not load chat")
		return nil
	}
	return c
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	if c := s.loadOwnedChat(w, r); c != nil {
		writeJSON(w, http.StatusOK, c)
	}
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	c := s.loadOwnedChat(w, r)
	if c == nil {
		return
	}
	if err := s.store.DeleteChat(r.Context(), c.ID); err != nil {
		s.log.Error().Err(err).Msg("delete chat failed")
		writeError(w, http.StatusInternalServerError, "could not delete chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, readHeaderTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
