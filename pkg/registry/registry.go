// Package registry implements the service registry the gateway uses
// for discovery: a small key/value store mapping service names
// ("coordinator", "bank/<name>") to addresses, plus a health endpoint.
// Components register at startup and deregister on graceful shutdown.
package registry

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mnohosten/bridgepay/pkg/wire"
)

// Entry is one registered service.
type Entry struct {
	Name         string    `json:"name"`
	Addr         string    `json:"addr"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Store is the in-memory name to address table.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewStore creates an empty registry store.
func NewStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Put registers or refreshes a service entry.
func (s *Store) Put(name, addr string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := Entry{Name: name, Addr: addr, RegisteredAt: time.Now()}
	s.entries[name] = e
	return e
}

// Delete deregisters a service. Deleting an unknown name is a no-op.
func (s *Store) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// Get looks up a service by name.
func (s *Store) Get(name string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	return e, ok
}

// List returns all registered entries.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// Handler serves the registry HTTP API over a store.
type Handler struct {
	store  *Store
	logger *zap.Logger
}

// NewHandler creates the registry HTTP handler.
func NewHandler(store *Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// Router builds the chi router for the registry API.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		wire.WriteResult(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/v1/services", h.list)
	// Service names contain slashes (bank/<name>), hence the catch-all.
	r.Put("/v1/services/*", h.put)
	r.Get("/v1/services/*", h.get)
	r.Delete("/v1/services/*", h.delete)
	return r
}

func serviceName(r *http.Request) string {
	return chi.URLParam(r, "*")
}

type putRequest struct {
	Addr string `json:"addr"`
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	name := serviceName(r)
	var req putRequest
	if err := wire.ReadRequest(r, &req); err != nil {
		wire.WriteError(w, err)
		return
	}
	if name == "" || req.Addr == "" {
		wire.WriteError(w, wire.Errorf(wire.CodeInternal, "name and addr are required"))
		return
	}

	e := h.store.Put(name, req.Addr)
	h.logger.Info("service registered", zap.String("name", name), zap.String("addr", req.Addr))
	wire.WriteResult(w, http.StatusOK, e)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	name := serviceName(r)
	e, ok := h.store.Get(name)
	if !ok {
		wire.WriteError(w, wire.Errorf(wire.CodeUnknownService, "service not registered: "+name))
		return
	}
	wire.WriteResult(w, http.StatusOK, e)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	name := serviceName(r)
	h.store.Delete(name)
	h.logger.Info("service deregistered", zap.String("name", name))
	wire.WriteResult(w, http.StatusOK, nil)
}

func (h *Handler) list(w http.ResponseWriter, _ *http.Request) {
	wire.WriteResult(w, http.StatusOK, h.store.List())
}
