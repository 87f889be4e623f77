package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pbaille/canvas/internal/domain"
	"github.com/pbaille/canvas/internal/entrystore"
	"github.com/pbaille/canvas/internal/fetcher"
	"github.com/pbaille/canvas/internal/persist"
)

// Previewer fetches link previews
type Previewer interface {
	Preview(ctx context.Context, url string) (*domain.LinkCard, error)
}

// Server handles HTTP requests for the canvas CRUD API
type Server struct {
	backend  persist.Backend
	previews Previewer
	addr     string
	log      *slog.Logger
}

// New creates a new API server. previews may be nil.
func New(backend persist.Backend, previews Previewer, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{backend: backend, previews: previews, addr: addr, log: logger}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Entries
	mux.HandleFunc("GET /owners/{owner}/entries", s.listEntries)
	mux.HandleFunc("GET /owners/{owner}/tree", s.tree)
	mux.HandleFunc("GET /entries/{id}", s.getEntry)
	mux.HandleFunc("PUT /entries/{id}", s.putEntry)
	mux.HandleFunc("DELETE /entries/{id}", s.deleteEntry)
	mux.HandleFunc("POST /entries/batch", s.batchUpsert)

	// Search
	mux.HandleFunc("GET /search", s.searchEntries)

	// Link previews
	mux.HandleFunc("GET /preview", s.preview)

	// Health check
	mux.HandleFunc("GET /health", s.health)

	return withCORS(mux)
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("starting server", "addr", s.addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

// withCORS adds CORS headers for frontend development
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// BatchRequest is the request body for a batch upsert
type BatchRequest struct {
	Entries []*domain.Entry `json:"entries"`
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.backend.ListEntries(r.Context(), r.PathValue("owner"))
	if err != nil {
		s.log.Error("list entries failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*domain.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Support prefix matching
	entries, err := s.backend.ListEntries(r.Context(), "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var found *domain.Entry
	for _, e := range entries {
		if e.ID == id {
			found = e
			break
		}
		if found == nil && strings.HasPrefix(e.ID, id) {
			found = e
		}
	}
	if found == nil {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) putEntry(w http.ResponseWriter, r *http.Request) {
	var e domain.Entry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	e.ID = r.PathValue("id")
	if e.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	saved, err := s.backend.CreateOrUpdateEntry(r.Context(), &e)
	if err != nil {
		s.log.Error("upsert failed", "entry_id", e.ID, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.backend.DeleteEntry(r.Context(), id); err != nil {
		s.log.Error("delete failed", "entry_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) batchUpsert(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, e := range req.Entries {
		if e == nil || e.ID == "" {
			writeError(w, http.StatusBadRequest, "every entry needs an id")
			return
		}
	}

	saved, err := s.backend.BatchUpsert(r.Context(), req.Entries)
	if err != nil {
		s.log.Error("batch upsert failed", "count", len(req.Entries), "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, BatchRequest{Entries: saved})
}

// Node is an entry with its children for hierarchical display
type Node struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Children []Node `json:"children,omitempty"`
}

func (s *Server) tree(w http.ResponseWriter, r *http.Request) {
	entries, err := s.backend.ListEntries(r.Context(), r.PathValue("owner"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tree": BuildTree(entries)})
}

// BuildTree arranges entries by parent. Entries whose parent is missing are
// treated as roots.
func BuildTree(entries []*domain.Entry) []Node {
	byID := make(map[string]*domain.Entry)
	for _, e := range entries {
		byID[e.ID] = e
	}
	children := make(map[string][]string)
	var rootIDs []string
	for _, e := range entries {
		p := e.Parent()
		if _, ok := byID[p]; p == "" || !ok {
			rootIDs = append(rootIDs, e.ID)
		} else {
			children[p] = append(children[p], e.ID)
		}
	}

	seen := make(map[string]bool)
	var buildNode func(id string) Node
	buildNode = func(id string) Node {
		seen[id] = true
		e := byID[id]
		node := Node{ID: e.ID, Text: e.Text}
		for _, childID := range children[id] {
			if !seen[childID] {
				node.Children = append(node.Children, buildNode(childID))
			}
		}
		return node
	}

	tree := []Node{}
	for _, rootID := range rootIDs {
		tree = append(tree, buildNode(rootID))
	}
	return tree
}

func (s *Server) searchEntries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.backend.ListEntries(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	idx := entrystore.New()
	idx.Replace(entries)
	found := idx.Search(query, limit)
	if found == nil {
		found = []*domain.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": found,
		"query":   query,
	})
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	if s.previews == nil {
		writeError(w, http.StatusNotFound, "previews disabled")
		return
	}
	u := r.URL.Query().Get("url")
	if u == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'url' is required")
		return
	}
	card, err := s.previews.Preview(r.Context(), u)
	if errors.Is(err, fetcher.ErrNoPreview) {
		writeError(w, http.StatusNotFound, "no preview")
		return
	}
	if err != nil {
		s.log.Debug("preview failed", "url", u, "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
