// Package httpapi serves the editor page and the file CRUD API next to the
// collaboration server.
package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"
	"github.com/sugawarayuuta/sonnet"

	"github.com/luciancaetano/kollab/internal/files"
)

// MaxBodySize caps a POST /api/file body.
const MaxBodySize = 32 << 20

// fallbackPage is served on / when the static directory has no editor.html.
const fallbackPage = `<!DOCTYPE html><html><head><title>Collaborative Editor</title></head><body><h1>Real-time Collaborative Text Editor</h1><p>WebSocket collaboration enabled!</p></body></html>`

type Config struct {
	// StaticDir holds editor.html. Empty serves the built-in page.
	StaticDir string
	Logger    *slog.Logger
}

// Server routes the HTTP API onto a file store.
type Server struct {
	store     files.Store
	staticDir string
	logger    *slog.Logger
	router    *mux.Router
}

func New(store files.Store, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		store:     store,
		staticDir: cfg.StaticDir,
		logger:    cfg.Logger,
		router:    mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(withCORS)

	s.router.Methods(http.MethodOptions).HandlerFunc(s.handlePreflight)
	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/api/files", s.handleList).Methods(http.MethodGet)
	s.router.HandleFunc("/api/file", s.handleRead).Methods(http.MethodGet)
	s.router.HandleFunc("/api/file", s.handleWrite).Methods(http.MethodPost)
	s.router.HandleFunc("/api/file", s.handleDelete).Methods(http.MethodDelete)

	// middleware only runs on matched routes
	s.router.NotFoundHandler = withCORS(http.HandlerFunc(s.handleNotFound))
	s.router.MethodNotAllowedHandler = withCORS(http.HandlerFunc(s.handleNotFound))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusNotFound)
	io.WriteString(w, "<h1>404 Not Found</h1>")
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page := []byte(fallbackPage)
	if s.staticDir != "" {
		data, err := os.ReadFile(filepath.Join(s.staticDir, "editor.html"))
		switch {
		case err == nil:
			page = data
		case !errors.Is(err, os.ErrNotExist):
			s.logger.Warn("reading editor page", "err", err)
		}
	}

	w.Header().Set("Content-Type", "text/html")
	w.Write(page)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("listing files", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Could not list files"})
		return
	}
	writeJSON(w, http.StatusOK, names)
}

type contentBody struct {
	Content string `json:"content"`
}

type writeRequest struct {
	Filename *string `json:"filename"`
	Content  *string `json:"content"`
}

type successBody struct {
	Success bool `json:"success"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")

	content, err := s.store.Read(r.Context(), name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, contentBody{Content: content})
	case errors.Is(err, files.ErrNotFound), errors.Is(err, files.ErrInvalidName):
		writeJSON(w, http.StatusNotFound, contentBody{})
	default:
		s.logger.Error("reading file", "file", name, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Could not read file"})
	}
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request"})
		return
	}

	var req writeRequest
	if err := sonnet.Unmarshal(data, &req); err != nil || req.Filename == nil || req.Content == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid request"})
		return
	}

	err = s.store.Write(r.Context(), *req.Filename, *req.Content)
	switch {
	case err == nil:
		s.logger.Info("file saved", "file", *req.Filename, "bytes", len(*req.Content))
		writeJSON(w, http.StatusOK, successBody{Success: true})
	case errors.Is(err, files.ErrInvalidName):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid file name"})
	default:
		s.logger.Error("writing file", "file", *req.Filename, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Could not write file"})
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")

	err := s.store.Delete(r.Context(), name)
	switch {
	case err == nil:
		s.logger.Info("file deleted", "file", name)
		writeJSON(w, http.StatusOK, successBody{Success: true})
	case errors.Is(err, files.ErrNotFound), errors.Is(err, files.ErrInvalidName):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "File not found"})
	default:
		s.logger.Error("deleting file", "file", name, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Could not delete file"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonnet.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
