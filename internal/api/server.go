// Package api serves stored content over HTTP: file bytes with Range
// support for seeking, thumbnails, and runtime statistics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ClippyCDN/clippy/internal/cache"
	"github.com/ClippyCDN/clippy/internal/files"
	"github.com/ClippyCDN/clippy/internal/logging"
	"github.com/ClippyCDN/clippy/internal/metrics"
	"github.com/ClippyCDN/clippy/internal/queue"
)

// FileStore looks up file metadata. GetFile returns nil, nil when the file
// does not exist.
type FileStore interface {
	GetFile(ctx context.Context, id string) (*files.File, error)
}

// Objects reads stored bytes.
type Objects interface {
	GetStream(ctx context.Context, key string) io.ReadCloser
	GetRangeStream(ctx context.Context, key string, start, end int64) io.ReadCloser
	Size(ctx context.Context, key string) (int64, bool)
}

// QueueStats reports scheduler counters.
type QueueStats interface {
	Stats() queue.Stats
}

// CacheStats reports cache counters.
type CacheStats interface {
	Name() string
	Statistics() cache.Statistics
}

// Deps are the collaborators of a Server.
type Deps struct {
	Files     FileStore
	Objects   Objects
	FileCache *cache.Cache[*files.File]
	Queues    []QueueStats
	Caches    []CacheStats
}

// Server is the HTTP API.
type Server struct {
	files     FileStore
	objects   Objects
	fileCache *cache.Cache[*files.File]
	queues    []QueueStats
	caches    []CacheStats
}

// NewServer creates the API server.
func NewServer(d Deps) *Server {
	return &Server{
		files:     d.Files,
		objects:   d.Objects,
		fileCache: d.FileCache,
		queues:    d.Queues,
		caches:    d.Caches,
	}
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(observeRequest))
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Route("/files/{id}", func(r chi.Router) {
			r.Get("/", s.handleFile)
			r.Get("/content", s.handleContent)
			r.Get("/thumbnail", s.handleThumbnail)
		})
	})
	return r
}

func observeRequest(r *http.Request, status int, d time.Duration) {
	route := r.URL.Path
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		route = rc.RoutePattern()
	}
	metrics.RecordHTTPRequest(r.Method, route, status, d)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	Caches map[string]cache.Statistics `json:"caches"`
	Queues []queue.Stats               `json:"queues"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Caches: make(map[string]cache.Statistics, len(s.caches)),
		Queues: make([]queue.Stats, 0, len(s.queues)),
	}
	for _, c := range s.caches {
		resp.Caches[c.Name()] = c.Statistics()
	}
	for _, q := range s.queues {
		resp.Queues = append(resp.Queues, q.Stats())
	}
	writeJSON(w, http.StatusOK, resp)
}

// lookup resolves the {id} path parameter through the file cache.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*files.File, bool) {
	id := chi.URLParam(r, "id")
	f, err := cache.FetchWithCache(r.Context(), s.fileCache, "file:"+id, func(ctx context.Context) (*files.File, error) {
		return s.files.GetFile(ctx, id)
	})
	if err != nil {
		logging.WithContext(r.Context()).Error("file lookup failed", zap.String("file_id", id), zap.Error(err))
		sendError(w, http.StatusInternalServerError, "file lookup failed")
		return nil, false
	}
	if f == nil {
		sendError(w, http.StatusNotFound, "file not found: "+id)
		return nil, false
	}
	return f, true
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	f, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	f, ok := s.lookup(w, r)
	if !ok {
		return
	}
	key, err := files.Path(*f)
	if err != nil {
		sendError(w, http.StatusNotFound, "file not found: "+f.ID)
		return
	}
	contentType := f.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	s.serveObject(w, r, key, contentType)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	f, ok := s.lookup(w, r)
	if !ok {
		return
	}
	// The cached descriptor may predate the thumbnail, so the stored object
	// decides rather than HasThumbnail.
	key, err := files.ThumbnailPath(*f)
	if err != nil {
		sendError(w, http.StatusNotFound, "thumbnail not available: "+f.ID)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	s.serveObject(w, r, key, "image/jpeg")
}

// serveObject writes the object at key, honouring a single byte range.
func (s *Server) serveObject(w http.ResponseWriter, r *http.Request, key, contentType string) {
	ctx := r.Context()
	totalSize, ok := s.objects.Size(ctx, key)
	if !ok {
		sendError(w, http.StatusNotFound, "content not found")
		return
	}

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	start, end, hasRange, err := parseRange(r.Header.Get("Range"), totalSize)
	if errors.Is(err, errUnsatisfiable) {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", totalSize))
		sendError(w, http.StatusRequestedRangeNotSatisfiable, "range not satisfiable")
		return
	}

	var reader io.ReadCloser
	if hasRange {
		reader = s.objects.GetRangeStream(ctx, key, start, end)
	} else {
		reader = s.objects.GetStream(ctx, key)
	}
	if reader == nil {
		sendError(w, http.StatusInternalServerError, "content unavailable")
		return
	}
	defer reader.Close()

	if hasRange {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, totalSize))
		w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.Header().Set("Content-Length", strconv.FormatInt(totalSize, 10))
		w.WriteHeader(http.StatusOK)
	}

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, reader); err != nil {
		logging.WithContext(ctx).Debug("content copy interrupted", zap.String("key", key), zap.Error(err))
	}
}

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func sendError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, ErrorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
