package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conneroisu/breach/internal/build"
	"github.com/conneroisu/breach/internal/compiler"
	"github.com/conneroisu/breach/internal/errors"
	"github.com/conneroisu/breach/internal/version"
	"github.com/conneroisu/breach/internal/websocket"
)

// Fixed artifact paths.
const (
	PathPage       = "/"
	PathIndex      = "/index.html"
	PathStylesheet = "/style.css"
	PathScript     = "/script.js"
	PathReload     = "/ws"
)

// HeaderSequence carries the sequence of the snapshot a response came from.
const HeaderSequence = "X-Build-Sequence"

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	r.Get(PathPage, s.handlePage)
	r.Get(PathIndex, s.handlePage)
	r.Get(PathStylesheet, s.handleStylesheet)
	r.Get(PathScript, s.handleScript)
	r.Get(PathReload, s.hub.ServeHTTP)
	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/diagnostics", s.handleDiagnostics)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug(r.Context(), "Request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Current()
	// The page embeds its sequence in the reload client, so identical
	// artifacts from different snapshots must not share a validator.
	etag := fmt.Sprintf(`"%s-%d"`, snap.Fingerprint, snap.Sequence)
	serveArtifact(w, r, snap, etag, "text/html; charset=utf-8", snap.Page)
}

func (s *Server) handleStylesheet(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Current()
	text := snap.Artifact(compiler.KindStylesheet).Text
	serveArtifact(w, r, snap, fmt.Sprintf(`"%s"`, snap.Fingerprint), "text/css; charset=utf-8", text)
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Current()
	text := snap.Artifact(compiler.KindScript).Text
	serveArtifact(w, r, snap, fmt.Sprintf(`"%s"`, snap.Fingerprint), "text/javascript; charset=utf-8", text)
}

// serveArtifact writes one artifact of snap. Callers must pass text taken
// from the same snapshot so the headers and body agree.
func serveArtifact(w http.ResponseWriter, r *http.Request, snap *build.Snapshot, etag, contentType, text string) {
	h := w.Header()
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set(HeaderSequence, strconv.FormatUint(snap.Sequence, 10))
	h.Set("ETag", etag)

	if etagMatch(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(text)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte(text))
	}
}

func etagMatch(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Sequence    uint64                  `json:"sequence"`
	Status      build.Status            `json:"status"`
	State       string                  `json:"state"`
	Fingerprint string                  `json:"fingerprint"`
	BuiltAt     time.Time               `json:"built_at"`
	Source      string                  `json:"source"`
	Diagnostics []errors.Diagnostic     `json:"diagnostics"`
	Metrics     *build.Metrics          `json:"metrics"`
	SuccessRate float64                 `json:"success_rate"`
	Cache       compiler.CacheStats     `json:"cache"`
	Clients     int                     `json:"clients"`
	Sessions    []websocket.SessionInfo `json:"sessions"`
	Compilers   []string                `json:"compilers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Current()
	metrics := s.orchestrator.Metrics()

	diags := snap.Diagnostics
	if diags == nil {
		diags = []errors.Diagnostic{}
	}

	s.writeJSON(w, r, http.StatusOK, StatusResponse{
		Sequence:    snap.Sequence,
		Status:      snap.Status,
		State:       s.orchestrator.State().String(),
		Fingerprint: snap.Fingerprint,
		BuiltAt:     snap.BuiltAt,
		Source:      s.config.Source.Path,
		Diagnostics: diags,
		Metrics:     metrics,
		SuccessRate: metrics.SuccessRate(),
		Cache:       s.registry.CacheStats(),
		Clients:     s.hub.Clients(),
		Sessions:    s.hub.Sessions(),
		Compilers:   s.registry.Tags(),
	})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	report := s.orchestrator.LastReport()
	if report == nil {
		s.writeJSON(w, r, http.StatusOK, build.CycleResult{
			Status:      build.StatusPending,
			Diagnostics: []errors.Diagnostic{},
		})
		return
	}
	out := *report
	if out.Diagnostics == nil {
		out.Diagnostics = []errors.Diagnostic{}
	}
	s.writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Current()

	buildCheck := map[string]interface{}{"status": "healthy", "sequence": snap.Sequence}
	if report := s.orchestrator.LastReport(); report != nil && report.Status == build.StatusFailed {
		buildCheck = map[string]interface{}{"status": "degraded", "sequence": snap.Sequence,
			"message": "last build failed, serving previous snapshot"}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startedAt).String(),
		"version":   version.GetShortVersion(),
		"checks": map[string]interface{}{
			"server": map[string]interface{}{"status": "healthy", "message": "HTTP server operational"},
			"build":  buildCheck,
			"reload": map[string]interface{}{"status": "healthy", "clients": s.hub.Clients()},
		},
	}
	s.writeJSON(w, r, http.StatusOK, health)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode response", "path", r.URL.Path)
	}
}
