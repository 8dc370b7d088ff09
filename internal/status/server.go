// Package status serves the public status page, the health endpoint, and
// the Prometheus metrics endpoint. The server starts before the bot
// connects to anything so hosting platforms see a responsive process
// even while bootstrap is still validating.
package status

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yuin/goldmark"

	"github.com/Ishannaik/Tweetcord/internal/bootstrap"
	"github.com/Ishannaik/Tweetcord/internal/buildinfo"
	"github.com/Ishannaik/Tweetcord/internal/trackdb"
)

// Server is the status HTTP server.
type Server struct {
	port      int
	readiness *bootstrap.Readiness
	store     atomic.Pointer[trackdb.Store]
	metrics   *Metrics
	logger    *slog.Logger

	mu     sync.Mutex
	server *http.Server

	stage atomic.Value // bootstrap.Stage
}

// NewServer creates the status server. The store may be nil: the server
// starts before the store opens, and the supervisor hands it over with
// SetStore once it exists.
func NewServer(port int, readiness *bootstrap.Readiness, store *trackdb.Store, metrics *Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		port:      port,
		readiness: readiness,
		metrics:   metrics,
		logger:    logger,
	}
	if store != nil {
		s.store.Store(store)
	}
	s.stage.Store(bootstrap.StageInit)
	return s
}

// SetStore hands the server the opened store.
func (s *Server) SetStore(store *trackdb.Store) {
	s.store.Store(store)
}

// SetStage records the bootstrap stage shown on the status page.
func (s *Server) SetStage(stage bootstrap.Stage) {
	s.stage.Store(stage)
}

// Start runs the server until it is shut down or fails. It blocks, so
// callers run it in a goroutine; http.ErrServerClosed is filtered out
// as the normal shutdown result.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("starting status server", "port", s.port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	return s.withLogging(mux)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.metrics.observeRequest(r.Method, r.URL.Path)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) state() string {
	if s.readiness.Ready() {
		return "operational"
	}
	return "starting"
}

// handleRoot renders the human-readable status page. The page body is
// composed as markdown and converted to HTML, so the same text reads
// fine from curl (via /healthz) and a browser.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	var md strings.Builder
	fmt.Fprintf(&md, "# Tweetcord\n\n")
	fmt.Fprintf(&md, "**Status:** %s\n\n", s.state())
	fmt.Fprintf(&md, "**Stage:** %s\n\n", s.stage.Load().(bootstrap.Stage))
	fmt.Fprintf(&md, "**Version:** %s (%s)\n\n", buildinfo.Version, buildinfo.GitCommit)
	fmt.Fprintf(&md, "**Uptime:** %s\n\n", buildinfo.Uptime().Round(time.Second))

	counted := false
	if store := s.store.Load(); store != nil {
		if n, err := store.Count(); err == nil {
			fmt.Fprintf(&md, "**Tracked accounts:** %d\n", n)
			s.metrics.SetTrackedAccounts(n)
			counted = true
		}
	}
	if !counted {
		// Before bootstrap opens and initializes the store the count is
		// unknown; the page still renders.
		fmt.Fprintf(&md, "**Tracked accounts:** not available yet\n")
	}

	var html bytes.Buffer
	if err := goldmark.Convert([]byte(md.String()), &html); err != nil {
		s.logger.Warn("status page render failed", "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(html.Bytes())
}

// handleHealth answers liveness checks. A starting process answers 503
// so orchestration platforms wait for bootstrap before routing traffic.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.state()
	if state != "operational" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	fmt.Fprintln(w, state)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(buildinfo.Info()); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}
