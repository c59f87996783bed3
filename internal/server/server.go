// Package server wires the breach pipeline together and serves it over HTTP.
//
// The server is stateless with respect to builds: every response reads the
// single current snapshot from the artifact store, and /ws hands browsers to
// the live-reload hub.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/conneroisu/breach/internal/build"
	"github.com/conneroisu/breach/internal/compiler"
	"github.com/conneroisu/breach/internal/config"
	"github.com/conneroisu/breach/internal/errors"
	"github.com/conneroisu/breach/internal/logging"
	"github.com/conneroisu/breach/internal/watcher"
	"github.com/conneroisu/breach/internal/websocket"
)

// Server serves one .breach source with live reload.
type Server struct {
	config       *config.Config
	logger       logging.Logger
	registry     *compiler.Registry
	store        *build.Store
	orchestrator *build.Orchestrator
	watcher      *watcher.FileWatcher
	hub          *websocket.Hub
	router       chi.Router
	startedAt    time.Time

	httpServer  *http.Server
	listener    net.Listener
	serverMutex sync.RWMutex // Protects httpServer and listener

	cancel       context.CancelFunc
	pipelineDone chan struct{}
	shutdownOnce sync.Once
}

// New creates a server for cfg. Nothing runs until Start.
func New(cfg *config.Config, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	registry, err := compiler.Default(compiler.Options{
		Target:    cfg.Build.Target,
		Minify:    cfg.Build.Minify,
		Timeout:   cfg.Build.CompileTimeout,
		CacheSize: cfg.Build.CacheSize,
	}, logger)
	if err != nil {
		return nil, err
	}

	store := build.NewStore()

	hub := websocket.NewHub(
		websocket.WithLogger(logger),
		websocket.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
		websocket.WithSequence(func() uint64 { return store.Current().Sequence }),
	)

	orchestrator := build.NewOrchestrator(
		build.FileSource{Path: cfg.Source.Path},
		registry,
		store,
		build.WithNotifier(hub),
		build.WithParallel(cfg.Build.Parallel),
		build.WithLogger(logger),
	)

	fileWatcher, err := watcher.NewFileWatcher(cfg.Source.Path, cfg.Build.Debounce,
		watcher.WithPollInterval(cfg.Watch.PollInterval),
		watcher.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:       cfg,
		logger:       logger.WithComponent("server"),
		registry:     registry,
		store:        store,
		orchestrator: orchestrator,
		watcher:      fileWatcher,
		hub:          hub,
		startedAt:    time.Now(),
		pipelineDone: make(chan struct{}),
	}
	fileWatcher.AddHandler(s.handleFileEvent)
	s.router = s.routes()

	return s, nil
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler { return s.router }

// Store returns the artifact store.
func (s *Server) Store() *build.Store { return s.store }

// Orchestrator returns the build orchestrator.
func (s *Server) Orchestrator() *build.Orchestrator { return s.orchestrator }

// Start runs the watcher and orchestrator and serves HTTP until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if err := s.startPipeline(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return errors.NewIOError(fmt.Sprintf("listening on %s", s.config.Addr()), err)
	}

	s.serverMutex.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer // Get local copy for safe access
	s.serverMutex.Unlock()

	addr := "http://" + ln.Addr().String()
	s.logger.Info(ctx, "Serving", "url", addr, "source", s.config.Source.Path)

	if s.config.Server.Open {
		go s.openBrowser(addr)
	}

	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.NewIOError("server error", err)
	}
	return nil
}

// startPipeline starts watching the source and the build loop, which begins
// with an initial build.
func (s *Server) startPipeline(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.watcher.Start(ctx); err != nil {
		cancel()
		close(s.pipelineDone)
		return err
	}

	go func() {
		defer close(s.pipelineDone)
		if err := s.orchestrator.Run(ctx); err != nil {
			s.logger.Error(ctx, err, "Build loop stopped")
		}
	}()
	return nil
}

// Addr returns the address the server is listening on, or "" before Start.
func (s *Server) Addr() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleFileEvent(event watcher.Event) error {
	switch event.Type {
	case watcher.EventTypeChanged:
		s.orchestrator.Trigger()
	case watcher.EventTypeRemoved:
		s.orchestrator.ReportFailure(context.Background(), event.Err)
	case watcher.EventTypeError:
		// A watcher error says nothing about the source; rebuild to find out.
		s.logger.Warn(context.Background(), event.Err, "File watcher error", "path", event.Path)
		s.orchestrator.Trigger()
	}
	return nil
}

// Shutdown closes live-reload sessions, stops the watcher and build loop, and
// gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")

		if err := s.hub.Close(ctx); err != nil {
			s.logger.Warn(ctx, err, "Live-reload sessions did not close in time")
		}

		if err := s.watcher.Stop(); err != nil {
			s.logger.Warn(ctx, err, "Failed to stop file watcher")
		}

		if s.cancel != nil {
			s.cancel()
			select {
			case <-s.pipelineDone:
			case <-ctx.Done():
			}
		}

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}

func (s *Server) openBrowser(addr string) {
	time.Sleep(100 * time.Millisecond) // Give server time to start

	// Validate URL before passing it to system commands
	u, err := url.Parse(addr)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		s.logger.Warn(context.Background(), err, "Browser open skipped, invalid URL", "url", addr)
		return
	}

	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", u.String()).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", u.String()).Start()
	case "darwin":
		err = exec.Command("open", u.String()).Start()
	default:
		err = fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}

	if err != nil {
		s.logger.Warn(context.Background(), err, "Failed to open browser")
	}
}
