package review

import (
	"context"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ryanoboyle/fleetship/internal/config"
	"github.com/ryanoboyle/fleetship/internal/uploader"
	"github.com/ryanoboyle/fleetship/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The review server only ever listens on loopback; the viewer is
		// served from the same origin, so there is nothing to police.
		return true
	},
}

// Server is the review server (C7): a chi router serving the static
// viewer bundle plus one WebSocket endpoint per browser tab, structured
// after the teacher's internal/api/server.go.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	port       int

	diff      *DiffSet
	provider  DiffProvider
	targets   []config.TargetConfig
	newDriver DriverFactory
	assets    fs.FS
	localDir  string

	results chan sessionResult
}

type sessionResult struct {
	result *ConfirmResult
	err    error
}

// NewServer constructs a review server bound to port (0 picks any free
// loopback port). newDriver defaults to uploader.New when nil. assets is
// the static viewer bundle (HTML/CSS/JS); it is an external collaborator
// per spec §1 ("served verbatim to the browser") — passing nil serves a
// minimal built-in placeholder page instead, useful for tests and for a
// headless CLI build with no bundled viewer. localDir is the absolute
// local tree root, needed by the session's initial status pass to drive
// RemoteDiffProxy.TryFastDiff (spec §4.8).
func NewServer(port int, diff *DiffSet, provider DiffProvider, targets []config.TargetConfig, newDriver DriverFactory, assets fs.FS, localDir string) *Server {
	if newDriver == nil {
		newDriver = func(t config.TargetConfig) (uploader.Driver, error) {
			return uploader.New(t, nil)
		}
	}

	s := &Server{
		port:      port,
		diff:      diff,
		provider:  provider,
		targets:   targets,
		newDriver: newDriver,
		assets:    assets,
		localDir:  localDir,
		results:   make(chan sessionResult, 1),
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(SecurityHeadersMiddleware)

	if s.assets != nil {
		fileServer := http.FileServer(http.FS(s.assets))
		r.Get("/", fileServer.ServeHTTP)
		r.Get("/index.html", fileServer.ServeHTTP)
		r.Get("/assets/*", fileServer.ServeHTTP)
	} else {
		r.Get("/", servePlaceholder)
		r.Get("/index.html", servePlaceholder)
	}
	r.NotFound(http.NotFound)
	r.Get("/ws", s.handleWebSocket)

	return r
}

// handleWebSocket upgrades the connection and runs exactly one Session
// to completion, delivering its outcome on s.results.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Logger().Error("review: websocket upgrade failed", logging.Err(err))
		return
	}

	session := NewSession(conn, s.diff, s.provider, s.targets, s.newDriver, s.localDir)
	result, err := session.Run(r.Context())
	s.results <- sessionResult{result: result, err: err}
}

// Start listens on the configured port (binding to loopback only — the
// review server is never meant to be reachable off-host) and serves
// until the context is canceled or a browser resolves the review.
func (s *Server) Start(ctx context.Context) (*ConfirmResult, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return nil, fmt.Errorf("review: listen: %w", err)
	}
	s.port = listener.Addr().(*net.TCPAddr).Port

	s.httpServer = &http.Server{Handler: s.router}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logging.Logger().Error("review: server error", logging.Err(err))
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-s.results:
		return res.result, res.err
	}
}

// Port returns the bound listener port, valid only after Start has begun
// listening.
func (s *Server) Port() int {
	return s.port
}

func servePlaceholder(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(`<!doctype html><html><body><p>fleetship review viewer not bundled in this build.</p></body></html>`))
}
