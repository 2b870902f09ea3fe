// Package server exposes the healing core over HTTP: submit a run, poll its
// result, health. The surface is deliberately thin; everything interesting
// happens in the heal package.
package server

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dealcetexplains-png/mender/internal/heal"
	"github.com/dealcetexplains-png/mender/internal/logging"
)

// HealFunc executes one run to completion. heal.Healer.Heal satisfies it.
type HealFunc func(ctx context.Context, req heal.RunRequest) *heal.RunReport

// Config holds server configuration.
type Config struct {
	Addr string // listen address, e.g. ":8080"
}

// Server is the HTTP server wrapping the healing core.
type Server struct {
	config   Config
	registry *RunRegistry
	healRun  HealFunc
	baseCtx  context.Context
	cancel   context.CancelFunc
	httpSrv  *http.Server
}

// New creates a new Server around the given heal function.
func New(cfg Config, healRun HealFunc) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		registry: NewRunRegistry(),
		healRun:  healRun,
		baseCtx:  ctx,
		cancel:   cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/run", s.handleSubmitRun)
	mux.HandleFunc("GET /api/result/{task_id}", s.handleGetResult)

	s.httpSrv = &http.Server{
		Handler:      csrfProtect(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return s
}

var srvLogger = logging.New("server")

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		srvLogger.Info("shutting down", "signal", sig.String())
		s.Shutdown()
	}()

	srvLogger.Info("listening", "addr", s.config.Addr)
	s.httpSrv.Addr = s.config.Addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// csrfProtect rejects cross-origin POST requests. Browsers set the Origin
// header on cross-origin requests, so checking it blocks CSRF from
// malicious pages while allowing CLI and programmatic callers.
func csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			origin := r.Header.Get("Origin")
			if origin != "" {
				u, err := url.Parse(origin)
				if err != nil {
					http.Error(w, `{"error":"invalid Origin header"}`, http.StatusForbidden)
					return
				}
				host := u.Hostname()
				if host != "localhost" && host != "127.0.0.1" && host != "::1" {
					http.Error(w, `{"error":"cross-origin request blocked"}`, http.StatusForbidden)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Shutdown gracefully stops the server and all running runs.
func (s *Server) Shutdown() {
	s.registry.CancelAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)

	s.cancel()
}
