// Package app owns the HTTP server lifecycle around a runtime.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/Gurpartap/promptgraph/internal/config"
	"github.com/Gurpartap/promptgraph/internal/httpapi"
	"github.com/Gurpartap/promptgraph/internal/runtimewire"
)

// App serves the promptgraph API for one runtime.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	runtime *runtimewire.Runtime
	server  *http.Server
	// stopRequests cancels the base context of in-flight requests, which ends
	// open event streams before Shutdown waits on them.
	stopRequests context.CancelFunc
	addr         atomic.Pointer[net.Addr]
	ready        atomic.Bool
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		return nil, errors.New("new app: nil logger")
	}
	if cfg.HTTPAddr == "" {
		return nil, errors.New("new app: empty HTTPAddr")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new app config: %w", err)
	}
	runtime, err := runtimewire.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("new app runtime: %w", err)
	}

	requestCtx, stopRequests := context.WithCancel(context.WithoutCancel(ctx))
	a := &App{
		cfg:          cfg,
		logger:       logger,
		runtime:      runtime,
		stopRequests: stopRequests,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /readyz", a.handleReadyz)
	mux.Handle("/", httpapi.NewRouter(runtime))
	a.server = &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     requestLoggingMiddleware(logger)(mux),
		BaseContext: func(net.Listener) context.Context { return requestCtx },
	}
	return a, nil
}

// Handler returns the root handler, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Addr returns the bound listener address once Start has listened.
func (a *App) Addr() net.Addr {
	if addr := a.addr.Load(); addr != nil {
		return *addr
	}
	return nil
}

// Start listens on the configured address and serves until Shutdown.
func (a *App) Start() error {
	listener, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.HTTPAddr, err)
	}
	return a.Serve(listener)
}

// Serve serves on listener until Shutdown.
func (a *App) Serve(listener net.Listener) error {
	addr := listener.Addr()
	a.addr.Store(&addr)
	a.ready.Store(true)
	a.logger.Info("Server listening.",
		"addr", addr.String(),
		"model_mode", a.cfg.ModelMode,
		"executables", a.runtime.Registry.Len(),
	)

	err := a.server.Serve(listener)
	a.ready.Store(false)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Run starts the server and shuts it down when ctx is done, allowing
// cfg.ShutdownTimeout for in-flight requests.
func (a *App) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.Start()
	}()

	select {
	case err := <-serveErr:
		return errors.Join(err, a.runtime.Close())
	case <-ctx.Done():
	}
	a.logger.Info("Shutting down.")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return <-serveErr
}

// Shutdown stops accepting requests, ends event streams, and closes the
// runtime's MCP clients.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return errors.New("shutdown: nil context")
	}
	a.ready.Store(false)
	a.stopRequests()
	err := a.server.Shutdown(ctx)
	return errors.Join(err, a.runtime.Close())
}

func (a *App) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

type readiness struct {
	Status      string           `json:"status"`
	ModelMode   config.ModelMode `json:"model_mode"`
	Executables int              `json:"executables"`
}

func (a *App) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	report := readiness{Status: "ready", ModelMode: a.cfg.ModelMode, Executables: a.runtime.Registry.Len()}
	status := http.StatusOK
	if !a.ready.Load() {
		report.Status = "not ready"
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(report)
}
