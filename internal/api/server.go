// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-cast/internal/audit"
	"github.com/nerrad567/gray-logic-cast/internal/bridges/cast"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cast/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultInstructionTimeout bounds how long POST /instructions waits for a reply.
const defaultInstructionTimeout = 6 * time.Second

// HealthSource reports the bridge's current health. *cast.HealthReporter
// satisfies it.
type HealthSource interface {
	Current() cast.HealthMessage
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	// Store holds merged device views. It must be registered as a bridge sink.
	Store *DeviceStore

	// Router receives instructions posted over HTTP.
	Router cast.InstructionRouter

	// Audit serves GET /instructions. Optional.
	Audit audit.Repository

	// Health serves GET /health. Optional.
	Health HealthSource

	// Hub is shared with Store so broadcasts reach connected clients.
	// If nil the server creates its own.
	Hub *Hub

	// InstructionTimeout bounds the wait for an instruction reply.
	InstructionTimeout time.Duration

	Version string
}

// Server is the HTTP API server for the cast bridge.
type Server struct {
	cfg                config.APIConfig
	secCfg             config.SecurityConfig
	logger             *logging.Logger
	store              *DeviceStore
	router             cast.InstructionRouter
	audit              audit.Repository
	health             HealthSource
	hub                *Hub
	instructionTimeout time.Duration
	version            string

	server *http.Server
	addr   net.Addr
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("device store is required")
	}
	if deps.Router == nil {
		return nil, fmt.Errorf("instruction router is required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}
	timeout := deps.InstructionTimeout
	if timeout <= 0 {
		timeout = defaultInstructionTimeout
	}

	return &Server{
		cfg:                deps.Config,
		secCfg:             deps.Security,
		logger:             deps.Logger,
		store:              deps.Store,
		router:             deps.Router,
		audit:              deps.Audit,
		health:             deps.Health,
		hub:                hub,
		instructionTimeout: timeout,
		version:            deps.Version,
	}, nil
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine.
// A bind failure (port in use) is returned directly.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("binding API listener: %w", err)
	}
	s.addr = ln.Addr()
	s.logger.Info("API server listening", "address", s.addr.String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
