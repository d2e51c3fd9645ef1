package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/sqlitetool/internal/command"
	"github.com/nerrad567/sqlitetool/internal/infrastructure/config"
	"github.com/nerrad567/sqlitetool/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BrokerStatus reports MQTT connectivity for the metrics endpoint.
type BrokerStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Dispatcher *command.Dispatcher
	Broker     BrokerStatus // optional
	Version    string
}

// Server is the HTTP API server for sqlitetool.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	dispatcher *command.Dispatcher
	broker     BrokerStatus
	version    string
	startTime  time.Time
	stats      *operationStats
	hub        *Hub
	server     *http.Server
	addr       string
	cancel     context.CancelFunc

	routerOnce sync.Once
	router     http.Handler
}

// New creates a new API server with the given dependencies.
//
// The server observes every dispatched request, so operation counters and
// change broadcasts include requests from other transports.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Security.JWT.Required && deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required when authentication is enabled")
	}

	logger := deps.Logger.With("component", "api")
	s := &Server{
		cfg:        deps.Config,
		secCfg:     deps.Security,
		logger:     logger,
		dispatcher: deps.Dispatcher,
		broker:     deps.Broker,
		version:    deps.Version,
		startTime:  time.Now(),
		stats:      newOperationStats(),
		hub:        NewHub(deps.WS, logger),
	}

	s.dispatcher.Observe(s.observe)
	return s, nil
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	s.routerOnce.Do(func() {
		s.router = s.buildRouter()
	})
	return s.router
}

// Start binds the listener, so address errors are returned here, then
// serves in the background until Close. The hub lives as long as ctx.
func (s *Server) Start(ctx context.Context) error {
	var hubCtx context.Context
	hubCtx, s.cancel = context.WithCancel(ctx)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.addr = ln.Addr().String()

	go s.hub.Run(hubCtx)
	go func() {
		var serveErr error
		if tls := s.cfg.TLS; tls.Enabled {
			s.logger.Info("API server listening", "address", s.addr, "tls", true, "cert", tls.CertFile)
			serveErr = s.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			s.logger.Info("API server listening", "address", s.addr)
			serveErr = s.server.Serve(ln)
		}
		if !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", serveErr)
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	return s.addr
}

// Close stops the hub and drains in-flight requests for up to
// gracefulShutdownTimeout.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
