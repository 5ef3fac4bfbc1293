package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/andr2000/camera-be/internal/camera"
	"github.com/andr2000/camera-be/internal/frontend"
	"github.com/andr2000/camera-be/internal/infrastructure/config"
	"github.com/andr2000/camera-be/internal/infrastructure/database"
	"github.com/andr2000/camera-be/internal/infrastructure/logging"
	"github.com/andr2000/camera-be/internal/inventory"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Registry lists the open cameras. It is satisfied by *camera.Registry.
type Registry interface {
	Snapshot() []camera.Entry
}

// Frontends exposes the connected frontends. It is satisfied by
// *frontend.Manager.
type Frontends interface {
	Sessions() []frontend.SessionInfo
	OverrideControl(uniqueID, name string, value int64) error
}

// Groups lists the per-camera frontend groups. It is satisfied by
// *frontend.Hub.
type Groups interface {
	Groups() []frontend.GroupInfo
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

var (
	_ Registry  = (*camera.Registry)(nil)
	_ Frontends = (*frontend.Manager)(nil)
	_ Groups    = (*frontend.Hub)(nil)
)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Registry Registry

	Inventory inventory.Repository // optional
	Frontends Frontends            // optional
	Groups    Groups               // optional
	DB        *database.DB         // optional, for pool metrics

	// Checks are run by the health endpoint, keyed by component name.
	Checks map[string]HealthChecker

	Version string
}

// Server is the HTTP API server.
//
// It is created with New, started with Start and stopped with Close.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	registry  Registry
	inventory inventory.Repository
	frontends Frontends
	groups    Groups
	db        *database.DB
	checks    map[string]HealthChecker
	version   string
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Logger and Registry are required; the rest enable their routes
//
// Returns:
//   - *Server: Configured server
//   - error: If a required dependency is missing
func New(deps Deps) (*Server, error) {
	// Validate required dependencies
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("camera registry is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		registry:  deps.Registry,
		inventory: deps.Inventory,
		frontends: deps.Frontends,
		groups:    deps.Groups,
		db:        deps.DB,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Handler returns the routed handler with the full middleware stack.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine. A bind
// failure is returned; later serve errors are logged.
//
// Returns:
//   - error: If already started or the address cannot be bound
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	// Bind first so the caller sees address errors
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
