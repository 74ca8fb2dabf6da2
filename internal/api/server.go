package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/meshlink/internal/infrastructure/config"
	"github.com/nerrad567/meshlink/internal/infrastructure/logging"
	"github.com/nerrad567/meshlink/internal/message"
	"github.com/nerrad567/meshlink/internal/relay"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DefaultStreamInterval is how often the SSE stream polls for new messages.
const DefaultStreamInterval = 500 * time.Millisecond

// Relay is the part of relay.Service used by the API.
type Relay interface {
	SendMessage(content string, receiver *string) (relay.Envelope, error)
	GetNodeID() (string, error)
	GetStatus() relay.Status
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Relay    Relay
	Messages message.Repository
	Contacts message.ContactRepository
	Recorder *message.Recorder

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// Hub is used instead of creating one. The caller registers it as a
	// Recorder sink.
	Hub *Hub

	// StreamInterval defaults to DefaultStreamInterval.
	StreamInterval time.Duration
	Version        string
}

// Server is the HTTP API server for meshlink.
type Server struct {
	cfg            config.APIConfig
	wsCfg          config.WebSocketConfig
	logger         *logging.Logger
	relay          Relay
	messages       message.Repository
	contacts       message.ContactRepository
	recorder       *message.Recorder
	metrics        http.Handler
	sendLimiter    *rate.Limiter
	streamInterval time.Duration
	version        string
	startTime      time.Time
	server         *http.Server
	hub            *Hub
	externalHub    bool
	cancel         context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, relay, repositories, recorder)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Relay == nil:
		return nil, fmt.Errorf("relay is required")
	case deps.Messages == nil:
		return nil, fmt.Errorf("message repository is required")
	case deps.Contacts == nil:
		return nil, fmt.Errorf("contact repository is required")
	case deps.Recorder == nil:
		return nil, fmt.Errorf("recorder is required")
	}

	s := &Server{
		cfg:            deps.Config,
		wsCfg:          deps.WS,
		logger:         deps.Logger,
		relay:          deps.Relay,
		messages:       deps.Messages,
		contacts:       deps.Contacts,
		recorder:       deps.Recorder,
		metrics:        deps.Metrics,
		streamInterval: deps.StreamInterval,
		version:        deps.Version,
		startTime:      time.Now(),
	}
	if s.streamInterval <= 0 {
		s.streamInterval = DefaultStreamInterval
	}
	if rl := deps.Security.RateLimit; rl.Enabled && rl.RequestsPerMinute > 0 {
		s.sendLimiter = rate.NewLimiter(rate.Limit(float64(rl.RequestsPerMinute)/60), rl.RequestsPerMinute)
	}

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(s.wsCfg, s.logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless injected) and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return srvCtx },
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// Cancelling the server context ends open SSE streams so Shutdown does not
// wait on them.
//
// Returns:
//   - error: If shutdown encounters an error
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

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
