// Package api provides the HTTP REST API and WebSocket event stream for
// Gray Logic Fluent.
//
// It exposes the item registry (read state, send commands, post updates)
// and the rule engine (list rules, enable or disable them) to admin tools
// and dashboards. Every item event is relayed to WebSocket subscribers.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-fluent/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-fluent/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-fluent/internal/items"
	"github.com/nerrad567/gray-logic-fluent/internal/rules"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by infrastructure clients (MQTT, InfluxDB)
// whose status is reported by GET /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Items   *items.Registry
	Rules   *rules.Engine
	Health  map[string]HealthChecker // optional, keyed by component name
	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	items       *items.Registry
	rules       *rules.Engine
	health      map[string]HealthChecker
	version     string
	server      *http.Server
	hub         *Hub
	cancel      context.CancelFunc
	unsubscribe func()
}

// New creates a new API server. It is not listening until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Items == nil {
		return nil, fmt.Errorf("item registry is required")
	}
	if deps.Rules == nil {
		return nil, fmt.Errorf("rule engine is required")
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		items:   deps.Items,
		rules:   deps.Rules,
		health:  deps.Health,
		version: deps.Version,
		hub:     NewHub(deps.WS, deps.Logger, deps.Items),
	}, nil
}

// Start relays item events to the WebSocket hub and begins serving HTTP in
// the background. The listener is bound before Start returns, so an address
// already in use is reported here.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.unsubscribe = s.items.Subscribe(s.relayItemEvent)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.unsubscribe()
		s.cancel()
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	if s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Close stops the event relay and gracefully shuts down the server,
// waiting up to 10 seconds for in-flight requests.
func (s *Server) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
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

// relayItemEvent broadcasts an item event on channel "item.<type>".
func (s *Server) relayItemEvent(_ context.Context, ev items.Event) {
	s.hub.Broadcast(ChannelPrefixItem+string(ev.Type), ev.ItemName, ev)
}
