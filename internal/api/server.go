package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/lora-relay/internal/bridges/chirpstack"
	"github.com/nerrad567/lora-relay/internal/bundle"
	"github.com/nerrad567/lora-relay/internal/cache"
	"github.com/nerrad567/lora-relay/internal/dispatch"
	"github.com/nerrad567/lora-relay/internal/enddevice"
	"github.com/nerrad567/lora-relay/internal/frame"
	"github.com/nerrad567/lora-relay/internal/infrastructure/config"
	"github.com/nerrad567/lora-relay/internal/infrastructure/logging"
	"github.com/nerrad567/lora-relay/internal/journal"
	"github.com/nerrad567/lora-relay/internal/lorawan"
	"github.com/nerrad567/lora-relay/internal/queue"
	"github.com/nerrad567/lora-relay/internal/sender"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// GatewaySource exposes the gateway bridge's view of the network.
// *chirpstack.Bridge satisfies it.
type GatewaySource interface {
	Gateways() *chirpstack.GatewaySet
	Stats() chirpstack.Stats
}

// JournalReader serves GET /api/journal. *journal.Journal satisfies it.
type JournalReader interface {
	List(ctx context.Context, filter journal.Filter) (*journal.ListResult, error)
}

// DispatchStats reports uplink dispatch counters. *dispatch.Dispatcher satisfies it.
type DispatchStats interface {
	Stats() dispatch.Stats
}

// SendStats reports send scheduler counters. *sender.Sender satisfies it.
type SendStats interface {
	Stats() sender.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	ListenAddr string
	Logger     *logging.Logger
	NodeID     string
	Version    string

	Registry *enddevice.Registry
	Queues   *queue.Set
	Splitter *bundle.Splitter
	Prefixes frame.Prefixes

	// Defaults fill radio parameters a request leaves out.
	Defaults lorawan.Params

	// Optional read-only views. Nil sources are omitted from responses.
	Cache       *cache.Cache
	Reassembler *bundle.Reassembler
	Gateways    GatewaySource
	DutyCycle   *lorawan.DutyCycle
	Dispatcher  DispatchStats
	Sender      SendStats

	// Journal is nil when the traffic journal is disabled.
	Journal JournalReader

	ExternalHub *Hub // If set, the server uses this hub instead of creating its own
}

// Server is the management HTTP server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	listenAddr string
	logger     *logging.Logger
	nodeID     string
	version    string

	registry    *enddevice.Registry
	queues      *queue.Set
	splitter    *bundle.Splitter
	prefixes    frame.Prefixes
	defaults    lorawan.Params
	cache       *cache.Cache
	reassembler *bundle.Reassembler
	gateways    GatewaySource
	dutyCycle   *lorawan.DutyCycle
	dispatcher  DispatchStats
	sender      SendStats
	journal     JournalReader

	server    *http.Server
	listener  net.Listener
	hub       *Hub
	startTime time.Time
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Registry == nil:
		return nil, fmt.Errorf("end-device registry is required")
	case deps.Queues == nil:
		return nil, fmt.Errorf("queue set is required")
	case deps.Splitter == nil:
		return nil, fmt.Errorf("bundle splitter is required")
	case deps.ListenAddr == "":
		return nil, fmt.Errorf("listen address is required")
	}
	if err := deps.Prefixes.Validate(); err != nil {
		return nil, err
	}
	if err := deps.Defaults.Validate(); err != nil {
		return nil, fmt.Errorf("default radio parameters: %w", err)
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		listenAddr:  deps.ListenAddr,
		logger:      deps.Logger,
		nodeID:      deps.NodeID,
		version:     deps.Version,
		registry:    deps.Registry,
		queues:      deps.Queues,
		splitter:    deps.Splitter,
		prefixes:    deps.Prefixes,
		defaults:    deps.Defaults,
		cache:       deps.Cache,
		reassembler: deps.Reassembler,
		gateways:    deps.Gateways,
		dutyCycle:   deps.DutyCycle,
		dispatcher:  deps.Dispatcher,
		sender:      deps.Sender,
		journal:     deps.Journal,
		startTime:   time.Now(),
	}

	// The daemon shares one hub between the server and the dispatcher's
	// observer fanout.
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.hub.SetBundleHandler(s.submitBundle)
	}

	return s, nil
}

// Hub returns the WebSocket hub, or nil before Start when none was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// The listener is bound synchronously so that address errors are returned
// here; requests are then served in a background goroutine until Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		s.hub.SetBundleHandler(s.submitBundle)
		go s.hub.Run(srvCtx)
	}

	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.listenAddr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String(), "auth", s.authEnabled())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
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

func (s *Server) authEnabled() bool {
	return s.secCfg.JWT.Secret != ""
}
