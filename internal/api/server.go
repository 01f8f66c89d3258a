package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/almond-bridge/internal/accessory"
	"github.com/nerrad567/almond-bridge/internal/almond"
	"github.com/nerrad567/almond-bridge/internal/audit"
	"github.com/nerrad567/almond-bridge/internal/auth"
	"github.com/nerrad567/almond-bridge/internal/infrastructure/config"
	"github.com/nerrad567/almond-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/almond-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/almond-bridge/internal/platform"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Controller is the accessory side of the bridge.
// It is satisfied by *platform.Controller.
type Controller interface {
	Accessories() []platform.AccessoryStatus
	Accessory(uuid string) (platform.AccessoryStatus, error)
	SetSwitch(ctx context.Context, uuid string, on bool, source string) error
	PruneAccessories(ctx context.Context) (int, error)
	GetMetrics() platform.Metrics
}

// HubReader exposes the hub's device cache. It is satisfied by *almond.Client.
type HubReader interface {
	Devices() []almond.Device
	Device(id string) (almond.Device, bool)
	IsConnected() bool
	Stats() almond.Stats
}

// StatsProvider reports accessory registry statistics.
// It is satisfied by *accessory.Registry.
type StatsProvider interface {
	GetStats() accessory.Stats
}

// MQTTStatus reports broker traffic. It is satisfied by *mqtt.Client.
type MQTTStatus interface {
	Stats() mqtt.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Controller Controller
	Hub        HubReader
	Version    string

	// Optional.
	Registry    StatsProvider
	AuditRepo   audit.Repository
	MQTT        MQTTStatus
	ExternalHub *Hub // used instead of creating a hub, so the controller can broadcast to it
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	logger     *logging.Logger
	controller Controller
	almond     HubReader
	registry   StatsProvider
	auditRepo  audit.Repository
	mqtt       MQTTStatus
	auth       *auth.Authenticator
	version    string
	startTime  time.Time

	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server. The server is not started until Start()
// is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if deps.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		logger:     deps.Logger,
		controller: deps.Controller,
		almond:     deps.Hub,
		registry:   deps.Registry,
		auditRepo:  deps.AuditRepo,
		mqtt:       deps.MQTT,
		version:    deps.Version,
		startTime:  time.Now(),
		auth: auth.NewAuthenticator(
			deps.Security.Admin.Username,
			deps.Security.Admin.PasswordHash,
			deps.Security.JWT.Secret,
			time.Duration(deps.Security.JWT.AccessTokenTTL)*time.Minute,
		),
	}

	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections in a background goroutine.
// The listener is bound before Start returns, so a port conflict is
// reported here.
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
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Serve runs the server until ctx is cancelled. It lets a supervisor
// manage the server like any other service.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	if err := s.Close(); err != nil {
		return err
	}
	return ctx.Err()
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
