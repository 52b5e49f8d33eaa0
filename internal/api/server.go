package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/studysync/authcore/internal/audit"
	"github.com/studysync/authcore/internal/auth"
	"github.com/studysync/authcore/internal/infrastructure/config"
	"github.com/studysync/authcore/internal/infrastructure/database"
	"github.com/studysync/authcore/internal/infrastructure/logging"
	"github.com/studysync/authcore/internal/infrastructure/mqtt"
	"github.com/studysync/authcore/internal/presence"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Broker is the subset of the MQTT client the server uses. It is optional;
// *mqtt.Client satisfies it.
type Broker interface {
	PublishJSON(topic string, v any, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// TelemetryWriter receives authentication and presence points. It is
// optional; *influxdb.Client satisfies it.
type TelemetryWriter interface {
	WriteAuthOutcome(transport, outcome string, at time.Time)
	WritePresence(subjects int, at time.Time)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config        config.APIConfig
	WS            config.WebSocketConfig
	Security      config.SecurityConfig
	Logger        *logging.Logger
	Authenticator *auth.Authenticator
	Sessions      *auth.Service
	Revocations   *auth.Revocations
	Presence      *presence.Registry
	Audit         audit.Repository // optional
	DB            *database.DB     // optional, for health and pool stats
	MQTT          Broker           // optional
	Telemetry     TelemetryWriter  // optional
	Version       string
}

// Server is the HTTP API server of the auth core.
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	authn       *auth.Authenticator
	sessions    *auth.Service
	revocations *auth.Revocations
	presence    *presence.Registry
	audit       audit.Repository
	db          *database.DB
	mqtt        Broker
	telemetry   TelemetryWriter
	metrics     *Metrics
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session service is required")
	}
	if deps.Revocations == nil {
		return nil, fmt.Errorf("revocation service is required")
	}
	if deps.Presence == nil {
		deps.Presence = presence.NewRegistry()
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger.With("component", "api"),
		authn:       deps.Authenticator,
		sessions:    deps.Sessions,
		revocations: deps.Revocations,
		presence:    deps.Presence,
		audit:       deps.Audit,
		db:          deps.DB,
		mqtt:        deps.MQTT,
		telemetry:   deps.Telemetry,
		metrics:     NewMetrics(),
		version:     deps.Version,
		startTime:   time.Now(),
	}
	s.hub = NewHub(s.wsCfg, s.presence, s.logger)
	s.hub.SetPresenceHandler(s.onPresence)

	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to account events when MQTT is
// configured, and launches the HTTP listener in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	if err := s.subscribeAccountEvents(); err != nil {
		s.logger.Warn("failed to subscribe to account events", "error", err)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
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

// Close gracefully shuts down the API server and disconnects every
// WebSocket client.
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

// HealthCheck verifies the API server is running and responsive.
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
