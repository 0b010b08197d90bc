package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"apphost/internal/constants"
	"apphost/internal/db"
	"apphost/internal/events"
	"apphost/internal/graph"
	"apphost/internal/logger"
	"apphost/internal/resource"
	"apphost/internal/runstate"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Config holds the server configuration
type Config struct {
	Host            string        `toml:"host"`
	Port            int           `toml:"port"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`

	// CORS settings
	AllowOrigins []string `toml:"allow_origins"`
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:            constants.DefaultServerHost,
		Port:            constants.DefaultServerPort,
		ReadTimeout:     constants.DefaultServerReadTimeout,
		WriteTimeout:    constants.DefaultServerWriteTimeout,
		ShutdownTimeout: constants.DefaultServerShutdownTimeout,
		AllowOrigins:    []string{"*"},
	}
}

// Source is the running application the status API reports on.
// *orchestrator.Orchestrator satisfies it.
type Source interface {
	RunID() string
	Graph() *graph.Graph
	Snapshot() []runstate.Record
	Bindings(name string) map[string]resource.Binding
}

// Server is the read-only status API of one run
type Server struct {
	config    *Config
	echo      *echo.Echo
	source    Source
	broker    *events.Broker
	history   db.HistoryStore
	startTime time.Time
	routed    bool
}

// New creates a server. broker and history may be nil; the event stream and
// the run history routes then report 503.
func New(cfg *Config, source Source, broker *events.Broker, history db.HistoryStore) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler

	return &Server{
		config:    cfg,
		echo:      e,
		source:    source,
		broker:    broker,
		history:   history,
		startTime: time.Now(),
	}
}

// Echo returns the Echo instance
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	s.setup()
	return s.echo
}

func (s *Server) setup() {
	if s.routed {
		return
	}
	s.routed = true
	s.setupMiddleware()
	s.setupRoutes()
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.setup()

	addr := s.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.echo,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()
	logger.WithField("addr", addr).Info("Status API listening")

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Debug("Context cancelled, shutting down status API")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// setupMiddleware configures all middleware
func (s *Server) setupMiddleware() {
	s.echo.Use(logger.RequestLogger())
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.config.AllowOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
	}))
	s.echo.Use(contextEnricher(s.source.RunID()))
}
