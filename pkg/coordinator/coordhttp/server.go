package coordhttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mnohosten/bridgepay/pkg/coordinator"
	"github.com/mnohosten/bridgepay/pkg/participant"
	"github.com/mnohosten/bridgepay/pkg/registry"
	"github.com/mnohosten/bridgepay/pkg/token"
)

// Config holds the coordinator server configuration.
type Config struct {
	ListenAddr   string
	RegistryAddr string
	LogDir       string

	TokenSecret string
	TokenTTL    time.Duration

	Timeout2PC       time.Duration
	CommitBackoffMax time.Duration

	EnableTLS   bool
	TLSCertFile string
	TLSKeyFile  string
}

// Server is the coordinator process: the 2PC engine, its durable
// decision log, the HTTP surface, and registry registration.
type Server struct {
	cfg      Config
	engine   *coordinator.Engine
	reg      *registry.Client
	httpSrv  *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// New opens the decision log and prepares the coordinator server.
// Opening fails when the log directory is unusable or its contents are
// corrupt.
func New(cfg Config, logger *zap.Logger) (*Server, error) {
	if cfg.TokenSecret == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := registry.NewClient(cfg.RegistryAddr)
	resolver := participant.NewResolver(reg, nil)

	engine, err := coordinator.NewEngine(coordinator.Config{
		Timeout2PC:       cfg.Timeout2PC,
		CommitBackoffMax: cfg.CommitBackoffMax,
		LogDir:           cfg.LogDir,
		Resolver:         resolver,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open coordinator engine: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		engine: engine,
		reg:    reg,
		logger: logger,
	}
	issuer := token.NewIssuer(cfg.TokenSecret, cfg.TokenTTL)
	s.httpSrv = &http.Server{
		Handler:      NewHandlers(engine, issuer, resolver, logger).Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// Engine exposes the 2PC engine, mainly for tests.
func (s *Server) Engine() *coordinator.Engine { return s.engine }

// Addr returns the bound listen address once Start has been called.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the listener, registers with the service registry, and
// serves until a signal or a server error.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln

	scheme := "http"
	if s.cfg.EnableTLS {
		scheme = "https"
	}
	advertise := fmt.Sprintf("%s://%s", scheme, ln.Addr().String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = s.reg.Register(ctx, registry.ServiceCoordinator, advertise)
	cancel()
	if err != nil {
		ln.Close()
		return fmt.Errorf("register coordinator: %w", err)
	}

	s.logger.Info("coordinator started", zap.String("addr", advertise))

	errChan := make(chan error, 1)
	go func() {
		var serveErr error
		if s.cfg.EnableTLS {
			serveErr = s.httpSrv.ServeTLS(ln, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			serveErr = s.httpSrv.Serve(ln)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			errChan <- serveErr
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		s.logger.Info("signal received, shutting down", zap.String("signal", sig.String()))
		return s.Shutdown()
	}
}

// Shutdown stops serving, closes the engine, and deregisters. Pending
// decision deliveries are abandoned; the durable log replays them on
// the next start.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
	if err := s.engine.Close(); err != nil {
		s.logger.Warn("engine close", zap.Error(err))
	}
	if err := s.reg.Deregister(ctx, registry.ServiceCoordinator); err != nil {
		s.logger.Warn("deregister failed", zap.Error(err))
	}
	s.logger.Info("coordinator stopped")
	return nil
}
