package bankhttp

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

	"github.com/mnohosten/bridgepay/pkg/bank"
	"github.com/mnohosten/bridgepay/pkg/registry"
)

// Config holds the participant server configuration.
type Config struct {
	Name         string // bank name, identifies the registry entry and state file
	ListenAddr   string
	RegistryAddr string
	StatePath    string
	CredPath     string
	HoldTTL      time.Duration

	EnableTLS   bool
	TLSCertFile string
	TLSKeyFile  string
}

// Server is one bank participant process: ledger, HTTP surface, expiry
// sweeper, and registry registration.
type Server struct {
	cfg      Config
	ledger   *bank.Ledger
	reg      *registry.Client
	httpSrv  *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// New opens (or bootstraps) the ledger and prepares the server.
func New(cfg Config, logger *zap.Logger) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("bank name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ledger, err := bank.OpenLedger(cfg.StatePath, cfg.CredPath, cfg.HoldTTL, logger)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		ledger: ledger,
		reg:    registry.NewClient(cfg.RegistryAddr),
		logger: logger.With(zap.String("bank", cfg.Name)),
	}
	s.httpSrv = &http.Server{
		Handler:      NewHandlers(ledger, s.logger).Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

// Ledger exposes the underlying ledger, mainly for tests.
func (s *Server) Ledger() *bank.Ledger { return s.ledger }

// Addr returns the bound listen address once Start has been called.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the listener, registers with the service registry, runs
// the expiry sweeper, and serves until a signal or a server error.
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
	err = s.reg.Register(ctx, registry.BankService(s.cfg.Name), advertise)
	cancel()
	if err != nil {
		ln.Close()
		return fmt.Errorf("register bank/%s: %w", s.cfg.Name, err)
	}

	s.ledger.StartSweeper(s.cfg.HoldTTL / 4)
	s.logger.Info("bank participant started", zap.String("addr", advertise))

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

// Shutdown stops serving, persists the ledger state, and deregisters.
// Live holds are not persisted; a restart implicitly aborts them.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
	s.ledger.StopSweeper()

	if err := s.ledger.SaveState(s.cfg.StatePath); err != nil {
		return fmt.Errorf("persist ledger state: %w", err)
	}
	if err := s.reg.Deregister(ctx, registry.BankService(s.cfg.Name)); err != nil {
		s.logger.Warn("deregister failed", zap.Error(err))
	}
	s.logger.Info("bank participant stopped")
	return nil
}
