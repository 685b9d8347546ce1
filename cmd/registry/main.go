package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mnohosten/bridgepay/pkg/config"
	"github.com/mnohosten/bridgepay/pkg/registry"
)

func main() {
	configPath := flag.String("config", "", "Path to a .properties configuration file")
	listen := flag.String("listen", "localhost:7400", "Registry listen address")
	flag.Parse()

	addr := *listen
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ Failed to load config: %v\n", err)
			os.Exit(1)
		}
		set := map[string]bool{}
		flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
		if !set["listen"] {
			addr = cfg.ListenAddr
		}
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to listen on %s: %v\n", addr, err)
		os.Exit(1)
	}

	srv := &http.Server{
		Handler:      registry.NewHandler(registry.NewStore(), logger).Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	logger.Info("registry started", zap.String("addr", ln.Addr().String()))

	errChan := make(chan error, 1)
	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			errChan <- serveErr
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "❌ Registry error: %v\n", err)
		os.Exit(1)
	case sig := <-sigChan:
		logger.Info("signal received, shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
