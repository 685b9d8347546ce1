package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mnohosten/bridgepay/pkg/config"
	"github.com/mnohosten/bridgepay/pkg/coordinator/coordhttp"
	"github.com/mnohosten/bridgepay/pkg/netutil"
)

func main() {
	configPath := flag.String("config", "", "Path to a .properties configuration file")
	listen := flag.String("listen", "", "Listen address (overrides config)")
	registryAddr := flag.String("registry", "", "Registry base URL (overrides config)")
	dataDir := flag.String("data-dir", "", "Decision log directory (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "❌ Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if *registryAddr != "" {
		cfg.RegistryAddr = *registryAddr
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.EnableTLS {
		host, _, splitErr := net.SplitHostPort(cfg.ListenAddr)
		if splitErr != nil || host == "" {
			host = "localhost"
		}
		if err := netutil.EnsureServerCert(cfg.TLSCertFile, cfg.TLSKeyFile, host); err != nil {
			fmt.Fprintf(os.Stderr, "❌ Failed to provision TLS certificate: %v\n", err)
			os.Exit(1)
		}
	}

	srv, err := coordhttp.New(coordhttp.Config{
		ListenAddr:       cfg.ListenAddr,
		RegistryAddr:     cfg.RegistryAddr,
		LogDir:           filepath.Join(cfg.DataDir, "coordinator"),
		TokenSecret:      cfg.TokenSecret,
		TokenTTL:         cfg.TokenTTL,
		Timeout2PC:       cfg.Timeout2PC,
		CommitBackoffMax: cfg.CommitBackoffMax,
		EnableTLS:        cfg.EnableTLS,
		TLSCertFile:      cfg.TLSCertFile,
		TLSKeyFile:       cfg.TLSKeyFile,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to create coordinator: %v\n", err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Coordinator error: %v\n", err)
		os.Exit(1)
	}
}
