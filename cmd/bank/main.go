package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mnohosten/bridgepay/pkg/bank/bankhttp"
	"github.com/mnohosten/bridgepay/pkg/config"
	"github.com/mnohosten/bridgepay/pkg/netutil"
)

func main() {
	name := flag.String("name", "", "Bank name (required)")
	configPath := flag.String("config", "", "Path to a .properties configuration file")
	listen := flag.String("listen", "", "Listen address (overrides config)")
	registryAddr := flag.String("registry", "", "Registry base URL (overrides config)")
	dataDir := flag.String("data-dir", "", "State directory (overrides config)")
	credentials := flag.String("credentials", "", "Bootstrap credentials file for first start")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "❌ --name is required")
		flag.Usage()
		os.Exit(1)
	}

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

	credPath := *credentials
	if credPath == "" {
		credPath = filepath.Join(cfg.DataDir, *name+".users.json")
	}

	srv, err := bankhttp.New(bankhttp.Config{
		Name:         *name,
		ListenAddr:   cfg.ListenAddr,
		RegistryAddr: cfg.RegistryAddr,
		StatePath:    filepath.Join(cfg.DataDir, *name+".state.zst"),
		CredPath:     credPath,
		HoldTTL:      cfg.HoldTTL,
		EnableTLS:    cfg.EnableTLS,
		TLSCertFile:  cfg.TLSCertFile,
		TLSKeyFile:   cfg.TLSKeyFile,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to create bank %s: %v\n", *name, err)
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Bank error: %v\n", err)
		os.Exit(1)
	}
}
