// Package config loads gateway settings from a Java-style .properties
// file with sane defaults for every key, so all three binaries can run
// with no configuration at all.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/magiconair/properties"
)

// Defaults for the protocol timing knobs.
const (
	DefaultTimeout2PC       = 5 * time.Second
	DefaultTokenTTL         = 3600 * time.Second
	DefaultOfflinePoll      = 200 * time.Millisecond
	DefaultCommitBackoffMax = 30 * time.Second
)

// ErrHoldTTLTooShort is returned when the configured hold TTL does not
// leave the coordinator room to finish its prepare phase.
var ErrHoldTTLTooShort = errors.New("hold.ttl must be greater than timeout.2pc")

// Config holds every recognized setting. Zero values are filled in by
// Default; Load starts from Default and overlays the file.
type Config struct {
	// Protocol timing.
	Timeout2PC       time.Duration // deadline for the whole prepare phase
	HoldTTL          time.Duration // bank-side hold expiry, must exceed Timeout2PC
	TokenTTL         time.Duration // validity of issued bearer tokens
	OfflinePoll      time.Duration // client offline-queue poll interval
	CommitBackoffMax time.Duration // cap on commit/abort retry backoff

	// Topology.
	RegistryAddr string // service registry base URL
	ListenAddr   string // host:port this process listens on
	DataDir      string // durable state directory

	// Token signing.
	TokenSecret string

	// TLS.
	EnableTLS   bool
	TLSCertFile string
	TLSKeyFile  string
}

// Default returns a configuration with the spec defaults. HoldTTL is
// derived as twice the 2PC timeout.
func Default() *Config {
	return &Config{
		Timeout2PC:       DefaultTimeout2PC,
		HoldTTL:          2 * DefaultTimeout2PC,
		TokenTTL:         DefaultTokenTTL,
		OfflinePoll:      DefaultOfflinePoll,
		CommitBackoffMax: DefaultCommitBackoffMax,
		RegistryAddr:     "http://localhost:7400",
		ListenAddr:       "localhost:0",
		DataDir:          "./data",
		TokenSecret:      "bridgepay-dev-secret",
	}
}

// Load reads a .properties file and overlays it on the defaults. An
// absent hold.ttl is derived as 2x timeout.2pc after the overlay.
func Load(path string) (*Config, error) {
	p, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return fromProperties(p)
}

func fromProperties(p *properties.Properties) (*Config, error) {
	cfg := Default()

	cfg.Timeout2PC = p.GetParsedDuration("timeout.2pc", cfg.Timeout2PC)
	cfg.HoldTTL = p.GetParsedDuration("hold.ttl", 2*cfg.Timeout2PC)
	cfg.TokenTTL = p.GetParsedDuration("token.ttl", cfg.TokenTTL)
	cfg.OfflinePoll = p.GetParsedDuration("offline.poll", cfg.OfflinePoll)
	cfg.CommitBackoffMax = p.GetParsedDuration("commit.backoff.max", cfg.CommitBackoffMax)

	cfg.RegistryAddr = p.GetString("registry.addr", cfg.RegistryAddr)
	cfg.ListenAddr = p.GetString("listen.addr", cfg.ListenAddr)
	cfg.DataDir = p.GetString("data.dir", cfg.DataDir)
	cfg.TokenSecret = p.GetString("token.secret", cfg.TokenSecret)

	cfg.EnableTLS = p.GetBool("tls.enabled", cfg.EnableTLS)
	cfg.TLSCertFile = p.GetString("tls.cert", cfg.TLSCertFile)
	cfg.TLSKeyFile = p.GetString("tls.key", cfg.TLSKeyFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-key invariants, most importantly that a
// prepared hold cannot expire while the coordinator is still inside its
// prepare deadline.
func (c *Config) Validate() error {
	if c.Timeout2PC <= 0 {
		return errors.New("timeout.2pc must be positive")
	}
	if c.HoldTTL <= c.Timeout2PC {
		return fmt.Errorf("%w: hold.ttl=%s timeout.2pc=%s", ErrHoldTTLTooShort, c.HoldTTL, c.Timeout2PC)
	}
	if c.OfflinePoll <= 0 {
		return errors.New("offline.poll must be positive")
	}
	return nil
}
