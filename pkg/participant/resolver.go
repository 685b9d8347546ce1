package participant

import (
	"context"
	"net/http"
	"sync"

	"github.com/mnohosten/bridgepay/pkg/coordinator"
	"github.com/mnohosten/bridgepay/pkg/registry"
)

// Resolver resolves bank names through the service registry. Every
// resolution does a fresh lookup so a re-registered bank is picked up
// immediately; adapters are cached per address to reuse connections.
type Resolver struct {
	reg *registry.Client
	hc  *http.Client

	mu    sync.Mutex
	cache map[string]*HTTPParticipant
}

// NewResolver creates a registry-backed resolver. A nil client falls
// back to http.DefaultClient for all participant traffic.
func NewResolver(reg *registry.Client, hc *http.Client) *Resolver {
	return &Resolver{reg: reg, hc: hc, cache: make(map[string]*HTTPParticipant)}
}

// Participant looks up the bank's registered address and returns an
// adapter for it. An unregistered or unreachable registry entry
// surfaces as an unavailable error.
func (r *Resolver) Participant(ctx context.Context, bank string) (coordinator.Participant, error) {
	addr, err := r.reg.Lookup(ctx, registry.BankService(bank))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.cache[bank]; ok && p.BaseURL() == addr {
		return p, nil
	}
	p := NewHTTP(bank, addr, r.hc)
	r.cache[bank] = p
	return p, nil
}
