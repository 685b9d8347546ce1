package coordinator

import (
	"sync"
	"time"

	"github.com/mnohosten/bridgepay/pkg/txid"
	"github.com/mnohosten/bridgepay/pkg/wire"
)

// State is the lifecycle state of a coordinator transaction entry.
type State int

const (
	// StateInFlight marks a transfer between insertion and decision.
	StateInFlight State = iota
	// StateCommitted is terminal: both participants committed.
	StateCommitted
	// StateAborted is terminal: the transfer was rolled back.
	StateAborted
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateInFlight:
		return wire.StatusInFlight
	case StateCommitted:
		return wire.StatusCommitted
	case StateAborted:
		return wire.StatusAborted
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is committed or aborted.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// Entry is one transaction as tracked by the coordinator. Once a
// terminal state is recorded the entry never transitions again, which
// is what makes resubmission idempotent.
type Entry struct {
	ID        txid.TxID
	State     State
	Result    wire.TransferResult
	Request   wire.TransferRequest
	StartedAt time.Time
}

// Registry is the coordinator's idempotency registry: the process-wide
// txid to outcome mapping. It is rebuilt from the decision log at
// startup.
type Registry struct {
	mu      sync.Mutex
	entries map[txid.TxID]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[txid.TxID]*Entry)}
}

// Begin inserts an in-flight entry for a new txid. If the txid is
// already known, the existing entry is returned with existing=true and
// no state is changed.
func (r *Registry) Begin(req wire.TransferRequest) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[req.TxID]; ok {
		return *e, true
	}
	e := &Entry{
		ID:        req.TxID,
		State:     StateInFlight,
		Request:   req,
		StartedAt: time.Now(),
	}
	r.entries[req.TxID] = e
	return *e, false
}

// Complete transitions an entry to a terminal state with its result.
// A terminal entry is never overwritten except for the one
// correctness-alarm path (commit arriving after hold expiry), where the
// caller downgrades committed to aborted explicitly via Override.
func (r *Registry) Complete(id txid.TxID, state State, result wire.TransferResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		e = &Entry{ID: id, StartedAt: time.Now()}
		r.entries[id] = e
	}
	if e.State.Terminal() {
		return
	}
	e.State = state
	e.Result = result
}

// Override force-sets a terminal state. Only used for the
// commit-after-expiry alarm path.
func (r *Registry) Override(id txid.TxID, state State, result wire.TransferResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		e = &Entry{ID: id, StartedAt: time.Now()}
		r.entries[id] = e
	}
	e.State = state
	e.Result = result
}

// Remove drops an entry. Only used when a transfer could not even
// begin (resolution failure): per the error design, unavailable is
// never cached.
func (r *Registry) Remove(id txid.TxID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Get looks up an entry by txid.
func (r *Registry) Get(id txid.TxID) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of tracked entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
