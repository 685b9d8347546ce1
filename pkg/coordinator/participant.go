// Package coordinator implements the heart of the gateway: the
// idempotency registry, the durable decision log, and the two-phase
// commit engine that moves funds between two bank participants.
package coordinator

import (
	"context"

	"github.com/mnohosten/bridgepay/pkg/txid"
	"github.com/mnohosten/bridgepay/pkg/wire"
)

// Participant is the coordinator's view of one bank in the role of
// transfer source or destination. Source and destination are two
// instances of this capability, possibly the same endpoint for
// intra-bank transfers.
type Participant interface {
	// Bank returns the participant's bank name.
	Bank() string

	// Authenticate verifies a user's credentials at the bank.
	Authenticate(ctx context.Context, username, password string) error

	// PrepareDebit reserves funds under a transaction.
	PrepareDebit(ctx context.Context, req wire.PrepareRequest) error

	// PrepareCredit records an incoming obligation under a transaction.
	PrepareCredit(ctx context.Context, req wire.PrepareRequest) error

	// CommitDebit applies a prepared debit.
	CommitDebit(ctx context.Context, id txid.TxID) error

	// CommitCredit applies a prepared credit.
	CommitCredit(ctx context.Context, id txid.TxID) error

	// AbortDebit releases a debit hold. Aborting an unknown txid is ok.
	AbortDebit(ctx context.Context, id txid.TxID) error

	// AbortCredit releases a credit hold.
	AbortCredit(ctx context.Context, id txid.TxID) error

	// Balance reads an account balance.
	Balance(ctx context.Context, username string) (int64, error)

	// History reads an account's committed transfers.
	History(ctx context.Context, username string) ([]wire.HistoryRecord, error)
}

// Resolver turns a bank name into a Participant, typically through the
// service registry.
type Resolver interface {
	Participant(ctx context.Context, bank string) (Participant, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, bank string) (Participant, error)

// Participant implements Resolver.
func (f ResolverFunc) Participant(ctx context.Context, bank string) (Participant, error) {
	return f(ctx, bank)
}
