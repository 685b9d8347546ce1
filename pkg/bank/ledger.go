// Package bank implements the participant side of the gateway: an
// account ledger with balance reservations (holds), the prepare /
// commit / abort protocol surface, credential verification, and
// durable state.
package bank

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"time"

	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"

	"github.com/mnohosten/bridgepay/pkg/txid"
	"github.com/mnohosten/bridgepay/pkg/wire"
)

// PBKDF2 parameters for stored password hashes.
const (
	saltLength     = 16
	iterationCount = 4096
	keyLength      = 32
)

// HoldKind distinguishes reservations that decrease balance on commit
// from obligations that increase it.
type HoldKind int

const (
	// HoldDebit reserves funds to be subtracted on commit.
	HoldDebit HoldKind = iota
	// HoldCredit records funds to be added on commit.
	HoldCredit
)

// String returns the wire name of the kind.
func (k HoldKind) String() string {
	if k == HoldDebit {
		return "debit"
	}
	return "credit"
}

// holdKey identifies a hold. An intra-bank transfer places a debit and
// a credit hold under the same txid, so the kind is part of the key.
type holdKey struct {
	ID   txid.TxID
	Kind HoldKind
}

// Hold is a tentative reservation on one account, released by commit,
// abort, or deadline expiry.
type Hold struct {
	ID               txid.TxID
	Kind             HoldKind
	Account          string
	Amount           int64
	Deadline         time.Time
	CounterpartyBank string
	CounterpartyUser string
}

// Account is one user record owned by this bank.
type Account struct {
	Username     string
	PasswordHash []byte
	Salt         []byte
	Balance      int64
	History      []wire.HistoryRecord
}

// Ledger is the process-wide account table of one bank participant.
// All state transitions go through the ledger's lock; holds are never
// persisted, so a restart implicitly aborts every in-flight txn.
type Ledger struct {
	mu        sync.RWMutex
	accounts  map[string]*Account
	holds     map[holdKey]*Hold
	completed map[holdKey]struct{}

	holdTTL time.Duration
	logger  *zap.Logger
	now     func() time.Time

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// NewLedger creates an empty ledger. Holds placed by Prepare* expire
// after holdTTL.
func NewLedger(holdTTL time.Duration, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		accounts:  make(map[string]*Account),
		holds:     make(map[holdKey]*Hold),
		completed: make(map[holdKey]struct{}),
		holdTTL:   holdTTL,
		logger:    logger,
		now:       time.Now,
		sweepStop: make(chan struct{}),
	}
}

// CreateAccount adds a user with an initial balance, hashing the given
// password. Used at bootstrap; accounts are never destroyed.
func (l *Ledger) CreateAccount(username, password string, balance int64) error {
	if balance < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.accounts[username]; exists {
		return ErrUserExists
	}

	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	l.accounts[username] = &Account{
		Username:     username,
		PasswordHash: hashPassword(password, salt),
		Salt:         salt,
		Balance:      balance,
	}
	return nil
}

// Authenticate verifies a user's password.
func (l *Ledger) Authenticate(username, password string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	acct, exists := l.accounts[username]
	if !exists {
		return ErrUnknownUser
	}
	if !hmac.Equal(hashPassword(password, acct.Salt), acct.PasswordHash) {
		return ErrBadPassword
	}
	return nil
}

// PrepareDebit reserves req.Amount on the source account. A repeated
// prepare for a txid whose hold is still live is idempotent. An account
// carries at most one live debit hold at a time.
func (l *Ledger) PrepareDebit(req wire.PrepareRequest) error {
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := holdKey{ID: req.TxID, Kind: HoldDebit}
	if _, done := l.completed[key]; done {
		return &DuplicateTxnError{State: wire.StatusCommitted}
	}
	if _, live := l.holds[key]; live {
		// Retried prepare for a live hold: already reserved.
		return nil
	}

	acct, exists := l.accounts[req.Username]
	if !exists {
		return ErrUnknownUser
	}

	if other := l.liveDebitHold(req.Username); other != nil {
		return ErrConflictingHold
	}
	if acct.Balance < req.Amount {
		return ErrInsufficientFunds
	}

	l.holds[key] = &Hold{
		ID:               req.TxID,
		Kind:             HoldDebit,
		Account:          req.Username,
		Amount:           req.Amount,
		Deadline:         l.now().Add(l.holdTTL),
		CounterpartyBank: req.CounterpartyBank,
		CounterpartyUser: req.CounterpartyUser,
	}
	return nil
}

// PrepareCredit records an incoming obligation on the destination
// account. Credits cannot overdraw, so there is no balance or conflict
// check, only the idempotency rules.
func (l *Ledger) PrepareCredit(req wire.PrepareRequest) error {
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := holdKey{ID: req.TxID, Kind: HoldCredit}
	if _, done := l.completed[key]; done {
		return &DuplicateTxnError{State: wire.StatusCommitted}
	}
	if _, live := l.holds[key]; live {
		return nil
	}

	if _, exists := l.accounts[req.Username]; !exists {
		return ErrUnknownUser
	}

	l.holds[key] = &Hold{
		ID:               req.TxID,
		Kind:             HoldCredit,
		Account:          req.Username,
		Amount:           req.Amount,
		Deadline:         l.now().Add(l.holdTTL),
		CounterpartyBank: req.CounterpartyBank,
		CounterpartyUser: req.CounterpartyUser,
	}
	return nil
}

// CommitDebit applies a prepared debit: subtracts the amount, appends a
// history record, and releases the hold. Committing an already-applied
// txid returns nil without double-applying.
func (l *Ledger) CommitDebit(id txid.TxID) error {
	return l.commit(holdKey{ID: id, Kind: HoldDebit})
}

// CommitCredit applies a prepared credit.
func (l *Ledger) CommitCredit(id txid.TxID) error {
	return l.commit(holdKey{ID: id, Kind: HoldCredit})
}

func (l *Ledger) commit(key holdKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, done := l.completed[key]; done {
		return nil
	}

	hold, live := l.holds[key]
	if !live {
		return ErrUnknownTxn
	}
	if l.now().After(hold.Deadline) {
		// Expired before commit arrived. Equivalent to an implicit
		// abort; the coordinator treats this as an operational alarm.
		delete(l.holds, key)
		l.logger.Error("commit refused for expired hold",
			zap.String("txid", hold.ID.String()),
			zap.String("kind", hold.Kind.String()),
			zap.String("account", hold.Account))
		return ErrNotPrepared
	}

	acct := l.accounts[hold.Account]
	direction := wire.DirectionReceived
	if hold.Kind == HoldDebit {
		acct.Balance -= hold.Amount
		direction = wire.DirectionSent
	} else {
		acct.Balance += hold.Amount
	}
	acct.History = append(acct.History, wire.HistoryRecord{
		TxID:             hold.ID,
		CounterpartyBank: hold.CounterpartyBank,
		CounterpartyUser: hold.CounterpartyUser,
		Direction:        direction,
		Amount:           hold.Amount,
		Timestamp:        l.now(),
	})

	delete(l.holds, key)
	l.completed[key] = struct{}{}
	return nil
}

// AbortDebit releases a debit hold. Aborting an unknown or already
// aborted txid is a no-op; balances are never altered.
func (l *Ledger) AbortDebit(id txid.TxID) {
	l.abort(holdKey{ID: id, Kind: HoldDebit})
}

// AbortCredit releases a credit hold.
func (l *Ledger) AbortCredit(id txid.TxID) {
	l.abort(holdKey{ID: id, Kind: HoldCredit})
}

func (l *Ledger) abort(key holdKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.holds, key)
}

// Balance returns the at-rest balance of an account. Live holds do not
// change the visible balance until commit.
func (l *Ledger) Balance(username string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	acct, exists := l.accounts[username]
	if !exists {
		return 0, ErrUnknownUser
	}
	return acct.Balance, nil
}

// History returns the committed transfers of an account in append order.
func (l *Ledger) History(username string) ([]wire.HistoryRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	acct, exists := l.accounts[username]
	if !exists {
		return nil, ErrUnknownUser
	}
	out := make([]wire.HistoryRecord, len(acct.History))
	copy(out, acct.History)
	return out, nil
}

// LiveHolds returns the number of live holds, for monitoring and tests.
func (l *Ledger) LiveHolds() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.holds)
}

// TotalBalance sums every account balance.
func (l *Ledger) TotalBalance() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var sum int64
	for _, acct := range l.accounts {
		sum += acct.Balance
	}
	return sum
}

// SweepExpired removes holds whose deadline has passed and returns how
// many were dropped. An expired debit hold leaves the balance unchanged.
func (l *Ledger) SweepExpired() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	dropped := 0
	for key, hold := range l.holds {
		if now.After(hold.Deadline) {
			delete(l.holds, key)
			dropped++
			l.logger.Warn("expired hold swept",
				zap.String("txid", hold.ID.String()),
				zap.String("kind", hold.Kind.String()),
				zap.String("account", hold.Account))
		}
	}
	return dropped
}

// StartSweeper launches the background expiry sweep. Stop it with
// StopSweeper.
func (l *Ledger) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.SweepExpired()
			case <-l.sweepStop:
				return
			}
		}
	}()
}

// StopSweeper stops the background sweep. Safe to call more than once.
func (l *Ledger) StopSweeper() {
	l.sweepOnce.Do(func() { close(l.sweepStop) })
}

// liveDebitHold returns the live debit hold on an account, if any.
// Caller holds l.mu.
func (l *Ledger) liveDebitHold(username string) *Hold {
	for _, hold := range l.holds {
		if hold.Kind == HoldDebit && hold.Account == username {
			return hold
		}
	}
	return nil
}

func hashPassword(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, iterationCount, keyLength, sha256.New)
}
