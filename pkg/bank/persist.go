package bank

import (
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/mnohosten/bridgepay/pkg/txid"
	"github.com/mnohosten/bridgepay/pkg/wire"
)

// On-disk state: zstd-compressed JSON. Live holds are deliberately
// absent; a restart is an implicit abort of every in-flight txn.

type persistedUser struct {
	PasswordHash []byte               `json:"password_hash"`
	Salt         []byte               `json:"salt"`
	Balance      int64                `json:"balance"`
	History      []wire.HistoryRecord `json:"history"`
}

type persistedCompletion struct {
	TxID txid.TxID `json:"txid"`
	Kind string    `json:"kind"`
}

type persistedState struct {
	Users     map[string]persistedUser `json:"users"`
	Completed []persistedCompletion    `json:"completed_txids"`
}

// BootstrapUser is one entry of the read-only credential file consumed
// when no state file exists yet.
type BootstrapUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Balance  int64  `json:"balance"`
}

type bootstrapFile struct {
	Users []BootstrapUser `json:"users"`
}

// SaveState writes balances, histories, and the completed-txn set to
// path. The write goes through a temp file and a rename so a crash
// mid-write cannot corrupt the previous state.
func (l *Ledger) SaveState(path string) error {
	l.mu.RLock()
	state := persistedState{Users: make(map[string]persistedUser, len(l.accounts))}
	for name, acct := range l.accounts {
		state.Users[name] = persistedUser{
			PasswordHash: acct.PasswordHash,
			Salt:         acct.Salt,
			Balance:      acct.Balance,
			History:      acct.History,
		}
	}
	for key := range l.completed {
		state.Completed = append(state.Completed, persistedCompletion{
			TxID: key.ID,
			Kind: key.Kind.String(),
		})
	}
	l.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}

	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if err := json.NewEncoder(zw).Encode(state); err != nil {
		zw.Close()
		f.Close()
		return fmt.Errorf("encode state: %w", err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("flush state: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// LoadLedger restores a ledger from a state file written by SaveState.
func LoadLedger(path string, holdTTL time.Duration, logger *zap.Logger) (*Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open zstd reader: %w", err)
	}
	defer zr.Close()

	var state persistedState
	if err := json.NewDecoder(zr).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode state file %s: %w", path, err)
	}

	l := NewLedger(holdTTL, logger)
	for name, u := range state.Users {
		l.accounts[name] = &Account{
			Username:     name,
			PasswordHash: u.PasswordHash,
			Salt:         u.Salt,
			Balance:      u.Balance,
			History:      u.History,
		}
	}
	for _, c := range state.Completed {
		kind := HoldDebit
		if c.Kind == HoldCredit.String() {
			kind = HoldCredit
		}
		l.completed[holdKey{ID: c.TxID, Kind: kind}] = struct{}{}
	}
	return l, nil
}

// BootstrapLedger builds a fresh ledger from a credential file,
// hashing the plaintext bootstrap passwords.
func BootstrapLedger(credPath string, holdTTL time.Duration, logger *zap.Logger) (*Ledger, error) {
	data, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	var boot bootstrapFile
	if err := json.Unmarshal(data, &boot); err != nil {
		return nil, fmt.Errorf("decode credential file %s: %w", credPath, err)
	}

	l := NewLedger(holdTTL, logger)
	for _, u := range boot.Users {
		if err := l.CreateAccount(u.Username, u.Password, u.Balance); err != nil {
			return nil, fmt.Errorf("bootstrap user %s: %w", u.Username, err)
		}
	}
	return l, nil
}

// OpenLedger loads the state file if present, otherwise bootstraps
// from the credential file.
func OpenLedger(statePath, credPath string, holdTTL time.Duration, logger *zap.Logger) (*Ledger, error) {
	if _, err := os.Stat(statePath); err == nil {
		return LoadLedger(statePath, holdTTL, logger)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat state file: %w", err)
	}
	return BootstrapLedger(credPath, holdTTL, logger)
}
