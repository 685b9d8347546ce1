// Package wire defines the request/response messages exchanged between
// the client, the coordinator, and the bank participants, together with
// the shared error taxonomy and the JSON response envelope.
package wire

import (
	"time"

	"github.com/mnohosten/bridgepay/pkg/txid"
)

// Error codes shared across the whole gateway. Servers put these on the
// wire; clients map them back to typed errors.
const (
	CodeUnauthorized      = "unauthorized"
	CodeAuthFailed        = "auth_failed"
	CodeUnknownBank       = "unknown_bank"
	CodeUnknownUser       = "unknown_user"
	CodeUnknownTxn        = "unknown_txid"
	CodeUnknownService    = "unknown_service"
	CodeInsufficientFunds = "insufficient_funds"
	CodeDuplicateTxn      = "duplicate_txid"
	CodeConflictingHold   = "conflicting_hold"
	CodeTimeout           = "timeout"
	CodeUnavailable       = "unavailable"
	CodeNotPrepared       = "not_prepared"
	CodeInternal          = "internal"
)

// Transfer outcome statuses.
const (
	StatusCommitted = "committed"
	StatusAborted   = "aborted"
	StatusInFlight  = "in-flight"
	StatusQueued    = "queued"
)

// Hold directions, also used for history records.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Error is a domain error that survives the RPC boundary. State carries
// extra context for duplicate_txid responses (the prior state of the
// transaction as seen by the responder).
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	State   string `json:"state,omitempty"`
}

func (e *Error) Error() string {
	if e.State != "" {
		return e.Code + "(" + e.State + "): " + e.Message
	}
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Errorf builds a wire error with the given code.
func Errorf(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// CodeOf extracts the wire code from an error, or internal if the error
// did not originate from the taxonomy.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if we, ok := err.(*Error); ok {
		return we.Code
	}
	return CodeInternal
}

// LoginRequest asks the coordinator for a bearer token.
type LoginRequest struct {
	Bank     string `json:"bank"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the minted token.
type LoginResponse struct {
	Token string `json:"token"`
}

// TransferRequest initiates (or retries) a funds transfer. TxID is
// allocated by the client and stable across retries.
type TransferRequest struct {
	TxID    txid.TxID `json:"txid"`
	SrcBank string    `json:"src_bank"`
	SrcUser string    `json:"src_user"`
	DstBank string    `json:"dst_bank"`
	DstUser string    `json:"dst_user"`
	Amount  int64     `json:"amount"`
}

// TransferResult is the terminal outcome of a transfer. Reason is set
// for aborted transfers (e.g. "prepare_failed: insufficient_funds").
type TransferResult struct {
	TxID   txid.TxID `json:"txid"`
	Status string    `json:"status"`
	Reason string    `json:"reason,omitempty"`
}

// Committed reports whether the transfer reached the committed state.
func (r TransferResult) Committed() bool { return r.Status == StatusCommitted }

// AuthRequest authenticates a user directly against a bank participant.
type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PrepareRequest reserves funds (debit) or records an obligation
// (credit) under a transaction. The counterparty fields are carried so
// the bank can write a complete history record at commit time.
type PrepareRequest struct {
	TxID             txid.TxID `json:"txid"`
	Username         string    `json:"username"`
	Amount           int64     `json:"amount"`
	CounterpartyBank string    `json:"counterparty_bank"`
	CounterpartyUser string    `json:"counterparty_user"`
}

// FinishRequest commits or aborts a previously prepared transaction.
type FinishRequest struct {
	TxID txid.TxID `json:"txid"`
}

// BalanceResponse carries an account balance in minor units.
type BalanceResponse struct {
	Username string `json:"username"`
	Balance  int64  `json:"balance"`
}

// HistoryRecord is one committed transfer as seen by one account.
type HistoryRecord struct {
	TxID             txid.TxID `json:"txid"`
	CounterpartyBank string    `json:"counterparty_bank"`
	CounterpartyUser string    `json:"counterparty_user"`
	Direction        string    `json:"direction"`
	Amount           int64     `json:"amount"`
	Timestamp        time.Time `json:"timestamp"`
}

// HistoryResponse lists an account's committed transfers in order.
type HistoryResponse struct {
	Username string          `json:"username"`
	Records  []HistoryRecord `json:"records"`
}

// TransferEvent is broadcast on the coordinator's event feed whenever a
// transfer reaches a terminal state.
type TransferEvent struct {
	TxID    txid.TxID `json:"txid"`
	Status  string    `json:"status"`
	Reason  string    `json:"reason,omitempty"`
	SrcBank string    `json:"src_bank"`
	DstBank string    `json:"dst_bank"`
	Amount  int64     `json:"amount"`
	At      time.Time `json:"at"`
}
