// Package txid implements the fixed-length transaction identifiers that
// tie a transfer together across the client, coordinator, and banks.
// A txid is allocated once by the client and reused verbatim on every
// retry, which is what makes retries idempotent end to end.
package txid

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// Size is the length of a transaction identifier in bytes.
const Size = 16

// ErrInvalidTxID is returned when parsing a malformed identifier.
var ErrInvalidTxID = errors.New("invalid transaction id")

// TxID is a 128-bit random transaction identifier. The zero value is
// reserved and never produced by New.
type TxID [Size]byte

// New generates a fresh random transaction identifier.
func New() TxID {
	var id TxID
	if _, err := rand.Read(id[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("txid: rand.Read failed: %v", err))
	}
	return id
}

// Parse decodes the hex wire form of a transaction identifier.
func Parse(s string) (TxID, error) {
	var id TxID
	if len(s) != Size*2 {
		return id, fmt.Errorf("%w: expected %d hex chars, got %d", ErrInvalidTxID, Size*2, len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidTxID, err)
	}
	copy(id[:], raw)
	return id, nil
}

// String returns the lowercase hex wire form.
func (id TxID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the identifier is the reserved zero value.
func (id TxID) IsZero() bool {
	return id == TxID{}
}

// MarshalText implements encoding.TextMarshaler so txids encode as hex
// strings in JSON bodies and as JSON object keys.
func (id TxID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *TxID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
