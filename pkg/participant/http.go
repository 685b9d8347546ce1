// Package participant gives the coordinator its view of remote bank
// participants: an HTTP adapter speaking the participant protocol and a
// registry-backed resolver that maps bank names to live adapters.
package participant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	json "github.com/goccy/go-json"

	"github.com/mnohosten/bridgepay/pkg/txid"
	"github.com/mnohosten/bridgepay/pkg/wire"
)

// HTTPParticipant drives one bank participant over its HTTP API.
type HTTPParticipant struct {
	bank    string
	baseURL string
	hc      *http.Client
}

// NewHTTP creates a participant adapter for the bank served at baseURL.
// A nil client falls back to http.DefaultClient; request deadlines come
// from the caller's context either way.
func NewHTTP(bank, baseURL string, hc *http.Client) *HTTPParticipant {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPParticipant{bank: bank, baseURL: baseURL, hc: hc}
}

// Bank returns the bank name this adapter serves.
func (p *HTTPParticipant) Bank() string { return p.bank }

// BaseURL returns the address the adapter was built for.
func (p *HTTPParticipant) BaseURL() string { return p.baseURL }

// Authenticate checks user credentials directly against the bank.
func (p *HTTPParticipant) Authenticate(ctx context.Context, username, password string) error {
	return p.post(ctx, "/v1/authenticate", wire.AuthRequest{Username: username, Password: password}, nil)
}

// PrepareDebit asks the bank to place a debit hold.
func (p *HTTPParticipant) PrepareDebit(ctx context.Context, req wire.PrepareRequest) error {
	return p.post(ctx, "/v1/prepare/debit", req, nil)
}

// PrepareCredit asks the bank to place a credit hold.
func (p *HTTPParticipant) PrepareCredit(ctx context.Context, req wire.PrepareRequest) error {
	return p.post(ctx, "/v1/prepare/credit", req, nil)
}

// CommitDebit applies a prepared debit hold.
func (p *HTTPParticipant) CommitDebit(ctx context.Context, id txid.TxID) error {
	return p.post(ctx, "/v1/commit/debit", wire.FinishRequest{TxID: id}, nil)
}

// CommitCredit applies a prepared credit hold.
func (p *HTTPParticipant) CommitCredit(ctx context.Context, id txid.TxID) error {
	return p.post(ctx, "/v1/commit/credit", wire.FinishRequest{TxID: id}, nil)
}

// AbortDebit releases a debit hold, if any.
func (p *HTTPParticipant) AbortDebit(ctx context.Context, id txid.TxID) error {
	return p.post(ctx, "/v1/abort/debit", wire.FinishRequest{TxID: id}, nil)
}

// AbortCredit releases a credit hold, if any.
func (p *HTTPParticipant) AbortCredit(ctx context.Context, id txid.TxID) error {
	return p.post(ctx, "/v1/abort/credit", wire.FinishRequest{TxID: id}, nil)
}

// Balance reads the available balance of a user at the bank.
func (p *HTTPParticipant) Balance(ctx context.Context, username string) (int64, error) {
	var result wire.BalanceResponse
	path := "/v1/balance?user=" + url.QueryEscape(username)
	if err := p.get(ctx, path, &result); err != nil {
		return 0, err
	}
	return result.Balance, nil
}

// History reads the committed transfer history of a user at the bank.
func (p *HTTPParticipant) History(ctx context.Context, username string) ([]wire.HistoryRecord, error) {
	var result wire.HistoryResponse
	path := "/v1/history?user=" + url.QueryEscape(username)
	if err := p.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Records, nil
}

func (p *HTTPParticipant) post(ctx context.Context, path string, payload, target interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode participant request: %w", err)
	}
	return p.do(ctx, http.MethodPost, path, bytes.NewReader(body), target)
}

func (p *HTTPParticipant) get(ctx context.Context, path string, target interface{}) error {
	return p.do(ctx, http.MethodGet, path, nil, target)
}

func (p *HTTPParticipant) do(ctx context.Context, method, path string, body io.Reader, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create participant request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.hc.Do(req)
	if err != nil {
		return transportError(p.bank, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(p.bank, err)
	}
	return wire.DecodeResponse(data, target)
}

// transportError classifies a failed round trip: a blown deadline is a
// timeout vote, everything else means the bank is unreachable.
func transportError(bank string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &wire.Error{Code: wire.CodeTimeout, Message: bank + ": " + err.Error()}
	}
	return &wire.Error{Code: wire.CodeUnavailable, Message: bank + ": " + err.Error()}
}
