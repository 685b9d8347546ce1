package bankhttp

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mnohosten/bridgepay/pkg/bank"
	"github.com/mnohosten/bridgepay/pkg/txid"
	"github.com/mnohosten/bridgepay/pkg/wire"
)

func newTestServer(t *testing.T) (*httptest.Server, *bank.Ledger) {
	t.Helper()
	ledger := bank.NewLedger(10*time.Second, nil)
	if err := ledger.CreateAccount("alice", "pw", 100); err != nil {
		t.Fatalf("create account: %v", err)
	}
	srv := httptest.NewServer(NewHandlers(ledger, nil).Router())
	t.Cleanup(srv.Close)
	return srv, ledger
}

func post(t *testing.T, url string, body interface{}, target interface{}) error {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return wire.DecodeResponse(raw, target)
}

func get(t *testing.T, url string, target interface{}) error {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return wire.DecodeResponse(raw, target)
}

func TestAuthenticateEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	if err := post(t, srv.URL+"/v1/authenticate", wire.AuthRequest{Username: "alice", Password: "pw"}, nil); err != nil {
		t.Errorf("valid auth failed: %v", err)
	}

	err := post(t, srv.URL+"/v1/authenticate", wire.AuthRequest{Username: "alice", Password: "bad"}, nil)
	if wire.CodeOf(err) != wire.CodeAuthFailed {
		t.Errorf("expected auth_failed, got %v", err)
	}

	err = post(t, srv.URL+"/v1/authenticate", wire.AuthRequest{Username: "ghost", Password: "pw"}, nil)
	if wire.CodeOf(err) != wire.CodeUnknownUser {
		t.Errorf("expected unknown_user, got %v", err)
	}
}

func TestPrepareCommitOverHTTP(t *testing.T) {
	srv, ledger := newTestServer(t)
	id := txid.New()

	prep := wire.PrepareRequest{TxID: id, Username: "alice", Amount: 40, CounterpartyBank: "bankb", CounterpartyUser: "bob"}
	var prepared map[string]bool
	if err := post(t, srv.URL+"/v1/prepare/debit", prep, &prepared); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if !prepared["prepared"] {
		t.Error("prepare response missing prepared flag")
	}

	if err := post(t, srv.URL+"/v1/commit/debit", wire.FinishRequest{TxID: id}, nil); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if bal, _ := ledger.Balance("alice"); bal != 60 {
		t.Errorf("balance = %d, want 60", bal)
	}
}

func TestPrepareErrorsOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	err := post(t, srv.URL+"/v1/prepare/debit",
		wire.PrepareRequest{TxID: txid.New(), Username: "alice", Amount: 500}, nil)
	if wire.CodeOf(err) != wire.CodeInsufficientFunds {
		t.Errorf("expected insufficient_funds, got %v", err)
	}

	err = post(t, srv.URL+"/v1/prepare/debit",
		wire.PrepareRequest{TxID: txid.New(), Username: "ghost", Amount: 5}, nil)
	if wire.CodeOf(err) != wire.CodeUnknownUser {
		t.Errorf("expected unknown_user, got %v", err)
	}

	// Conflicting hold.
	first := wire.PrepareRequest{TxID: txid.New(), Username: "alice", Amount: 10}
	if err := post(t, srv.URL+"/v1/prepare/debit", first, nil); err != nil {
		t.Fatalf("first prepare failed: %v", err)
	}
	err = post(t, srv.URL+"/v1/prepare/debit",
		wire.PrepareRequest{TxID: txid.New(), Username: "alice", Amount: 10}, nil)
	if wire.CodeOf(err) != wire.CodeConflictingHold {
		t.Errorf("expected conflicting_hold, got %v", err)
	}
}

func TestAbortAlwaysOK(t *testing.T) {
	srv, ledger := newTestServer(t)
	id := txid.New()

	if err := post(t, srv.URL+"/v1/prepare/debit",
		wire.PrepareRequest{TxID: id, Username: "alice", Amount: 10}, nil); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	if err := post(t, srv.URL+"/v1/abort/debit", wire.FinishRequest{TxID: id}, nil); err != nil {
		t.Errorf("abort failed: %v", err)
	}
	// Aborting an unknown txid over HTTP is still ok.
	if err := post(t, srv.URL+"/v1/abort/debit", wire.FinishRequest{TxID: txid.New()}, nil); err != nil {
		t.Errorf("abort of unknown txid failed: %v", err)
	}
	if ledger.LiveHolds() != 0 {
		t.Errorf("live holds = %d, want 0", ledger.LiveHolds())
	}
}

func TestCommitUnknownOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	err := post(t, srv.URL+"/v1/commit/debit", wire.FinishRequest{TxID: txid.New()}, nil)
	if wire.CodeOf(err) != wire.CodeUnknownTxn {
		t.Errorf("expected unknown_txid, got %v", err)
	}
}

func TestBalanceAndHistoryEndpoints(t *testing.T) {
	srv, ledger := newTestServer(t)
	id := txid.New()
	_ = ledger.PrepareCredit(wire.PrepareRequest{TxID: id, Username: "alice", Amount: 7, CounterpartyBank: "bankb", CounterpartyUser: "bob"})
	_ = ledger.CommitCredit(id)

	var bal wire.BalanceResponse
	if err := get(t, srv.URL+"/v1/balance?user=alice", &bal); err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if bal.Balance != 107 {
		t.Errorf("balance = %d, want 107", bal.Balance)
	}

	var hist wire.HistoryResponse
	if err := get(t, srv.URL+"/v1/history?user=alice", &hist); err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(hist.Records) != 1 || hist.Records[0].TxID != id {
		t.Errorf("unexpected history: %+v", hist.Records)
	}

	if err := get(t, srv.URL+"/v1/balance?user=ghost", nil); wire.CodeOf(err) != wire.CodeUnknownUser {
		t.Errorf("expected unknown_user, got %v", err)
	}
}
