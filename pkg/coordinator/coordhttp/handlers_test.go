package coordhttp

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/mnohosten/bridgepay/pkg/bank"
	"github.com/mnohosten/bridgepay/pkg/bank/bankhttp"
	"github.com/mnohosten/bridgepay/pkg/coordinator"
	"github.com/mnohosten/bridgepay/pkg/participant"
	"github.com/mnohosten/bridgepay/pkg/registry"
	"github.com/mnohosten/bridgepay/pkg/token"
	"github.com/mnohosten/bridgepay/pkg/txid"
	"github.com/mnohosten/bridgepay/pkg/wire"
)

type gateway struct {
	srv    *httptest.Server
	issuer *token.Issuer
	banka  *bank.Ledger
	bankb  *bank.Ledger
}

// newGateway wires a full coordinator over two real banks and a real
// registry, all on httptest servers.
func newGateway(t *testing.T) *gateway {
	t.Helper()

	banka := bank.NewLedger(10*time.Second, nil)
	if err := banka.CreateAccount("alice", "alicepw", 100); err != nil {
		t.Fatalf("create alice: %v", err)
	}
	bankb := bank.NewLedger(10*time.Second, nil)
	if err := bankb.CreateAccount("bob", "bobpw", 0); err != nil {
		t.Fatalf("create bob: %v", err)
	}

	bankaSrv := httptest.NewServer(bankhttp.NewHandlers(banka, nil).Router())
	t.Cleanup(bankaSrv.Close)
	bankbSrv := httptest.NewServer(bankhttp.NewHandlers(bankb, nil).Router())
	t.Cleanup(bankbSrv.Close)

	regSrv := httptest.NewServer(registry.NewHandler(registry.NewStore(), nil).Router())
	t.Cleanup(regSrv.Close)

	regClient := registry.NewClient(regSrv.URL)
	ctx := context.Background()
	if err := regClient.Register(ctx, registry.BankService("banka"), bankaSrv.URL); err != nil {
		t.Fatalf("register banka: %v", err)
	}
	if err := regClient.Register(ctx, registry.BankService("bankb"), bankbSrv.URL); err != nil {
		t.Fatalf("register bankb: %v", err)
	}

	resolver := participant.NewResolver(regClient, nil)
	engine, err := coordinator.NewEngine(coordinator.Config{
		Timeout2PC:       2 * time.Second,
		CommitBackoffMax: 100 * time.Millisecond,
		LogDir:           t.TempDir(),
		Resolver:         resolver,
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	issuer := token.NewIssuer("test-secret", time.Hour)
	srv := httptest.NewServer(NewHandlers(engine, issuer, resolver, nil).Router())
	t.Cleanup(srv.Close)

	return &gateway{srv: srv, issuer: issuer, banka: banka, bankb: bankb}
}

func (g *gateway) request(t *testing.T, method, path, bearer string, body, target interface{}) error {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, g.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return wire.DecodeResponse(raw, target)
}

func (g *gateway) login(t *testing.T, bankName, user, password string) string {
	t.Helper()
	var lr wire.LoginResponse
	err := g.request(t, http.MethodPost, "/v1/login", "",
		wire.LoginRequest{Bank: bankName, Username: user, Password: password}, &lr)
	if err != nil {
		t.Fatalf("login %s/%s: %v", bankName, user, err)
	}
	return lr.Token
}

func TestLoginAndTransfer(t *testing.T) {
	g := newGateway(t)
	tok := g.login(t, "banka", "alice", "alicepw")

	req := wire.TransferRequest{
		TxID: txid.New(), SrcBank: "banka", SrcUser: "alice",
		DstBank: "bankb", DstUser: "bob", Amount: 30,
	}
	var result wire.TransferResult
	if err := g.request(t, http.MethodPost, "/v1/transfer", tok, req, &result); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if !result.Committed() {
		t.Fatalf("result = %+v, want committed", result)
	}

	var balance wire.BalanceResponse
	if err := g.request(t, http.MethodGet, "/v1/balance", tok, nil, &balance); err != nil {
		t.Fatalf("balance failed: %v", err)
	}
	if balance.Balance != 70 {
		t.Errorf("alice balance = %d, want 70", balance.Balance)
	}

	var history wire.HistoryResponse
	if err := g.request(t, http.MethodGet, "/v1/history", tok, nil, &history); err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(history.Records) != 1 || history.Records[0].TxID != req.TxID {
		t.Errorf("history = %+v", history.Records)
	}
	if history.Records[0].Direction != wire.DirectionSent {
		t.Errorf("direction = %q, want sent", history.Records[0].Direction)
	}

	if bob, _ := g.bankb.Balance("bob"); bob != 30 {
		t.Errorf("bob balance = %d, want 30", bob)
	}
}

func TestLoginUnknownBank(t *testing.T) {
	g := newGateway(t)

	err := g.request(t, http.MethodPost, "/v1/login", "",
		wire.LoginRequest{Bank: "ghostbank", Username: "alice", Password: "pw"}, nil)
	if wire.CodeOf(err) != wire.CodeUnknownBank {
		t.Errorf("got %v, want unknown_bank", err)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	g := newGateway(t)

	err := g.request(t, http.MethodPost, "/v1/login", "",
		wire.LoginRequest{Bank: "banka", Username: "alice", Password: "wrong"}, nil)
	if wire.CodeOf(err) != wire.CodeAuthFailed {
		t.Errorf("wrong password: got %v, want auth_failed", err)
	}

	err = g.request(t, http.MethodPost, "/v1/login", "",
		wire.LoginRequest{Bank: "banka", Username: "ghost", Password: "pw"}, nil)
	if wire.CodeOf(err) != wire.CodeUnknownUser {
		t.Errorf("unknown user: got %v, want unknown_user", err)
	}
}

func TestTransferRequiresToken(t *testing.T) {
	g := newGateway(t)

	req := wire.TransferRequest{
		TxID: txid.New(), SrcBank: "banka", SrcUser: "alice",
		DstBank: "bankb", DstUser: "bob", Amount: 30,
	}
	err := g.request(t, http.MethodPost, "/v1/transfer", "", req, nil)
	if wire.CodeOf(err) != wire.CodeUnauthorized {
		t.Errorf("no token: got %v, want unauthorized", err)
	}

	err = g.request(t, http.MethodPost, "/v1/transfer", "not-a-token", req, nil)
	if wire.CodeOf(err) != wire.CodeUnauthorized {
		t.Errorf("garbage token: got %v, want unauthorized", err)
	}

	// A token minted with a different secret is rejected.
	forged, _ := token.NewIssuer("other-secret", time.Hour).Mint(token.Subject{Bank: "banka", Username: "alice"})
	err = g.request(t, http.MethodPost, "/v1/transfer", forged, req, nil)
	if wire.CodeOf(err) != wire.CodeUnauthorized {
		t.Errorf("forged token: got %v, want unauthorized", err)
	}

	if alice, _ := g.banka.Balance("alice"); alice != 100 {
		t.Errorf("unauthorized request moved money: %d", alice)
	}
}

func TestTransferWrongSubject(t *testing.T) {
	g := newGateway(t)
	tok := g.login(t, "bankb", "bob", "bobpw")

	// Bob's token cannot move Alice's money.
	req := wire.TransferRequest{
		TxID: txid.New(), SrcBank: "banka", SrcUser: "alice",
		DstBank: "bankb", DstUser: "bob", Amount: 30,
	}
	err := g.request(t, http.MethodPost, "/v1/transfer", tok, req, nil)
	if wire.CodeOf(err) != wire.CodeUnauthorized {
		t.Errorf("got %v, want unauthorized", err)
	}
	if alice, _ := g.banka.Balance("alice"); alice != 100 {
		t.Errorf("cross-subject request moved money: %d", alice)
	}
}

func TestTransferAbortReported(t *testing.T) {
	g := newGateway(t)
	tok := g.login(t, "banka", "alice", "alicepw")

	req := wire.TransferRequest{
		TxID: txid.New(), SrcBank: "banka", SrcUser: "alice",
		DstBank: "bankb", DstUser: "bob", Amount: 5000,
	}
	var result wire.TransferResult
	if err := g.request(t, http.MethodPost, "/v1/transfer", tok, req, &result); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if result.Status != wire.StatusAborted {
		t.Fatalf("result = %+v, want aborted", result)
	}
	if result.Reason != "prepare_failed: insufficient_funds" {
		t.Errorf("reason = %q", result.Reason)
	}
}

func TestTransferDuplicateReplaysResult(t *testing.T) {
	g := newGateway(t)
	tok := g.login(t, "banka", "alice", "alicepw")

	req := wire.TransferRequest{
		TxID: txid.New(), SrcBank: "banka", SrcUser: "alice",
		DstBank: "bankb", DstUser: "bob", Amount: 30,
	}
	var first, second wire.TransferResult
	if err := g.request(t, http.MethodPost, "/v1/transfer", tok, req, &first); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if err := g.request(t, http.MethodPost, "/v1/transfer", tok, req, &second); err != nil {
		t.Fatalf("resubmission failed: %v", err)
	}
	if first != second {
		t.Errorf("resubmission = %+v, want %+v", second, first)
	}
	if alice, _ := g.banka.Balance("alice"); alice != 70 {
		t.Errorf("alice balance = %d after resubmission, want 70", alice)
	}
}

func TestPingAndHealth(t *testing.T) {
	g := newGateway(t)

	var status map[string]string
	if err := g.request(t, http.MethodGet, "/v1/ping", "", nil, &status); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if status["status"] != "ok" {
		t.Errorf("ping status = %q", status["status"])
	}
	if err := g.request(t, http.MethodGet, "/healthz", "", nil, nil); err != nil {
		t.Errorf("healthz failed: %v", err)
	}
}

func TestEventsWebsocket(t *testing.T) {
	g := newGateway(t)
	tok := g.login(t, "banka", "alice", "alicepw")

	wsURL := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/v1/events"
	header := http.Header{"Authorization": {"Bearer " + tok}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	// Give the handler a moment to attach its hub subscription.
	time.Sleep(50 * time.Millisecond)

	req := wire.TransferRequest{
		TxID: txid.New(), SrcBank: "banka", SrcUser: "alice",
		DstBank: "bankb", DstUser: "bob", Amount: 30,
	}
	var result wire.TransferResult
	if err := g.request(t, http.MethodPost, "/v1/transfer", tok, req, &result); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev wire.TransferEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.TxID != req.TxID || ev.Status != wire.StatusCommitted {
		t.Errorf("event = %+v", ev)
	}
}

func TestEventsRequiresToken(t *testing.T) {
	g := newGateway(t)

	wsURL := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/v1/events"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("unauthenticated websocket dial succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %v, want 401", resp)
	}
}
