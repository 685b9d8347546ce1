package registry

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/mnohosten/bridgepay/pkg/wire"
)

func newTestRegistry(t *testing.T) *Client {
	t.Helper()
	srv := httptest.NewServer(NewHandler(NewStore(), zap.NewNop()).Router())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func TestRegisterLookup(t *testing.T) {
	client := newTestRegistry(t)
	ctx := context.Background()

	if err := client.Register(ctx, ServiceCoordinator, "localhost:9100"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	addr, err := client.Lookup(ctx, ServiceCoordinator)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if addr != "localhost:9100" {
		t.Errorf("addr = %q, want localhost:9100", addr)
	}
}

func TestBankServiceNames(t *testing.T) {
	client := newTestRegistry(t)
	ctx := context.Background()

	// Bank names contain a slash in the registry namespace.
	if err := client.Register(ctx, BankService("banka"), "localhost:9201"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := client.Register(ctx, BankService("bankb"), "localhost:9202"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	addr, err := client.Lookup(ctx, BankService("bankb"))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if addr != "localhost:9202" {
		t.Errorf("addr = %q, want localhost:9202", addr)
	}
}

func TestLookupUnknown(t *testing.T) {
	client := newTestRegistry(t)

	_, err := client.Lookup(context.Background(), BankService("ghost"))
	if err == nil {
		t.Fatal("expected error for unknown service")
	}
	var we *wire.Error
	if !errors.As(err, &we) || we.Code != wire.CodeUnknownService {
		t.Errorf("expected unknown_service, got %v", err)
	}
}

func TestDeregister(t *testing.T) {
	client := newTestRegistry(t)
	ctx := context.Background()

	if err := client.Register(ctx, ServiceCoordinator, "localhost:9100"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := client.Deregister(ctx, ServiceCoordinator); err != nil {
		t.Fatalf("Deregister failed: %v", err)
	}
	if _, err := client.Lookup(ctx, ServiceCoordinator); err == nil {
		t.Error("Lookup succeeded after deregister")
	}

	// Deregistering again is a no-op.
	if err := client.Deregister(ctx, ServiceCoordinator); err != nil {
		t.Errorf("second Deregister failed: %v", err)
	}
}

func TestReRegisterOverwrites(t *testing.T) {
	client := newTestRegistry(t)
	ctx := context.Background()

	_ = client.Register(ctx, ServiceCoordinator, "localhost:9100")
	_ = client.Register(ctx, ServiceCoordinator, "localhost:9101")

	addr, err := client.Lookup(ctx, ServiceCoordinator)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if addr != "localhost:9101" {
		t.Errorf("addr = %q, want the refreshed address", addr)
	}
}

func TestPingUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")

	err := client.Ping(context.Background())
	var we *wire.Error
	if !errors.As(err, &we) || we.Code != wire.CodeUnavailable {
		t.Errorf("expected unavailable, got %v", err)
	}
}
