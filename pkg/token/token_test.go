package token

import (
	"errors"
	"testing"
	"time"
)

func TestMintVerify(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)

	tok, err := issuer.Mint(Subject{Bank: "banka", Username: "alice"})
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	sub, err := issuer.Verify(tok)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if sub.Bank != "banka" || sub.Username != "alice" {
		t.Errorf("subject = %v, want banka/alice", sub)
	}
}

func TestVerifyExpired(t *testing.T) {
	issuer := NewIssuer("secret", -time.Minute)

	tok, err := issuer.Mint(Subject{Bank: "banka", Username: "alice"})
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	if _, err := issuer.Verify(tok); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	minter := NewIssuer("secret-a", time.Hour)
	verifier := NewIssuer("secret-b", time.Hour)

	tok, err := minter.Mint(Subject{Bank: "banka", Username: "alice"})
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	if _, err := verifier.Verify(tok); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)

	for _, tok := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := issuer.Verify(tok); !errors.Is(err, ErrTokenInvalid) {
			t.Errorf("Verify(%q): expected ErrTokenInvalid, got %v", tok, err)
		}
	}
}

func TestSubjectsAreDistinct(t *testing.T) {
	issuer := NewIssuer("secret", time.Hour)

	tokA, _ := issuer.Mint(Subject{Bank: "banka", Username: "alice"})
	tokB, _ := issuer.Mint(Subject{Bank: "bankb", Username: "alice"})

	subA, err := issuer.Verify(tokA)
	if err != nil {
		t.Fatalf("Verify A failed: %v", err)
	}
	subB, err := issuer.Verify(tokB)
	if err != nil {
		t.Fatalf("Verify B failed: %v", err)
	}
	if subA == subB {
		t.Error("tokens for different banks verified to the same subject")
	}
}
