package relay

import (
	"testing"
	"time"
)

func TestMintThenVerifyRoundTrips(t *testing.T) {
	a, err := NewAuthenticator("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	token, _, err := a.Mint("pk1", "alice", "jti-1")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	claims, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.PublicKey != "pk1" || claims.ID != "jti-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	a, _ := NewAuthenticator("secret", -time.Second) // already expired
	token, _, err := a.Mint("pk1", "", "jti-2")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	if _, err := a.Verify(token); err != ErrInvalidAuth {
		t.Fatalf("expected ErrInvalidAuth for expired token, got %v", err)
	}
}

func TestVerifyRejectsRevokedTokenEvenWithValidSignature(t *testing.T) {
	a, _ := NewAuthenticator("secret", time.Hour)
	token, expiresAt, err := a.Mint("pk1", "", "jti-3")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	a.Revoke("jti-3", expiresAt)

	if _, err := a.Verify(token); err != ErrRevoked {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestRevokePrunesAlreadyExpiredEntries(t *testing.T) {
	a, _ := NewAuthenticator("secret", time.Hour)
	a.Revoke("old", time.Now().Add(-time.Hour))
	a.Revoke("new", time.Now().Add(time.Hour))

	if a.IsRevoked("old") {
		t.Fatalf("expected stale revocation entry to be pruned")
	}
	if !a.IsRevoked("new") {
		t.Fatalf("expected fresh revocation entry to remain")
	}
}

func TestNewAuthenticatorRejectsEmptySecret(t *testing.T) {
	if _, err := NewAuthenticator("", time.Hour); err == nil {
		t.Fatalf("expected error for empty JWT secret")
	}
}
