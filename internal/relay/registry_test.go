package relay

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	s := &Session{PublicKey: "pk1", Name: "alice", ExpiresAt: time.Now().Add(time.Hour)}
	if err := r.Register(s); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, ok := r.Lookup("pk1")
	if !ok {
		t.Fatalf("expected session to be found")
	}
	if got.Name != "alice" {
		t.Fatalf("expected name alice, got %s", got.Name)
	}
}

func TestRegistryRegisterRejectsEmptyKey(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Session{}); err == nil {
		t.Fatalf("expected error for empty public key")
	}
}

func TestRegistryPruneExpired(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&Session{PublicKey: "stale", ExpiresAt: time.Now().Add(-time.Minute)})
	_ = r.Register(&Session{PublicKey: "fresh", ExpiresAt: time.Now().Add(time.Hour)})

	r.PruneExpired(time.Now())

	if _, ok := r.Lookup("stale"); ok {
		t.Fatalf("expected expired session to be pruned")
	}
	if _, ok := r.Lookup("fresh"); !ok {
		t.Fatalf("expected unexpired session to remain")
	}
}

func TestRegistrySaveToFileExcludesPrivateKey(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&Session{PublicKey: "pk1", PrivateKey: "super-secret", ExpiresAt: time.Now().Add(time.Hour)})

	path := filepath.Join(t.TempDir(), "registry.json")
	if err := r.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading saved registry: %v", err)
	}
	data := string(raw)
	if strings.Contains(data, "super-secret") {
		t.Fatalf("persisted registry must never contain the private key")
	}
	if !strings.Contains(data, "pk1") {
		t.Fatalf("expected persisted registry to contain the public key")
	}
}
