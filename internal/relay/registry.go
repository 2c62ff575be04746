package relay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Registry maps public keys to Sessions, generalized from the teacher's
// internal/nostr/registry.go IdentityRegistry (actor-address keyed) to
// spec.md §4.8's publicKey-keyed Session registry with TTL eviction.
//
// Lifecycle is process-wide by design per spec.md §9: init on first
// register, teardown on process exit.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds or replaces a session, keyed by public key.
func (r *Registry) Register(s *Session) error {
	if s.PublicKey == "" {
		return fmt.Errorf("relay: session public key cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.PublicKey] = s
	return nil
}

// Lookup finds a session by public key.
func (r *Registry) Lookup(publicKey string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[publicKey]
	return s, ok
}

// Remove deletes a session, e.g. on disconnect.
func (r *Registry) Remove(publicKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, publicKey)
}

// PruneExpired removes every session whose ExpiresAt has passed as of now.
// Called on every register per spec.md §4.8's register contract.
func (r *Registry) PruneExpired(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, s := range r.sessions {
		if now.After(s.ExpiresAt) {
			delete(r.sessions, k)
		}
	}
}

// All returns every currently registered session (REST agents).
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// persistedSession is Session minus PrivateKey: the registry never writes
// key material to disk, matching spec.md §3's "never persisted" rule.
type persistedSession struct {
	PublicKey    string         `json:"publicKey"`
	Name         string         `json:"name,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	RegisteredAt time.Time      `json:"registeredAt"`
	ExpiresAt    time.Time      `json:"expiresAt"`
}

// SaveToFile persists the registry to path for crash-visibility/debugging,
// excluding private keys. An exclusive gofrs/flock guards the write against
// a concurrent writer (e.g. an old process mid-shutdown during a supervised
// restart).
func (r *Registry) SaveToFile(path string) error {
	r.mu.RLock()
	out := make(map[string]persistedSession, len(r.sessions))
	for k, s := range r.sessions {
		out[k] = persistedSession{
			PublicKey:    s.PublicKey,
			Name:         s.Name,
			Metadata:     s.Metadata,
			RegisteredAt: s.RegisteredAt,
			ExpiresAt:    s.ExpiresAt,
		}
	}
	r.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking registry file: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	return nil
}
