package relay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// DedupSet tracks envelope ids already accepted by the relay, rejecting
// replays (invariant I4). Persisted as a flat JSON array per spec.md §6.
type DedupSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDedupSet returns an empty set.
func NewDedupSet() *DedupSet {
	return &DedupSet{seen: make(map[string]struct{})}
}

// CheckAndAdd returns true and records id if id was not already present;
// returns false (a replay) if it was.
func (d *DedupSet) CheckAndAdd(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = struct{}{}
	return true
}

// SaveToFile persists the dedup set as a JSON array of ids, guarded by an
// exclusive gofrs/flock.
func (d *DedupSet) SaveToFile(path string) error {
	d.mu.Lock()
	ids := make([]string, 0, len(d.seen))
	for id := range d.seen {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking dedup file: %w", err)
	}
	defer lock.Unlock()

	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshaling dedup set: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing dedup set: %w", err)
	}
	return nil
}

// LoadFromFile restores a previously persisted dedup set. A missing file
// is not an error — there is simply nothing to restore yet.
func (d *DedupSet) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading dedup set: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("parsing dedup set: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.seen[id] = struct{}{}
	}
	return nil
}
