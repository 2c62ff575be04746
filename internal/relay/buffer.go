package relay

import "sync"

// Buffers holds one bounded FIFO per recipient public key, spec.md §3/§4.8's
// "per-agent buffer: map publicKey -> bounded FIFO of BufferedMessage"
// (default capacity 100; oldest discarded on overflow — invariant I5).
type Buffers struct {
	mu       sync.Mutex
	capacity int
	byKey    map[string][]BufferedMessage
}

// NewBuffers returns an empty buffer set with the given per-recipient
// capacity.
func NewBuffers(capacity int) *Buffers {
	if capacity <= 0 {
		capacity = 100
	}
	return &Buffers{capacity: capacity, byKey: make(map[string][]BufferedMessage)}
}

// Push appends msg to recipient's buffer, evicting the oldest entry first
// if the buffer is already at capacity.
func (b *Buffers) Push(recipient string, msg BufferedMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.byKey[recipient]
	if len(q) >= b.capacity {
		q = q[1:]
	}
	q = append(q, msg)
	b.byKey[recipient] = q
}

// Poll returns the messages for recipient with Timestamp strictly greater
// than sinceMillis (0 means "from the beginning"), capped at limit, plus
// whether more matching messages existed than were returned. When
// sinceMillis is 0 (a full poll), the recipient's buffer is cleared after
// the response is built, per spec.md §4.8's Poll contract.
func (b *Buffers) Poll(recipient string, sinceMillis int64, limit int) (messages []BufferedMessage, hasMore bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.byKey[recipient]
	matching := make([]BufferedMessage, 0, len(q))
	for _, m := range q {
		if m.Timestamp > sinceMillis {
			matching = append(matching, m)
		}
	}

	hasMore = len(matching) > limit
	if len(matching) > limit {
		matching = matching[:limit]
	}

	if sinceMillis == 0 {
		delete(b.byKey, recipient)
	}

	return matching, hasMore
}

// Len returns the current size of recipient's buffer (test/observability
// helper backing the |B| <= capacity property).
func (b *Buffers) Len(recipient string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byKey[recipient])
}

// Drop removes recipient's buffer entirely, e.g. on disconnect.
func (b *Buffers) Drop(recipient string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.byKey, recipient)
}
