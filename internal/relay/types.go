package relay

import "time"

// Session is spec.md §3's relay Session: one registered agent's identity
// and credentials. The private key lives here in process memory only —
// it is never logged and never persisted (enforced by Registry.SaveToFile
// deliberately omitting it).
type Session struct {
	PublicKey  string
	PrivateKey string // process-memory-only; excluded from SaveToFile
	Name       string
	Metadata   map[string]any
	RegisteredAt time.Time
	ExpiresAt    time.Time
	TokenJTI     string
}

// Peer is the public-facing projection of a Session or WebSocket agent
// returned by the register/peers endpoints — never includes PrivateKey or
// TokenJTI.
type Peer struct {
	PublicKey string `json:"publicKey"`
	Name      string `json:"name,omitempty"`
	Transport string `json:"transport"` // "ws" or "rest"
}

// Envelope is spec.md §3's relay wire envelope. Immutable once signed: the
// signature covers every other field in canonical form.
type Envelope struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Sender    string         `json:"sender"`
	Timestamp int64          `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
	Signature string         `json:"signature"`
	InReplyTo string         `json:"inReplyTo,omitempty"`
}

// CanonicalBytes returns the byte sequence the Signature is computed over:
// every field except Signature itself, in a fixed field order, so signer
// and verifier never disagree on what was signed.
func (e Envelope) CanonicalBytes() []byte {
	return canonicalEnvelopeBytes(e.ID, e.Type, e.Sender, e.Timestamp, e.Payload, e.InReplyTo)
}

// BufferedMessage is spec.md §3's per-recipient buffer entry.
type BufferedMessage struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	FromName  string         `json:"fromName,omitempty"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp int64          `json:"timestamp"`
	InReplyTo string         `json:"inReplyTo,omitempty"`
}
