package relay

import "encoding/json"

// canonicalEnvelope is the exact field order/shape signed and verified.
// encoding/json sorts map keys when marshaling, so Payload serializes
// deterministically without a bespoke canonicalizer.
type canonicalEnvelope struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Sender    string         `json:"sender"`
	Timestamp int64          `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
	InReplyTo string         `json:"inReplyTo"`
}

func canonicalEnvelopeBytes(id, typ, sender string, ts int64, payload map[string]any, inReplyTo string) []byte {
	// Marshal cannot fail for this shape (no channels/funcs/cycles), so the
	// error is deliberately discarded.
	b, _ := json.Marshal(canonicalEnvelope{
		ID:        id,
		Type:      typ,
		Sender:    sender,
		Timestamp: ts,
		Payload:   payload,
		InReplyTo: inReplyTo,
	})
	return b
}
