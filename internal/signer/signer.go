// Package signer wraps fiatjaf.com/nostr's event signing primitives behind
// the narrow interface the relay needs, grounded on the teacher's
// internal/nostr/signer.go Signer/LocalSigner. Only the local-key signing
// path is ported: spec.md's register contract has the caller hand its
// private key to the relay directly, which matches LocalSigner's trust
// model, not NIP-46's remote-bunker model.
package signer

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"fiatjaf.com/nostr"
)

// Signer signs and verifies the relay's Envelope payloads. All signing in
// this module goes through this interface so the cryptographic backend can
// be swapped or faked in tests without touching the relay's routing logic.
type Signer interface {
	// Sign computes a signature over data and returns it hex-encoded.
	Sign(data []byte) (signature string, err error)
	// PublicKey returns the signer's public key as a hex string.
	PublicKey() string
}

// Verifier checks a signature produced by a Signer. Kept separate from
// Signer because the relay verifies envelopes signed by many different
// agents' keys, not just its own.
type Verifier interface {
	Verify(publicKeyHex string, data []byte, signatureHex string) (bool, error)
}

// LocalSigner signs with a private key supplied in process memory — the
// relay's register contract hands this key over explicitly at
// registration time; it is never persisted or logged (spec.md §3 Session).
type LocalSigner struct {
	secretKey nostr.SecretKey
	pubkey    string
}

// NewLocalSigner decodes a hex-encoded private key and derives its public
// key.
func NewLocalSigner(privateKeyHex string) (*LocalSigner, error) {
	var sk nostr.SecretKey
	b, err := hex.DecodeString(privateKeyHex)
	if err != nil || len(b) != len(sk) {
		return nil, fmt.Errorf("invalid private key hex")
	}
	copy(sk[:], b)

	pub, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("deriving public key: %w", err)
	}
	return &LocalSigner{secretKey: sk, pubkey: fmt.Sprintf("%x", pub)}, nil
}

// GeneratePrivateKeyHex returns a fresh hex-encoded Nostr-compatible
// private key, for tests and for the CLI's key-generation helper.
func GeneratePrivateKeyHex() (string, error) {
	var sk nostr.SecretKey
	if _, err := rand.Read(sk[:]); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return hex.EncodeToString(sk[:]), nil
}

// Sign wraps data in a minimal Nostr event (so we can reuse the library's
// schnorr signing) and returns the event's signature hex. CreatedAt is
// fixed at zero rather than the wall clock: the relay's Envelope already
// carries its own timestamp field outside the signed "data" blob, and
// DefaultVerifier must reconstruct byte-identical event fields to recompute
// the same event id, so both sides fix every field the caller doesn't
// supply through data.
func (s *LocalSigner) Sign(data []byte) (string, error) {
	ev := &nostr.Event{
		PubKey:    nostr.PubKeyFromHex(s.pubkey),
		CreatedAt: 0,
		Kind:      1,
		Content:   string(data),
	}
	if err := ev.Sign(s.secretKey); err != nil {
		return "", fmt.Errorf("signing: %w", err)
	}
	return hex.EncodeToString(ev.Sig[:]), nil
}

// PublicKey returns the hex-encoded public key.
func (s *LocalSigner) PublicKey() string { return s.pubkey }

// DefaultVerifier verifies signatures produced by LocalSigner's Sign
// convention (the same minimal event shape, re-derived from the claimed
// public key and data).
type DefaultVerifier struct{}

// Verify reconstructs the signed event from publicKeyHex and data and asks
// the Nostr library to check the signature and id/pubkey binding.
func (DefaultVerifier) Verify(publicKeyHex string, data []byte, signatureHex string) (bool, error) {
	sigBytes, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	var sig [64]byte
	if len(sigBytes) != len(sig) {
		return false, fmt.Errorf("invalid signature length")
	}
	copy(sig[:], sigBytes)

	ev := &nostr.Event{
		PubKey:  nostr.PubKeyFromHex(publicKeyHex),
		Kind:    1,
		Content: string(data),
		Sig:     sig,
	}
	// CreatedAt and ID are not transmitted separately by the relay's wire
	// envelope; Sign/CheckSignature in this codepath operate purely over
	// (pubkey, content, sig) by fixing CreatedAt to zero on both sides.
	ev.CreatedAt = 0
	ok, err := ev.CheckSignature()
	if err != nil {
		return false, fmt.Errorf("checking signature: %w", err)
	}
	return ok, nil
}
