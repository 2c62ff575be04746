package relay

import "errors"

// Sentinel errors realizing spec.md §7's "Relay protocol error" and
// "Envelope integrity failure" kinds as typed values rather than ad hoc
// strings, so handlers can map them to the documented HTTP codes in §6
// with a single type switch.
var (
	ErrMissingField      = errors.New("relay: missing required field")
	ErrKeyPairProofFailed = errors.New("relay: key pair proof failed")
	ErrUnknownRecipient  = errors.New("relay: unknown recipient")
	ErrRecipientNotOpen  = errors.New("relay: recipient connected but not open")
	ErrDeliveryFailed    = errors.New("relay: delivery failed")
	ErrBadSignature      = errors.New("relay: invalid envelope signature")
	ErrDuplicateEnvelope = errors.New("relay: duplicate envelope id")
)
