package event

import "fmt"

// Side represents a resolved position direction
type Side int32

const (
	SideUnknown Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "unknown"
	}
}

// SideFromString parses the wire form of a direction.
func SideFromString(s string) (Side, error) {
	switch s {
	case "long":
		return SideLong, nil
	case "short":
		return SideShort, nil
	default:
		return SideUnknown, fmt.Errorf("unknown direction %q", s)
	}
}

// Sign returns +1 for long, -1 for short, 0 otherwise.
func (s Side) Sign() int64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	default:
		return 0
	}
}

// CipherPayload carries an encrypted field exactly as submitted: the
// ciphertext, a SHA3-256 commitment over plaintext||nonce, and an ed25519
// proof binding the ciphertext to the submitter and its usage context.
// The ledger never decrypts; plaintext only appears via commit-reveal.
type CipherPayload struct {
	Ciphertext []byte `json:"ciphertext"`
	Commitment []byte `json:"commitment"` // 32 bytes, SHA3-256(plaintext || nonce)
	Proof      []byte `json:"proof"`      // 64 bytes, ed25519 over ciphertext||commitment||context
}
