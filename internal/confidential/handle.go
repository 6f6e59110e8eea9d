package confidential

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrUnknownHandle      = errors.New("unknown handle")
	ErrInvalidProof       = errors.New("invalid ownership proof")
	ErrUnauthorized       = errors.New("holder not authorized")
	ErrUnresolved         = errors.New("handle not resolved")
	ErrAlreadyPublished   = errors.New("handle already published")
	ErrNotPublishable     = errors.New("handle kind not publishable")
	ErrCommitmentMismatch = errors.New("commitment mismatch")
	ErrRevealConflict     = errors.New("conflicting reveal for resolved handle")
	ErrInvalidPlaintext   = errors.New("invalid plaintext encoding")
)

// Kind discriminates what an encrypted handle protects.
type Kind int32

const (
	KindDirection Kind = iota + 1
	KindStopLoss
)

func (k Kind) String() string {
	switch k {
	case KindDirection:
		return "direction"
	case KindStopLoss:
		return "stop_loss"
	default:
		return "unknown"
	}
}

// Handle is one encrypted field under ledger custody. The ledger stores the
// ciphertext and commitment but can never decrypt; plaintext only appears
// through commit-reveal resolution, and is then visible exactly to the
// holders on the access list.
type Handle struct {
	ID         uuid.UUID
	Kind       Kind
	Ciphertext []byte
	Commitment [32]byte
	Submitter  uuid.UUID
	Context    string // Usage binding, e.g. "position:<id>:direction"

	LedgerAccess bool
	Public       bool
	Published    bool

	Resolved  bool
	Plaintext []byte

	Version int64
}

// CanResolve reports whether the given holder may read the plaintext once
// resolved. The submitter always can; the ledger and the public only if
// granted.
func (h *Handle) CanResolve(trader uuid.UUID, asLedger bool) bool {
	if h.Public {
		return true
	}
	if asLedger {
		return h.LedgerAccess
	}
	return trader == h.Submitter
}

// CanonicalBytes returns a deterministic encoding for state hashing.
// Plaintext is never part of the digest; resolution state is.
func (h *Handle) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, h.ID[:]...)
	buf = appendInt64LE(buf, int64(h.Kind))
	buf = append(buf, h.Commitment[:]...)
	buf = append(buf, h.Submitter[:]...)
	buf = append(buf, h.Context...)
	buf = append(buf, 0)
	buf = append(buf, boolByte(h.LedgerAccess), boolByte(h.Public), boolByte(h.Published), boolByte(h.Resolved))
	buf = appendInt64LE(buf, h.Version)
	return buf
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func appendInt64LE(buf []byte, v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}
