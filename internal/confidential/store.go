package confidential

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"veilperp/internal/event"
)

// Store holds every encrypted handle the ledger has custody of.
// All mutation happens on the engine goroutine; no locking here.
type Store struct {
	handles map[uuid.UUID]*Handle
	order   []uuid.UUID
}

func NewStore() *Store {
	return &Store{
		handles: make(map[uuid.UUID]*Handle),
	}
}

// ProofMessage is the canonical byte string a submitter signs to bind a
// ciphertext and commitment to a usage context.
func ProofMessage(ciphertext, commitment []byte, submitter uuid.UUID, context string) []byte {
	buf := make([]byte, 0, len(ciphertext)+len(commitment)+len(context)+32)
	buf = append(buf, "veil:proof:v1|"...)
	buf = append(buf, submitter[:]...)
	buf = append(buf, '|')
	buf = append(buf, context...)
	buf = append(buf, '|')
	buf = append(buf, commitment...)
	buf = append(buf, '|')
	buf = append(buf, ciphertext...)
	return buf
}

// VerifyPayload checks an encrypted payload's shape and submitter proof
// without touching the store. Callers that must validate several payloads
// before mutating anything use this first; Ingest repeats the check.
func VerifyPayload(payload event.CipherPayload, submitter uuid.UUID, submitterKey ed25519.PublicKey, context string) error {
	if len(payload.Commitment) != 32 {
		return fmt.Errorf("%w: commitment must be 32 bytes, got %d", ErrInvalidProof, len(payload.Commitment))
	}
	if len(payload.Ciphertext) == 0 {
		return fmt.Errorf("%w: empty ciphertext", ErrInvalidProof)
	}
	if len(submitterKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad submitter key length %d", ErrInvalidProof, len(submitterKey))
	}

	msg := ProofMessage(payload.Ciphertext, payload.Commitment, submitter, context)
	if !ed25519.Verify(submitterKey, msg, payload.Proof) {
		return fmt.Errorf("%w: context %q", ErrInvalidProof, context)
	}
	return nil
}

// Ingest verifies the submitter's proof and stores the handle. No plaintext
// is computed or implied; a handle starts with submitter-only access.
func (s *Store) Ingest(id uuid.UUID, kind Kind, payload event.CipherPayload, submitter uuid.UUID, submitterKey ed25519.PublicKey, context string) (*Handle, error) {
	if _, exists := s.handles[id]; exists {
		return nil, fmt.Errorf("handle %s already ingested", id)
	}
	if err := VerifyPayload(payload, submitter, submitterKey, context); err != nil {
		return nil, err
	}

	h := &Handle{
		ID:         id,
		Kind:       kind,
		Ciphertext: payload.Ciphertext,
		Submitter:  submitter,
		Context:    context,
		Version:    1,
	}
	copy(h.Commitment[:], payload.Commitment)

	s.handles[id] = h
	s.order = append(s.order, id)
	return h, nil
}

// Has reports whether a handle id is already taken.
func (s *Store) Has(id uuid.UUID) bool {
	_, ok := s.handles[id]
	return ok
}

// Restore repopulates the store from a snapshot, in ingest order.
func (s *Store) Restore(handles []*Handle) {
	s.handles = make(map[uuid.UUID]*Handle, len(handles))
	s.order = make([]uuid.UUID, 0, len(handles))
	for _, h := range handles {
		s.handles[h.ID] = h
		s.order = append(s.order, h.ID)
	}
}

// Get returns the handle or ErrUnknownHandle.
func (s *Store) Get(id uuid.UUID) (*Handle, error) {
	h, ok := s.handles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, id)
	}
	return h, nil
}

// GrantLedger adds the ledger to the handle's access list. Disclosure-free:
// nothing is revealed until resolution.
func (s *Store) GrantLedger(id uuid.UUID) (*Handle, error) {
	h, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !h.LedgerAccess {
		h.LedgerAccess = true
		h.Version++
	}
	return h, nil
}

// Publish makes a direction handle permanently public. One-time: a second
// publish fails. Stop-loss handles are never publishable.
func (s *Store) Publish(id uuid.UUID) (*Handle, error) {
	h, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if h.Kind != KindDirection {
		return nil, fmt.Errorf("%w: %s", ErrNotPublishable, h.Kind)
	}
	if h.Published {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyPublished, id)
	}
	h.Published = true
	h.Public = true
	h.Version++
	return h, nil
}

// ApplyResolution verifies a commit-reveal answer and marks the handle
// resolved. Idempotent for a matching plaintext; a conflicting plaintext on
// an already-resolved handle is an error.
func (s *Store) ApplyResolution(id uuid.UUID, plaintext, nonce []byte) (*Handle, error) {
	h, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	digest := Commit(plaintext, nonce)
	if digest != h.Commitment {
		return nil, fmt.Errorf("%w: handle %s", ErrCommitmentMismatch, id)
	}

	if h.Resolved {
		if !bytes.Equal(h.Plaintext, plaintext) {
			return nil, fmt.Errorf("%w: handle %s", ErrRevealConflict, id)
		}
		return h, nil
	}

	h.Resolved = true
	h.Plaintext = append([]byte(nil), plaintext...)
	h.Version++
	return h, nil
}

// Resolve returns the plaintext for an authorized holder of a resolved
// handle.
func (s *Store) Resolve(id uuid.UUID, trader uuid.UUID, asLedger bool) ([]byte, error) {
	h, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !h.CanResolve(trader, asLedger) {
		return nil, fmt.Errorf("%w: handle %s", ErrUnauthorized, id)
	}
	if !h.Resolved {
		return nil, fmt.Errorf("%w: %s", ErrUnresolved, id)
	}
	return h.Plaintext, nil
}

// LedgerDirection is the engine's gate: the direction side if the handle is
// resolved and ledger-readable.
func (s *Store) LedgerDirection(id uuid.UUID) (event.Side, error) {
	plaintext, err := s.Resolve(id, uuid.Nil, true)
	if err != nil {
		return event.SideUnknown, err
	}
	return ParseDirection(plaintext)
}

// List returns all handles in ingest order.
func (s *Store) List() []*Handle {
	out := make([]*Handle, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.handles[id])
	}
	return out
}

// Commit computes the SHA3-256 commitment over plaintext || nonce.
func Commit(plaintext, nonce []byte) [32]byte {
	buf := make([]byte, 0, len(plaintext)+len(nonce))
	buf = append(buf, plaintext...)
	buf = append(buf, nonce...)
	return sha3.Sum256(buf)
}

// ParseDirection decodes a direction plaintext: a single byte holding the
// side value.
func ParseDirection(plaintext []byte) (event.Side, error) {
	if len(plaintext) != 1 {
		return event.SideUnknown, fmt.Errorf("%w: direction must be 1 byte, got %d", ErrInvalidPlaintext, len(plaintext))
	}
	side := event.Side(plaintext[0])
	if side != event.SideLong && side != event.SideShort {
		return event.SideUnknown, fmt.Errorf("%w: direction byte %d", ErrInvalidPlaintext, plaintext[0])
	}
	return side, nil
}

// EncodeDirection is the inverse of ParseDirection, used by clients and tests.
func EncodeDirection(side event.Side) []byte {
	return []byte{byte(side)}
}

// ParseStopLoss decodes a stop-loss plaintext: a big-endian price in price
// scale.
func ParseStopLoss(plaintext []byte) (int64, error) {
	if len(plaintext) != 8 {
		return 0, fmt.Errorf("%w: stop-loss must be 8 bytes, got %d", ErrInvalidPlaintext, len(plaintext))
	}
	price := int64(binary.BigEndian.Uint64(plaintext))
	if price <= 0 {
		return 0, fmt.Errorf("%w: stop-loss price %d", ErrInvalidPlaintext, price)
	}
	return price, nil
}

// EncodeStopLoss is the inverse of ParseStopLoss.
func EncodeStopLoss(price int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(price))
	return buf
}
