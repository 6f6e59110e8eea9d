package engine

import (
	"fmt"
)

// SequenceValidator enforces per-partition source ordering.
//
// Command partitions are strict: each event must carry exactly the next
// expected source sequence. Price partitions tolerate gaps (feeds drop
// ticks) and silently ignore stale sequences so that late redeliveries
// never rewind a quote.
type SequenceValidator struct {
	expected map[string]int64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expected: make(map[string]int64),
	}
}

// ValidateCommand checks a strict partition. A sequence below the
// expected value with a matching duplicate window is reported as stale
// so the caller can skip instead of fail.
func (v *SequenceValidator) ValidateCommand(partition string, seq int64) (stale bool, err error) {
	expected := v.expected[partition]
	switch {
	case seq == expected:
		v.expected[partition] = expected + 1
		return false, nil
	case seq < expected:
		return true, nil
	default:
		return false, fmt.Errorf("partition %s: sequence gap, expected %d got %d", partition, expected, seq)
	}
}

// ValidatePrice checks a gap-tolerant partition. Returns false when the
// sequence is stale; the event should then be dropped without error.
func (v *SequenceValidator) ValidatePrice(partition string, seq int64) bool {
	expected := v.expected[partition]
	if seq < expected {
		return false
	}
	v.expected[partition] = seq + 1
	return true
}

// Expected returns the next expected sequence for a partition.
func (v *SequenceValidator) Expected(partition string) int64 {
	return v.expected[partition]
}

// SetExpected restores a partition cursor from a snapshot.
func (v *SequenceValidator) SetExpected(partition string, seq int64) {
	v.expected[partition] = seq
}

// Cursors returns a copy of all partition cursors for snapshotting.
func (v *SequenceValidator) Cursors() map[string]int64 {
	out := make(map[string]int64, len(v.expected))
	for k, s := range v.expected {
		out[k] = s
	}
	return out
}
