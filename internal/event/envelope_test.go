package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDecodePayloadRoundTrip(t *testing.T) {
	in := &ClosePosition{
		RequestID:   uuid.New(),
		PositionID:  uuid.New(),
		Caller:      uuid.New(),
		Direction:   SideShort,
		CmdSequence: 42,
		Timestamp:   time.UnixMicro(1_700_000_000_000_000),
	}

	payload, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := DecodePayload(in.EventType().String(), payload)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}

	got, ok := out.(*ClosePosition)
	if !ok {
		t.Fatalf("decoded %T, want *ClosePosition", out)
	}
	if got.PositionID != in.PositionID || got.Direction != SideShort || got.CmdSequence != 42 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.IdempotencyKey() != in.IdempotencyKey() {
		t.Errorf("idempotency key changed: %s vs %s", got.IdempotencyKey(), in.IdempotencyKey())
	}
}

func TestDecodePayloadUnknownType(t *testing.T) {
	if _, err := DecodePayload("FundingSettled", []byte(`{}`)); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestSideFromString(t *testing.T) {
	if s, err := SideFromString("long"); err != nil || s != SideLong {
		t.Errorf("long: got %v, %v", s, err)
	}
	if s, err := SideFromString("short"); err != nil || s != SideShort {
		t.Errorf("short: got %v, %v", s, err)
	}
	if _, err := SideFromString(""); err == nil {
		t.Error("empty direction parsed without error")
	}
}
