package risk

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"veilperp/internal/event"
)

const oiCap = int64(100_000_000)

func TestReserveCountsAgainstCap(t *testing.T) {
	a := NewAggregator()

	if err := a.Reserve("BTC-PERP", uuid.New(), 60_000_000, oiCap); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	// Unattributed exposure fills the cap like any other
	if err := a.Reserve("BTC-PERP", uuid.New(), 50_000_000, oiCap); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Errorf("over-cap reserve error = %v, want ErrInsufficientLiquidity", err)
	}
	if err := a.Reserve("BTC-PERP", uuid.New(), 40_000_000, oiCap); err != nil {
		t.Errorf("exact-fit reserve: %v", err)
	}

	// Other instruments have their own bucket
	if err := a.Reserve("ETH-PERP", uuid.New(), 90_000_000, oiCap); err != nil {
		t.Errorf("other instrument reserve: %v", err)
	}
}

func TestAttributeMovesBuckets(t *testing.T) {
	a := NewAggregator()
	id := uuid.New()

	if err := a.Reserve("BTC-PERP", id, 20_000_000, oiCap); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	got := a.TotalsFor("BTC-PERP")
	if got.Unattributed != 20_000_000 || got.Long != 0 || got.Short != 0 {
		t.Fatalf("after reserve: %+v", got)
	}

	if err := a.Attribute(id, event.SideLong); err != nil {
		t.Fatalf("attribute: %v", err)
	}
	got = a.TotalsFor("BTC-PERP")
	if got.Unattributed != 0 || got.Long != 20_000_000 {
		t.Errorf("after attribute: %+v", got)
	}
	if got.Total() != 20_000_000 {
		t.Errorf("Total() = %d, want 20000000 (attribution must not change total)", got.Total())
	}
}

func TestAttributeIdempotent(t *testing.T) {
	a := NewAggregator()
	id := uuid.New()

	if err := a.Reserve("BTC-PERP", id, 20_000_000, oiCap); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := a.Attribute(id, event.SideShort); err != nil {
		t.Fatalf("attribute: %v", err)
	}

	// Re-delivery: no double count
	if err := a.Attribute(id, event.SideShort); err != nil {
		t.Errorf("re-attribute: %v", err)
	}
	got := a.TotalsFor("BTC-PERP")
	if got.Short != 20_000_000 {
		t.Errorf("Short = %d after re-delivery, want 20000000", got.Short)
	}

	// Conflicting side
	if err := a.Attribute(id, event.SideLong); !errors.Is(err, ErrExposureConflict) {
		t.Errorf("conflict error = %v, want ErrExposureConflict", err)
	}
}

func TestReleaseFromEachBucket(t *testing.T) {
	a := NewAggregator()

	unattr, long, short := uuid.New(), uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{unattr, long, short} {
		if err := a.Reserve("BTC-PERP", id, 10_000_000, oiCap); err != nil {
			t.Fatalf("reserve: %v", err)
		}
	}
	if err := a.Attribute(long, event.SideLong); err != nil {
		t.Fatalf("attribute long: %v", err)
	}
	if err := a.Attribute(short, event.SideShort); err != nil {
		t.Fatalf("attribute short: %v", err)
	}

	for _, id := range []uuid.UUID{unattr, long, short} {
		if err := a.Release(id); err != nil {
			t.Fatalf("release: %v", err)
		}
	}

	got := a.TotalsFor("BTC-PERP")
	if got.Total() != 0 {
		t.Errorf("totals after full release = %+v, want zero", got)
	}

	if err := a.Release(unattr); !errors.Is(err, ErrUnknownExposure) {
		t.Errorf("double release error = %v, want ErrUnknownExposure", err)
	}
}

func TestRekeyAndResize(t *testing.T) {
	a := NewAggregator()
	orderID, positionID := uuid.New(), uuid.New()

	if err := a.Reserve("BTC-PERP", orderID, 20_000_000, oiCap); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := a.Rekey(orderID, positionID); err != nil {
		t.Fatalf("rekey: %v", err)
	}
	if err := a.Release(orderID); !errors.Is(err, ErrUnknownExposure) {
		t.Errorf("old id still live after rekey: %v", err)
	}

	// Post-fee size is slightly smaller than the escrowed size
	if err := a.Resize(positionID, 19_960_000); err != nil {
		t.Fatalf("resize: %v", err)
	}
	got := a.TotalsFor("BTC-PERP")
	if got.Unattributed != 19_960_000 {
		t.Errorf("Unattributed = %d after resize, want 19960000", got.Unattributed)
	}

	if err := a.Attribute(positionID, event.SideLong); err != nil {
		t.Fatalf("attribute: %v", err)
	}
	if err := a.Release(positionID); err != nil {
		t.Fatalf("release: %v", err)
	}
	if total := a.TotalsFor("BTC-PERP").Total(); total != 0 {
		t.Errorf("Total = %d after release, want 0", total)
	}
}

func TestCanonicalBytesDeterministic(t *testing.T) {
	build := func(order []string) []byte {
		a := NewAggregator()
		for _, key := range order {
			if err := a.Reserve(key, uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)), 5_000_000, oiCap); err != nil {
				t.Fatalf("reserve %s: %v", key, err)
			}
		}
		return a.CanonicalBytes()
	}

	a := build([]string{"BTC-PERP", "ETH-PERP", "SOL-PERP"})
	b := build([]string{"SOL-PERP", "BTC-PERP", "ETH-PERP"})
	if string(a) != string(b) {
		t.Error("CanonicalBytes depends on insertion order")
	}
}
