package order

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func pendingOrder() *Order {
	return &Order{
		ID:            uuid.New(),
		Trader:        uuid.New(),
		InstrumentKey: "BTC-PERP",
		Collateral:    10_000_000,
		Leverage:      2,
		LimitPrice:    48_000_00000000,
		ExpiresAt:     10_000_000,
		Status:        StatusPending,
		CreatedAt:     1_000_000,
		Version:       1,
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusExecuted, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusExpired, true},
		{StatusExecuted, StatusCancelled, false},
		{StatusExecuted, StatusPending, false},
		{StatusCancelled, StatusExecuted, false},
		{StatusExpired, StatusExecuted, false},
		{StatusCancelled, StatusExpired, false},
	}

	for _, tt := range tests {
		got := tt.from.CanTransitionTo(tt.to)
		if got != tt.want {
			t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTransitionTerminal(t *testing.T) {
	o := pendingOrder()

	if err := o.Transition(StatusExecuted, 2_000_000); err != nil {
		t.Fatalf("Transition to executed: %v", err)
	}
	if o.ClosedAt != 2_000_000 {
		t.Errorf("ClosedAt = %d, want 2000000", o.ClosedAt)
	}

	// Every further transition is rejected
	for _, to := range []Status{StatusCancelled, StatusExpired, StatusExecuted, StatusPending} {
		if err := o.Transition(to, 3_000_000); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("Transition(executed -> %s) error = %v, want ErrInvalidTransition", to, err)
		}
	}
}

func TestExpiredAt(t *testing.T) {
	o := pendingOrder()

	if o.ExpiredAt(10_000_000) {
		t.Error("expired exactly at deadline")
	}
	if !o.ExpiredAt(10_000_001) {
		t.Error("not expired past deadline")
	}

	o.ExpiresAt = 0
	if o.ExpiredAt(1 << 60) {
		t.Error("order without deadline expired")
	}
}

func TestSatisfiesLimit(t *testing.T) {
	o := pendingOrder() // limit 48,000

	tests := []struct {
		name     string
		sideSign int64
		price    int64
		want     bool
	}{
		{"long at limit", 1, 48_000_00000000, true},
		{"long below limit", 1, 47_000_00000000, true},
		{"long above limit", 1, 49_000_00000000, false},
		{"short at limit", -1, 48_000_00000000, true},
		{"short above limit", -1, 49_000_00000000, true},
		{"short below limit", -1, 47_000_00000000, false},
		{"unresolved side", 0, 48_000_00000000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := o.SatisfiesLimit(tt.sideSign, tt.price); got != tt.want {
				t.Errorf("SatisfiesLimit(%d, %d) = %v, want %v", tt.sideSign, tt.price, got, tt.want)
			}
		})
	}
}

func TestSatisfiesLimitMarketRecord(t *testing.T) {
	o := pendingOrder()
	o.LimitPrice = 0
	if !o.SatisfiesLimit(1, 99_999_00000000) {
		t.Error("market record did not satisfy at any price")
	}
}

func TestBookGetPending(t *testing.T) {
	b := NewBook()
	o := pendingOrder()
	if err := b.Add(o); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if _, err := b.GetPending(o.ID); err != nil {
		t.Errorf("GetPending(pending) = %v", err)
	}

	if err := o.Transition(StatusCancelled, 2_000_000); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if _, err := b.GetPending(o.ID); !errors.Is(err, ErrOrderNotPending) {
		t.Errorf("GetPending(cancelled) error = %v, want ErrOrderNotPending", err)
	}

	if _, err := b.GetPending(uuid.New()); !errors.Is(err, ErrUnknownOrder) {
		t.Errorf("GetPending(missing) error = %v, want ErrUnknownOrder", err)
	}
}

func TestBookDuplicateAdd(t *testing.T) {
	b := NewBook()
	o := pendingOrder()
	if err := b.Add(o); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := b.Add(o); err == nil {
		t.Error("duplicate Add succeeded")
	}
}

func TestBookByTrader(t *testing.T) {
	b := NewBook()
	trader := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		o := pendingOrder()
		o.Trader = trader
		ids = append(ids, o.ID)
		if err := b.Add(o); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	other := pendingOrder()
	if err := b.Add(other); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got := b.ByTrader(trader)
	if len(got) != 3 {
		t.Fatalf("ByTrader returned %d orders, want 3", len(got))
	}
	for i, o := range got {
		if o.ID != ids[i] {
			t.Errorf("ByTrader[%d] = %s, want %s (creation order)", i, o.ID, ids[i])
		}
	}
}

func TestBookPendingFilters(t *testing.T) {
	b := NewBook()
	keep := pendingOrder()
	done := pendingOrder()
	if err := b.Add(keep); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := b.Add(done); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := done.Transition(StatusExecuted, 2_000_000); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	pending := b.Pending()
	if len(pending) != 1 || pending[0].ID != keep.ID {
		t.Errorf("Pending() = %v, want only %s", pending, keep.ID)
	}
	if b.Count() != 2 {
		t.Errorf("Count() = %d, want 2", b.Count())
	}
}
