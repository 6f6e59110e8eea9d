package order

import (
	"fmt"

	"github.com/google/uuid"
)

// Book tracks every order ever created. Terminal orders stay for audit and
// queries; only Pending ones are actionable. All mutation happens on the
// engine goroutine.
type Book struct {
	byID     map[uuid.UUID]*Order
	byTrader map[uuid.UUID][]uuid.UUID
	order    []uuid.UUID
}

func NewBook() *Book {
	return &Book{
		byID:     make(map[uuid.UUID]*Order),
		byTrader: make(map[uuid.UUID][]uuid.UUID),
	}
}

// Add inserts a new order. The caller has already validated instrument,
// collateral, and leverage against the registry.
func (b *Book) Add(o *Order) error {
	if _, exists := b.byID[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	b.byID[o.ID] = o
	b.byTrader[o.Trader] = append(b.byTrader[o.Trader], o.ID)
	b.order = append(b.order, o.ID)
	return nil
}

// Get returns the order or ErrUnknownOrder.
func (b *Book) Get(id uuid.UUID) (*Order, error) {
	o, ok := b.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	return o, nil
}

// GetPending returns the order if it is still pending. An expired-but-not-
// yet-flipped order is still returned; expiry is the caller's check.
func (b *Book) GetPending(id uuid.UUID) (*Order, error) {
	o, err := b.Get(id)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrOrderNotPending, id, o.Status)
	}
	return o, nil
}

// ByTrader returns a trader's orders in creation order.
func (b *Book) ByTrader(trader uuid.UUID) []*Order {
	ids := b.byTrader[trader]
	out := make([]*Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.byID[id])
	}
	return out
}

// Pending returns all pending orders in creation order.
func (b *Book) Pending() []*Order {
	var out []*Order
	for _, id := range b.order {
		if o := b.byID[id]; o.Status == StatusPending {
			out = append(out, o)
		}
	}
	return out
}

// All returns every order in creation order.
func (b *Book) All() []*Order {
	out := make([]*Order, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.byID[id])
	}
	return out
}

func (b *Book) Count() int {
	return len(b.byID)
}
