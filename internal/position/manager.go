package position

import (
	"fmt"

	"github.com/google/uuid"

	"veilperp/internal/event"
)

// Manager tracks every position, open and settled. All mutation happens on
// the engine goroutine.
type Manager struct {
	byID     map[uuid.UUID]*Position
	byTrader map[uuid.UUID][]uuid.UUID
	order    []uuid.UUID
}

func NewManager() *Manager {
	return &Manager{
		byID:     make(map[uuid.UUID]*Position),
		byTrader: make(map[uuid.UUID][]uuid.UUID),
	}
}

// Add inserts a newly opened position.
func (m *Manager) Add(p *Position) error {
	if _, exists := m.byID[p.ID]; exists {
		return fmt.Errorf("position %s already exists", p.ID)
	}
	m.byID[p.ID] = p
	m.byTrader[p.Trader] = append(m.byTrader[p.Trader], p.ID)
	m.order = append(m.order, p.ID)
	return nil
}

// Get returns the position or ErrUnknownPosition.
func (m *Manager) Get(id uuid.UUID) (*Position, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPosition, id)
	}
	return p, nil
}

// GetOpen returns the position if it is still open.
func (m *Manager) GetOpen(id uuid.UUID) (*Position, error) {
	p, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusOpen {
		return nil, fmt.Errorf("%w: %s is %s", ErrPositionClosed, id, p.Status)
	}
	return p, nil
}

// Attribute applies a resolved direction to a position. Idempotent: the same
// side again is a no-op; a different side is a conflict.
func (m *Manager) Attribute(id uuid.UUID, side event.Side) (*Position, bool, error) {
	p, err := m.Get(id)
	if err != nil {
		return nil, false, err
	}
	if side != event.SideLong && side != event.SideShort {
		return nil, false, fmt.Errorf("%w: side %v", ErrDirectionMismatch, side)
	}
	if p.Attributed() {
		if p.Side != side {
			return nil, false, fmt.Errorf("%w: position %s is %s", ErrDirectionMismatch, id, p.Side)
		}
		return p, false, nil
	}

	p.Side = side
	p.Version++
	return p, true, nil
}

// ByTrader returns a trader's positions in open order.
func (m *Manager) ByTrader(trader uuid.UUID) []*Position {
	ids := m.byTrader[trader]
	out := make([]*Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.byID[id])
	}
	return out
}

// Open returns all open positions in open order.
func (m *Manager) Open() []*Position {
	var out []*Position
	for _, id := range m.order {
		if p := m.byID[id]; p.Status == StatusOpen {
			out = append(out, p)
		}
	}
	return out
}

// All returns every position in open order.
func (m *Manager) All() []*Position {
	out := make([]*Position, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out
}

func (m *Manager) Count() int {
	return len(m.byID)
}
