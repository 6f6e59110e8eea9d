package instrument

import "fmt"

// Registry holds all instruments ever configured. It is append-only:
// an instrument can be deactivated by a config update but never removed,
// so enumeration is always explicit and stable.
type Registry struct {
	byKey map[string]*Instrument
	order []string // Insertion order for deterministic enumeration
}

func NewRegistry() *Registry {
	return &Registry{
		byKey: make(map[string]*Instrument),
	}
}

// Apply registers a new instrument or reconfigures an existing one.
// Quote state survives reconfiguration.
func (r *Registry) Apply(cfg Config) (*Instrument, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid instrument config: %w", err)
	}

	inst, ok := r.byKey[cfg.Key]
	if !ok {
		inst = &Instrument{Config: cfg, Version: 1}
		r.byKey[cfg.Key] = inst
		r.order = append(r.order, cfg.Key)
		return inst, nil
	}

	inst.Config = cfg
	inst.Version++
	return inst, nil
}

// Restore repopulates the registry from a snapshot, keeping quote state and
// versions exactly as captured.
func (r *Registry) Restore(insts []*Instrument) {
	r.byKey = make(map[string]*Instrument, len(insts))
	r.order = make([]string, 0, len(insts))
	for _, inst := range insts {
		r.byKey[inst.Key] = inst
		r.order = append(r.order, inst.Key)
	}
}

// Get returns the instrument or ErrUnknownInstrument.
func (r *Registry) Get(key string) (*Instrument, error) {
	inst, ok := r.byKey[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, key)
	}
	return inst, nil
}

// GetActive returns the instrument if it exists and is active.
func (r *Registry) GetActive(key string) (*Instrument, error) {
	inst, err := r.Get(key)
	if err != nil {
		return nil, err
	}
	if !inst.Active {
		return nil, fmt.Errorf("%w: %s", ErrInstrumentInactive, key)
	}
	return inst, nil
}

// List returns all instruments in registration order.
func (r *Registry) List() []*Instrument {
	out := make([]*Instrument, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.byKey[key])
	}
	return out
}

// Keys returns all instrument keys in registration order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Count() int {
	return len(r.byKey)
}
