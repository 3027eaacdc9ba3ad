package audit

import (
	"context"
	"sync"
)

// MemoryRepo is the in-memory append-only repository. It is also the
// production store here: durability is a deliberate non-goal for this system.

type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) List(ctx context.Context) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out, nil
}

// Events is a convenience accessor for tests.
func (r *MemoryRepo) Events() []Event {
	out, _ := r.List(context.Background())
	return out
}
