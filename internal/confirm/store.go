package confirm

import (
	"context"
	"sync"
	"time"

	"github.com/operant-labs/toolgate/internal/fault"
)

// Store persists confirmations. Resolve must be compare-and-set on the
// pending state so that exactly one resolution wins, regardless of how many
// signals race.
type Store interface {
	Create(ctx context.Context, c *Confirmation) error

	// Get returns the confirmation, or nil if unknown.
	Get(ctx context.Context, id string) (*Confirmation, error)

	// Resolve atomically moves a pending confirmation to a terminal state.
	// Fails with NotFound for unknown ids, AlreadyResolved when a terminal
	// transition already happened, and ConfirmationExpired when the row is
	// past its expiry. A signal that finds the row pending but overdue
	// transitions it to expired and returns the expired row ALONGSIDE the
	// error — that transition is terminal and the caller must still notify
	// any waiter.
	Resolve(ctx context.Context, id string, state State, actor string, now time.Time) (*Confirmation, error)

	// ExpireDue transitions every pending confirmation past its expiry to
	// expired and returns them.
	ExpireDue(ctx context.Context, now time.Time) ([]*Confirmation, error)
}

// MemoryStore keeps confirmations in memory, for development and tests. A
// production deployment uses the Postgres store so a restart does not lose
// pending confirmations.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*Confirmation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Confirmation)}
}

func (s *MemoryStore) Create(_ context.Context, c *Confirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[c.ID]; exists {
		return fault.New(fault.InvalidArgument, "confirmation %s already exists", c.ID)
	}
	s.rows[c.ID] = c.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	return row.clone(), nil
}

func (s *MemoryStore) Resolve(_ context.Context, id string, state State, actor string, now time.Time) (*Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, fault.New(fault.NotFound, "confirmation %s not found", id)
	}
	if row.State != StatePending {
		return nil, resolvedFault(row)
	}
	if !now.Before(row.ExpiresAt) {
		row.State = StateExpired
		row.ResolvedBy = ExpiredActor
		row.ResolvedAt = now
		return row.clone(), fault.New(fault.ConfirmationExpired, "confirmation %s expired at %s", id, row.ExpiresAt.Format(time.RFC3339))
	}

	row.State = state
	row.ResolvedBy = actor
	row.ResolvedAt = now
	return row.clone(), nil
}

func (s *MemoryStore) ExpireDue(_ context.Context, now time.Time) ([]*Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*Confirmation
	for _, row := range s.rows {
		if row.State == StatePending && !now.Before(row.ExpiresAt) {
			row.State = StateExpired
			row.ResolvedBy = ExpiredActor
			row.ResolvedAt = now
			expired = append(expired, row.clone())
		}
	}
	return expired, nil
}

// resolvedFault distinguishes "a human already decided" from "the window
// closed" for the late signaler.
func resolvedFault(row *Confirmation) *fault.Fault {
	if row.State == StateExpired {
		return fault.New(fault.ConfirmationExpired, "confirmation %s expired", row.ID)
	}
	return fault.New(fault.AlreadyResolved, "confirmation %s already %s by %s", row.ID, row.State, row.ResolvedBy)
}
