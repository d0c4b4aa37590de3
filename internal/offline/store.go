package offline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrActionNotFound is returned for absent actions.
var ErrActionNotFound = errors.New("queued action not found")

// ActionStore is the durable backing of the queue. The SQLite implementation
// is the production one; the in-memory implementation backs tests and
// environments without a writable filesystem.
type ActionStore interface {
	Insert(ctx context.Context, a *Action) error
	Get(ctx context.Context, id string) (*Action, error)
	// OldestPending returns the earliest-created pending action, or nil
	// when the queue holds none. Creation order is the replay order.
	OldestPending(ctx context.Context) (*Action, error)
	MarkInFlight(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string) error
	MarkPending(ctx context.Context, id string, attempts int, nextAttempt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string, attempts int, lastError string) error
	// ResetInFlight returns actions stranded in-flight by a crash to
	// pending, keeping their queue position. Returns the count reset.
	ResetInFlight(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) error
	ListByStatus(ctx context.Context, status string) ([]*Action, error)
	// PruneCompleted bounds the completed-history retention.
	PruneCompleted(ctx context.Context, keep int) error
	Close() error
}

// MemoryStore is the in-memory ActionStore.
type MemoryStore struct {
	mu      sync.Mutex
	order   []string
	actions map[string]*Action
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actions: make(map[string]*Action)}
}

func (s *MemoryStore) Insert(ctx context.Context, a *Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.actions[a.ID] = &cp
	s.order = append(s.order, a.ID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, ErrActionNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) OldestPending(ctx context.Context) (*Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		a, ok := s.actions[id]
		if ok && a.Status == ActionStatusPending {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) MarkInFlight(ctx context.Context, id string) error {
	return s.update(id, func(a *Action) {
		a.Status = ActionStatusInFlight
	})
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, id string) error {
	return s.update(id, func(a *Action) {
		a.Status = ActionStatusCompleted
	})
}

func (s *MemoryStore) MarkPending(ctx context.Context, id string, attempts int, nextAttempt time.Time, lastError string) error {
	return s.update(id, func(a *Action) {
		a.Status = ActionStatusPending
		a.AttemptCount = attempts
		a.NextAttemptAt = nextAttempt
		a.LastError = lastError
	})
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	return s.update(id, func(a *Action) {
		a.Status = ActionStatusFailed
		a.AttemptCount = attempts
		a.LastError = lastError
	})
}

func (s *MemoryStore) ResetInFlight(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.actions {
		if a.Status == ActionStatusInFlight {
			a.Status = ActionStatusPending
			a.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[id]; !ok {
		return ErrActionNotFound
	}
	delete(s.actions, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status string) ([]*Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Action
	for _, id := range s.order {
		if a, ok := s.actions[id]; ok && a.Status == status {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) PruneCompleted(ctx context.Context, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var completed []*Action
	for _, a := range s.actions {
		if a.Status == ActionStatusCompleted {
			completed = append(completed, a)
		}
	}
	if len(completed) <= keep {
		return nil
	}
	sort.Slice(completed, func(i, j int) bool {
		return completed[i].UpdatedAt.Before(completed[j].UpdatedAt)
	})
	for _, a := range completed[:len(completed)-keep] {
		delete(s.actions, a.ID)
		for i, oid := range s.order {
			if oid == a.ID {
				s.order = append(s.order[:i:i], s.order[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) update(id string, fn func(*Action)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return ErrActionNotFound
	}
	fn(a)
	a.UpdatedAt = time.Now()
	return nil
}
