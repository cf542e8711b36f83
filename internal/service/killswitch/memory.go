package killswitch

import (
	"context"
	"sync"

	domrepo "github.com/Mengjun74/ibkr-mvp/internal/domain/repository"
)

// MemoryStore is an in-process kill switch for tests and offline runs.
type MemoryStore struct {
	mu      sync.Mutex
	engaged bool
	reason  string
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Engaged(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engaged, nil
}

func (s *MemoryStore) Engage(ctx context.Context, reason string) error {
	s.mu.Lock()
	s.engaged = true
	s.reason = reason
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.engaged = false
	s.reason = ""
	s.mu.Unlock()
	return nil
}

// Reason returns the recorded engage reason.
func (s *MemoryStore) Reason(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

var _ domrepo.KillSwitchStore = (*MemoryStore)(nil)
