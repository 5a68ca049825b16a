// Package session persists the per-session cart between requests. The cart
// is loaded at request start and saved at request end; each session id owns
// exactly one cart.
package session

import (
	"context"
	"sync"
	"time"

	"partsbill/backend/internal/domain"
)

type CartStore interface {
	// Load returns the session's cart, or an empty cart when none exists.
	Load(ctx context.Context, sessionID string) (domain.Cart, error)
	Save(ctx context.Context, sessionID string, cart domain.Cart) error
	Clear(ctx context.Context, sessionID string) error
}

// MemoryCartStore keeps carts in-process. Used when REDIS_ADDR is unset and
// in tests. Entries expire lazily on access.
type MemoryCartStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

type memoryEntry struct {
	cart      domain.Cart
	expiresAt time.Time
}

func NewMemoryCartStore(ttl time.Duration) *MemoryCartStore {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &MemoryCartStore{ttl: ttl, entries: make(map[string]memoryEntry)}
}

func (s *MemoryCartStore) Load(_ context.Context, sessionID string) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[sessionID]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(s.entries, sessionID)
		return domain.Cart{}, nil
	}

	// Copy the line slice so callers cannot mutate the stored cart.
	cart := entry.cart
	cart.Lines = append([]domain.CartLine(nil), entry.cart.Lines...)
	return cart, nil
}

func (s *MemoryCartStore) Save(_ context.Context, sessionID string, cart domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cart
	stored.Lines = append([]domain.CartLine(nil), cart.Lines...)
	s.entries[sessionID] = memoryEntry{cart: stored, expiresAt: time.Now().Add(s.ttl)}
	return nil
}

func (s *MemoryCartStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, sessionID)
	return nil
}
