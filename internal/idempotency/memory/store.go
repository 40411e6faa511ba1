// Package memory keeps create responses in process memory. Entries expire
// after the same retention the durable stores use.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dejobratic/orderflow/internal/orders/ports"
)

const defaultTTL = 24 * time.Hour

type entry struct {
	response ports.StoredResponse
	pending  bool
	expires  time.Time
}

type Store struct {
	mu    sync.Mutex
	ttl   time.Duration
	lease time.Duration
	now   func() time.Time
	items map[string]entry
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{ttl: ttl, lease: ports.IdempotencyLease, now: time.Now, items: make(map[string]entry)}
}

// live returns the unexpired entry for key. Callers hold s.mu.
func (s *Store) live(key string, now time.Time) (entry, bool) {
	e, ok := s.items[key]
	if !ok {
		return entry{}, false
	}
	if !now.Before(e.expires) {
		delete(s.items, key)
		return entry{}, false
	}
	return e, true
}

// Reserve claims key unless a live reservation or response holds it.
func (s *Store) Reserve(_ context.Context, key string) (*ports.StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.live(key, now); ok {
		if e.pending {
			return nil, ports.ErrRequestInProgress
		}
		return copyResponse(e.response), nil
	}
	s.items[key] = entry{pending: true, expires: now.Add(s.lease)}
	return nil, nil
}

// Get returns the live response for key, or nil when none was saved.
func (s *Store) Get(_ context.Context, key string) (*ports.StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key, s.now())
	if !ok || e.pending {
		return nil, nil
	}
	return copyResponse(e.response), nil
}

// Save keeps the first response stored under key while it is live.
func (s *Store) Save(_ context.Context, key string, response ports.StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.live(key, now); ok && !e.pending {
		return nil
	}
	s.items[key] = entry{response: *copyResponse(response), expires: now.Add(s.ttl)}
	return nil
}

// Release drops a reservation that has no response yet.
func (s *Store) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.items[key]; ok && e.pending {
		delete(s.items, key)
	}
	return nil
}

// Len reports stored entries, expired ones included until they are read.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func copyResponse(response ports.StoredResponse) *ports.StoredResponse {
	response.Body = append([]byte(nil), response.Body...)
	return &response
}
