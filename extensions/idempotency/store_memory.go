package idempotency

import (
	"context"
	"sync"
	"time"

	medchain "github.com/firasabs/medSmartContract"
)

// InMemoryStore provides an in-memory implementation of CompletionStore.
//
// Suitable for a single process. Cached results expire after the TTL and
// are cleaned up lazily; recorded payments are kept until completed.
type InMemoryStore struct {
	mu       sync.Mutex
	results  map[string]*medchain.CompletionResult
	expiry   map[string]time.Time
	inFlight map[string]chan struct{}
	payments map[string]*medchain.TransactionReceipt
	ttl      time.Duration
}

// NewInMemoryStore creates a new in-memory completion store with the specified TTL.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		results:  make(map[string]*medchain.CompletionResult),
		expiry:   make(map[string]time.Time),
		inFlight: make(map[string]chan struct{}),
		payments: make(map[string]*medchain.TransactionReceipt),
		ttl:      ttl,
	}
}

func (s *InMemoryStore) CheckAndMark(key string) (CompletionStatus, *medchain.CompletionResult, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, exists := s.expiry[key]; exists {
		if time.Now().Before(expiry) {
			if result, ok := s.results[key]; ok {
				return StatusCached, result, nil
			}
		}
		delete(s.results, key)
		delete(s.expiry, key)
	}

	if done, exists := s.inFlight[key]; exists {
		return StatusInFlight, nil, done
	}

	done := make(chan struct{})
	s.inFlight[key] = done
	return StatusNotFound, nil, done
}

func (s *InMemoryStore) WaitForResult(ctx context.Context, key string, done chan struct{}) (*medchain.CompletionResult, error) {
	select {
	case <-done:
		return s.get(key), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// get returns a cached result if it exists and hasn't expired
func (s *InMemoryStore) get(key string) *medchain.CompletionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, exists := s.expiry[key]
	if !exists {
		return nil
	}
	if time.Now().After(expiry) {
		delete(s.results, key)
		delete(s.expiry, key)
		return nil
	}
	return s.results[key]
}

func (s *InMemoryStore) Complete(key string, result *medchain.CompletionResult, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[key] = result
	s.expiry[key] = time.Now().Add(s.ttl)
	delete(s.payments, key)
	delete(s.inFlight, key)
	close(done)

	s.cleanupExpiredLocked()
}

func (s *InMemoryStore) Fail(key string, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.inFlight, key)
	close(done)
}

func (s *InMemoryStore) RecordPayment(key string, payment *medchain.TransactionReceipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[key] = payment
}

func (s *InMemoryStore) Payment(key string) *medchain.TransactionReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payments[key]
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (s *InMemoryStore) cleanupExpiredLocked() {
	now := time.Now()
	for key, expiry := range s.expiry {
		if now.After(expiry) {
			delete(s.results, key)
			delete(s.expiry, key)
		}
	}
}

// Ensure InMemoryStore implements CompletionStore
var _ CompletionStore = (*InMemoryStore)(nil)
