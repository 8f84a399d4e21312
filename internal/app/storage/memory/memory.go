// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/twap_oracle/internal/app/domain/twap"
	"github.com/R3E-Network/twap_oracle/internal/app/storage"
)

// Store is an in-memory PairStore.
type Store struct {
	mu           sync.RWMutex
	nextID       int64
	pairs        map[string]twap.Pair
	pairsByToken map[string]string // "token0/token1" -> pair ID
}

var _ storage.PairStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:       1,
		pairs:        make(map[string]twap.Pair),
		pairsByToken: make(map[string]string),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func tokenKey(token0, token1 string) string {
	return token0 + "/" + token1
}

// CreatePair stores a new pair registration.
func (s *Store) CreatePair(_ context.Context, pair twap.Pair) (twap.Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pair.ID == "" {
		pair.ID = s.nextIDLocked()
	} else if _, exists := s.pairs[pair.ID]; exists {
		return twap.Pair{}, fmt.Errorf("pair %s already exists", pair.ID)
	}

	key := tokenKey(pair.Token0, pair.Token1)
	if _, exists := s.pairsByToken[key]; exists {
		return twap.Pair{}, fmt.Errorf("pair for tokens %s already exists", key)
	}

	now := time.Now().UTC()
	pair.CreatedAt = now
	pair.UpdatedAt = now

	s.pairs[pair.ID] = pair
	s.pairsByToken[key] = pair.ID
	return pair, nil
}

// GetPair retrieves a pair by identifier.
func (s *Store) GetPair(_ context.Context, id string) (twap.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pair, ok := s.pairs[id]
	if !ok {
		return twap.Pair{}, fmt.Errorf("pair %s not found", id)
	}
	return pair, nil
}

// GetPairByTokens retrieves a pair by its canonically ordered tokens.
func (s *Store) GetPairByTokens(_ context.Context, token0, token1 string) (twap.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.pairsByToken[tokenKey(token0, token1)]
	if !ok {
		return twap.Pair{}, fmt.Errorf("pair for tokens %s/%s not found", token0, token1)
	}
	return s.pairs[id], nil
}

// ListPairs returns every registered pair.
func (s *Store) ListPairs(_ context.Context) ([]twap.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]twap.Pair, 0, len(s.pairs))
	for _, pair := range s.pairs {
		result = append(result, pair)
	}
	return result, nil
}
