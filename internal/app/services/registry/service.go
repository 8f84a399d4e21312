// Package registry resolves token pairs to their canonical feeds.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/R3E-Network/twap_oracle/internal/app/domain/twap"
	"github.com/R3E-Network/twap_oracle/internal/app/storage"
	"github.com/R3E-Network/twap_oracle/pkg/logger"
)

// ErrUnknownPair indicates no feed is registered for a token pair.
var ErrUnknownPair = errors.New("no pair registered for tokens")

// Service manages pair registrations and lookups.
type Service struct {
	store storage.PairStore
	log   *logger.Logger
}

// New constructs a registry service.
func New(store storage.PairStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("registry")
	}
	return &Service{store: store, log: log}
}

// Register creates a feed for a token pair. Token order does not matter;
// the pair is stored under the canonical ordering.
func (s *Service) Register(ctx context.Context, tokenA, tokenB string) (twap.Pair, error) {
	tokenA = strings.TrimSpace(tokenA)
	tokenB = strings.TrimSpace(tokenB)

	token0, token1, err := twap.SortTokens(tokenA, tokenB)
	if err != nil {
		return twap.Pair{}, err
	}

	if _, err := s.store.GetPairByTokens(ctx, token0, token1); err == nil {
		return twap.Pair{}, fmt.Errorf("pair %s/%s already registered", token0, token1)
	}

	pair, err := s.store.CreatePair(ctx, twap.Pair{
		ID:     uuid.NewString(),
		Token0: token0,
		Token1: token1,
	})
	if err != nil {
		return twap.Pair{}, err
	}

	s.log.WithField("pair_id", pair.ID).
		WithField("token0", pair.Token0).
		WithField("token1", pair.Token1).
		Info("pair registered")
	return pair, nil
}

// PairFor resolves the canonical feed for a token pair.
func (s *Service) PairFor(ctx context.Context, tokenA, tokenB string) (twap.Pair, error) {
	token0, token1, err := twap.SortTokens(strings.TrimSpace(tokenA), strings.TrimSpace(tokenB))
	if err != nil {
		return twap.Pair{}, err
	}
	pair, err := s.store.GetPairByTokens(ctx, token0, token1)
	if err != nil {
		return twap.Pair{}, fmt.Errorf("%w: %s/%s", ErrUnknownPair, token0, token1)
	}
	return pair, nil
}

// Get retrieves a pair by identifier.
func (s *Service) Get(ctx context.Context, id string) (twap.Pair, error) {
	return s.store.GetPair(ctx, id)
}

// List returns every registered pair.
func (s *Service) List(ctx context.Context) ([]twap.Pair, error) {
	return s.store.ListPairs(ctx)
}
