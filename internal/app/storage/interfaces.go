package storage

import (
	"context"

	"github.com/R3E-Network/twap_oracle/internal/app/domain/twap"
)

// PairStore persists pair registrations. Observation ring buffers are owned
// by the oracle service itself; only registry metadata goes through a store.
type PairStore interface {
	CreatePair(ctx context.Context, pair twap.Pair) (twap.Pair, error)
	GetPair(ctx context.Context, id string) (twap.Pair, error)
	GetPairByTokens(ctx context.Context, token0, token1 string) (twap.Pair, error)
	ListPairs(ctx context.Context) ([]twap.Pair, error)
}
