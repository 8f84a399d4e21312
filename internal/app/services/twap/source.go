package twap

import (
	"context"
	"sync"
	"time"

	"github.com/holiman/uint256"

	domain "github.com/R3E-Network/twap_oracle/internal/app/domain/twap"
	"github.com/R3E-Network/twap_oracle/pkg/fixedpoint"
)

// SourceFunc adapts a function to the CumulativeSource interface.
type SourceFunc func(ctx context.Context, pair domain.Pair) (*uint256.Int, *uint256.Int, uint64, error)

func (f SourceFunc) CurrentCumulativePrices(ctx context.Context, pair domain.Pair) (*uint256.Int, *uint256.Int, uint64, error) {
	return f(ctx, pair)
}

// SimulatedSource integrates configured spot prices into monotonically
// increasing cumulative counters, one pair of counters per feed. It stands
// in for the external accumulator during local development and in tests.
type SimulatedSource struct {
	mu    sync.Mutex
	now   func() time.Time
	feeds map[string]*simulatedFeed
}

type simulatedFeed struct {
	price0      fixedpoint.UQ112x112 // token1 per token0
	price1      fixedpoint.UQ112x112 // token0 per token1
	cum0        uint256.Int
	cum1        uint256.Int
	lastAccrued uint64
}

var _ CumulativeSource = (*SimulatedSource)(nil)

// NewSimulatedSource creates a source with no priced feeds.
func NewSimulatedSource() *SimulatedSource {
	return &SimulatedSource{
		now:   time.Now,
		feeds: make(map[string]*simulatedFeed),
	}
}

// SetReserves fixes the spot price for a feed from a pair of reserves, as a
// constant-product market would quote it. Accrued time up to now is settled
// at the previous price first.
func (s *SimulatedSource) SetReserves(feedID string, reserve0, reserve1 uint64) error {
	price0, err := fixedpoint.FromFraction(reserve1, reserve0)
	if err != nil {
		return err
	}
	price1, err := fixedpoint.FromFraction(reserve0, reserve1)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.feedLocked(feedID)
	s.accrueLocked(f, uint64(s.now().Unix()))
	f.price0 = price0
	f.price1 = price1
	return nil
}

// CurrentCumulativePrices returns the counters accrued up to now.
func (s *SimulatedSource) CurrentCumulativePrices(_ context.Context, pair domain.Pair) (*uint256.Int, *uint256.Int, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := uint64(s.now().Unix())
	f := s.feedLocked(pair.ID)
	s.accrueLocked(f, now)

	cum0 := new(uint256.Int).Set(&f.cum0)
	cum1 := new(uint256.Int).Set(&f.cum1)
	return cum0, cum1, now, nil
}

func (s *SimulatedSource) feedLocked(feedID string) *simulatedFeed {
	f := s.feeds[feedID]
	if f == nil {
		f = &simulatedFeed{}
		s.feeds[feedID] = f
	}
	return f
}

// accrueLocked advances the counters by price * elapsed. Counters only ever
// grow; a feed with no price yet just moves its accrual mark.
func (s *SimulatedSource) accrueLocked(f *simulatedFeed, now uint64) {
	if f.lastAccrued == 0 || now <= f.lastAccrued {
		f.lastAccrued = now
		return
	}
	elapsed := now - f.lastAccrued
	f.cum0.Add(&f.cum0, f.price0.Scale(elapsed))
	f.cum1.Add(&f.cum1, f.price1.Scale(elapsed))
	f.lastAccrued = now
}
