// Package twap implements the windowed TWAP oracle: a fixed-size sliding
// window of periodic cumulative-price observations per pair, queried for
// time-weighted average prices.
package twap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"

	domain "github.com/R3E-Network/twap_oracle/internal/app/domain/twap"
	"github.com/R3E-Network/twap_oracle/internal/app/metrics"
	"github.com/R3E-Network/twap_oracle/pkg/fixedpoint"
	"github.com/R3E-Network/twap_oracle/pkg/logger"
)

// ErrInvalidBatch indicates mismatched or empty batch token lists. The check
// runs before any feed is touched.
var ErrInvalidBatch = errors.New("batch token lists must be non-empty and of equal length")

// PairResolver maps a token pair to its canonical feed.
type PairResolver interface {
	PairFor(ctx context.Context, tokenA, tokenB string) (domain.Pair, error)
}

// CumulativeSource supplies the current cumulative prices for a pair.
// Both accumulators are UQ112x112-scaled running sums that never decrease
// over the lifetime of the feed. The returned timestamp is the instant the
// reading corresponds to; zero means the source has no clock of its own.
type CumulativeSource interface {
	CurrentCumulativePrices(ctx context.Context, pair domain.Pair) (cum0, cum1 *uint256.Int, timestamp uint64, err error)
}

// Config fixes the oracle window for the process lifetime.
type Config struct {
	WindowSize  time.Duration
	Granularity int
}

// Validate checks the construction parameters.
func (c Config) Validate() error {
	if c.WindowSize <= 0 {
		return fmt.Errorf("window size must be positive, got %s", c.WindowSize)
	}
	if c.WindowSize%time.Second != 0 {
		return fmt.Errorf("window size must be a whole number of seconds, got %s", c.WindowSize)
	}
	if c.Granularity <= 1 {
		return fmt.Errorf("granularity must be greater than 1, got %d", c.Granularity)
	}
	windowSeconds := uint64(c.WindowSize / time.Second)
	if windowSeconds%uint64(c.Granularity) != 0 {
		return fmt.Errorf("window size %s is not evenly divisible by granularity %d", c.WindowSize, c.Granularity)
	}
	return nil
}

// PeriodSize returns the duration of one observation slot.
func (c Config) PeriodSize() time.Duration {
	return c.WindowSize / time.Duration(c.Granularity)
}

// feedState is the per-feed ring buffer. Writes to a feed are serialized by
// its mutex; readers copy observations under the same lock so they never see
// a half-written slot.
type feedState struct {
	mu           sync.Mutex
	observations []domain.Observation
	lastUpdate   uint64
}

// Service is the windowed oracle. One instance serves all pairs.
type Service struct {
	cfg           Config
	windowSeconds uint64
	periodSeconds uint64
	resolver      PairResolver
	source        CumulativeSource
	log           *logger.Logger
	now           func() time.Time

	mu    sync.RWMutex
	feeds map[string]*feedState
}

// New constructs the oracle. Construction fails on invalid window
// parameters or missing collaborators.
func New(cfg Config, resolver PairResolver, source CumulativeSource, log *logger.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		return nil, fmt.Errorf("pair resolver is required")
	}
	if source == nil {
		return nil, fmt.Errorf("cumulative source is required")
	}
	if log == nil {
		log = logger.NewDefault("twap")
	}
	return &Service{
		cfg:           cfg,
		windowSeconds: uint64(cfg.WindowSize / time.Second),
		periodSeconds: uint64(cfg.PeriodSize() / time.Second),
		resolver:      resolver,
		source:        source,
		log:           log,
		now:           time.Now,
		feeds:         make(map[string]*feedState),
	}, nil
}

// WindowSize returns the total duration of the sliding window.
func (s *Service) WindowSize() time.Duration { return s.cfg.WindowSize }

// Granularity returns the number of observation slots per feed.
func (s *Service) Granularity() int { return s.cfg.Granularity }

// PeriodSize returns the duration of one observation slot.
func (s *Service) PeriodSize() time.Duration { return s.cfg.PeriodSize() }

// observationIndexOf maps a timestamp (unix seconds) to its ring slot.
// Periods exactly windowSize apart reuse the same slot.
func (s *Service) observationIndexOf(timestamp uint64) int {
	return int(timestamp / s.periodSeconds % uint64(s.cfg.Granularity))
}

// feed returns the state for a feed, initializing the full-length ring on
// first use. The double check keeps concurrent first writers from building
// two buffers for the same feed.
func (s *Service) feed(id string) *feedState {
	s.mu.RLock()
	st := s.feeds[id]
	s.mu.RUnlock()
	if st != nil {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st = s.feeds[id]; st == nil {
		st = &feedState{observations: make([]domain.Observation, s.cfg.Granularity)}
		s.feeds[id] = st
		metrics.SetTrackedFeeds(len(s.feeds))
	}
	return st
}

// lookupFeed returns the state for a feed without initializing it.
func (s *Service) lookupFeed(id string) *feedState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feeds[id]
}

// Update records the current cumulative prices for the pair into the slot
// for the current period. At most one write is committed per feed per
// period; calls landing on a fresh slot are no-ops.
func (s *Service) Update(ctx context.Context, tokenA, tokenB string) error {
	start := time.Now()

	pair, err := s.resolver.PairFor(ctx, tokenA, tokenB)
	if err != nil {
		metrics.RecordUpdate("failed", time.Since(start))
		return fmt.Errorf("resolve pair: %w", err)
	}

	st := s.feed(pair.ID)
	now := uint64(s.now().Unix())
	idx := s.observationIndexOf(now)

	st.mu.Lock()
	defer st.mu.Unlock()

	slot := st.observations[idx]
	if slot.Timestamp != 0 && (slot.Timestamp > now || now-slot.Timestamp <= s.periodSeconds) {
		// Slot already holds this period's observation.
		metrics.RecordUpdate("skipped", time.Since(start))
		return nil
	}

	cum0, cum1, ts, err := s.source.CurrentCumulativePrices(ctx, pair)
	if err != nil {
		metrics.RecordUpdate("failed", time.Since(start))
		return fmt.Errorf("cumulative prices for pair %s: %w", pair.ID, err)
	}
	// Trust the source clock only while it agrees with ours on the slot.
	if ts == 0 || s.observationIndexOf(ts) != idx {
		ts = now
	}

	st.observations[idx] = domain.Observation{
		Timestamp:        ts,
		Price0Cumulative: *cum0,
		Price1Cumulative: *cum1,
	}
	st.lastUpdate = ts

	metrics.RecordUpdate("written", time.Since(start))
	s.log.WithField("pair_id", pair.ID).
		WithField("slot", idx).
		WithField("timestamp", ts).
		Debug("observation recorded")
	return nil
}

// BatchResult reports the outcome for one pair of a batch update.
type BatchResult struct {
	TokenA string
	TokenB string
	Err    error
}

// BatchUpdate applies Update to each corresponding token pair. Length
// validation happens before any feed is touched; afterwards every pair is
// attempted independently, since single updates are idempotent per period
// and safe to apply partially.
func (s *Service) BatchUpdate(ctx context.Context, tokensA, tokensB []string) ([]BatchResult, error) {
	if len(tokensA) == 0 || len(tokensA) != len(tokensB) {
		return nil, ErrInvalidBatch
	}

	results := make([]BatchResult, len(tokensA))
	for i := range tokensA {
		results[i] = BatchResult{
			TokenA: tokensA[i],
			TokenB: tokensB[i],
			Err:    s.Update(ctx, tokensA[i], tokensB[i]),
		}
	}
	return results, nil
}

// Consult converts amountIn of tokenIn into the equivalent amount of
// tokenOut at the average price over the window. ok is false when the
// oldest in-window observation is older than the window (insufficient
// history); that is an expected, recoverable condition, not an error.
func (s *Service) Consult(ctx context.Context, tokenIn string, amountIn *uint256.Int, tokenOut string) (*uint256.Int, bool, error) {
	pair, err := s.resolver.PairFor(ctx, tokenIn, tokenOut)
	if err != nil {
		metrics.RecordConsult("failed")
		return nil, false, fmt.Errorf("resolve pair: %w", err)
	}
	if amountIn == nil {
		amountIn = new(uint256.Int)
	}

	now := uint64(s.now().Unix())
	oldest := s.firstObservationInWindow(pair.ID, now)

	if oldest.Timestamp > now {
		metrics.RecordConsult("stale")
		return new(uint256.Int), false, nil
	}
	timeElapsed := now - oldest.Timestamp
	if timeElapsed > s.windowSeconds {
		metrics.RecordConsult("stale")
		return new(uint256.Int), false, nil
	}

	cum0, cum1, _, err := s.source.CurrentCumulativePrices(ctx, pair)
	if err != nil {
		metrics.RecordConsult("failed")
		return nil, false, fmt.Errorf("cumulative prices for pair %s: %w", pair.ID, err)
	}

	cumStart, cumEnd := &oldest.Price0Cumulative, cum0
	if tokenIn != pair.Token0 {
		cumStart, cumEnd = &oldest.Price1Cumulative, cum1
	}

	delta := new(uint256.Int).Sub(cumEnd, cumStart)
	averagePrice, err := fixedpoint.Ratio(delta, timeElapsed)
	if err != nil {
		// Reachable only when the feed was never updated and the service
		// clock still reads zero elapsed time; surfaced rather than assumed
		// away.
		metrics.RecordConsult("failed")
		return nil, false, fmt.Errorf("average price for pair %s: %w", pair.ID, err)
	}

	amountOut, err := averagePrice.MulTruncate(amountIn)
	if err != nil {
		metrics.RecordConsult("failed")
		return nil, false, fmt.Errorf("amount out for pair %s: %w", pair.ID, err)
	}

	metrics.RecordConsult("ok")
	return amountOut, true, nil
}

// firstObservationInWindow returns the oldest valid data point: the slot
// about to be overwritten next, one past the current index. A feed that was
// never updated reads as the zero Observation.
func (s *Service) firstObservationInWindow(feedID string, now uint64) domain.Observation {
	st := s.lookupFeed(feedID)
	if st == nil {
		return domain.Observation{}
	}
	idx := (s.observationIndexOf(now) + 1) % s.cfg.Granularity

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.observations[idx]
}

// LastUpdateTimestamps reports the last committed update per token pair,
// zero for pairs never updated or not resolvable. ok is false when the
// input lists are empty or mismatched. The query never mutates state.
func (s *Service) LastUpdateTimestamps(ctx context.Context, tokensA, tokensB []string) ([]uint64, bool) {
	if len(tokensA) == 0 || len(tokensA) != len(tokensB) {
		return nil, false
	}

	timestamps := make([]uint64, len(tokensA))
	for i := range tokensA {
		pair, err := s.resolver.PairFor(ctx, tokensA[i], tokensB[i])
		if err != nil {
			continue
		}
		st := s.lookupFeed(pair.ID)
		if st == nil {
			continue
		}
		st.mu.Lock()
		timestamps[i] = st.lastUpdate
		st.mu.Unlock()
	}
	return timestamps, true
}

// Observations returns a copy of the pair's ring buffer, empty when the
// feed was never updated.
func (s *Service) Observations(ctx context.Context, tokenA, tokenB string) ([]domain.Observation, error) {
	pair, err := s.resolver.PairFor(ctx, tokenA, tokenB)
	if err != nil {
		return nil, fmt.Errorf("resolve pair: %w", err)
	}
	st := s.lookupFeed(pair.ID)
	if st == nil {
		return []domain.Observation{}, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]domain.Observation(nil), st.observations...), nil
}
