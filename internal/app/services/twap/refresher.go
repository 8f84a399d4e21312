package twap

import (
	"context"
	"sync"
	"time"

	domain "github.com/R3E-Network/twap_oracle/internal/app/domain/twap"
	"github.com/R3E-Network/twap_oracle/internal/app/system"
	"github.com/R3E-Network/twap_oracle/pkg/logger"
)

var _ system.Service = (*Refresher)(nil)

// PairLister enumerates the pairs the refresher keeps fresh.
type PairLister interface {
	List(ctx context.Context) ([]domain.Pair, error)
}

// Refresher batch-updates every registered pair once per period so that
// consults always find a full window of observations.
type Refresher struct {
	service  *Service
	pairs    PairLister
	log      *logger.Logger
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRefresher creates a lifecycle-managed observation refresher. The tick
// interval defaults to the oracle period; updates landing early in a period
// are no-ops, so a shorter interval is safe but pointless.
func NewRefresher(service *Service, pairs PairLister, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.NewDefault("twap-refresher")
	}
	return &Refresher{
		service:  service,
		pairs:    pairs,
		log:      log,
		interval: service.PeriodSize(),
	}
}

func (r *Refresher) Name() string { return "twap-refresher" }

func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Info("observation refresher started")
	return nil
}

func (r *Refresher) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.Info("observation refresher stopped")
	return nil
}

func (r *Refresher) tick(ctx context.Context) {
	if r.service == nil || r.pairs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pairs, err := r.pairs.List(ctx)
	if err != nil {
		r.log.WithError(err).Warn("refresher tick failed")
		return
	}
	if len(pairs) == 0 {
		return
	}

	tokensA := make([]string, len(pairs))
	tokensB := make([]string, len(pairs))
	for i, pair := range pairs {
		tokensA[i] = pair.Token0
		tokensB[i] = pair.Token1
	}

	results, err := r.service.BatchUpdate(ctx, tokensA, tokensB)
	if err != nil {
		r.log.WithError(err).Warn("batch update failed")
		return
	}
	for _, res := range results {
		if res.Err != nil {
			r.log.WithError(res.Err).
				WithField("token_a", res.TokenA).
				WithField("token_b", res.TokenB).
				Warn("observation update failed")
		}
	}
}
