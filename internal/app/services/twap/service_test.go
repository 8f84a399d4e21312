package twap

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"

	domain "github.com/R3E-Network/twap_oracle/internal/app/domain/twap"
	"github.com/R3E-Network/twap_oracle/pkg/logger"
)

// staticResolver resolves pairs from a fixed set, keyed by canonical token
// ordering.
type staticResolver struct {
	pairs map[string]domain.Pair
}

func newStaticResolver(pairs ...domain.Pair) *staticResolver {
	r := &staticResolver{pairs: make(map[string]domain.Pair)}
	for _, p := range pairs {
		r.pairs[p.Token0+"/"+p.Token1] = p
	}
	return r
}

func (r *staticResolver) PairFor(_ context.Context, tokenA, tokenB string) (domain.Pair, error) {
	token0, token1, err := domain.SortTokens(tokenA, tokenB)
	if err != nil {
		return domain.Pair{}, err
	}
	pair, ok := r.pairs[token0+"/"+token1]
	if !ok {
		return domain.Pair{}, fmt.Errorf("pair %s/%s not registered", token0, token1)
	}
	return pair, nil
}

// fakeClock is a settable clock shared between the service and its source.
type fakeClock struct {
	mu   sync.Mutex
	unix uint64
}

func newFakeClock(unix uint64) *fakeClock {
	return &fakeClock{unix: unix}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(int64(c.unix), 0)
}

func (c *fakeClock) Set(unix uint64) {
	c.mu.Lock()
	c.unix = unix
	c.mu.Unlock()
}

func testPair() domain.Pair {
	return domain.Pair{ID: "feed-1", Token0: "alpha", Token1: "beta"}
}

func testConfig() Config {
	return Config{WindowSize: 600 * time.Second, Granularity: 10}
}

func newTestService(t *testing.T, resolver PairResolver, source CumulativeSource, clock *fakeClock) *Service {
	t.Helper()
	svc, err := New(testConfig(), resolver, source, logger.NewDefault("test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.now = clock.Now
	return svc
}

// base is period-aligned so the scenario slots are predictable.
const base = uint64(600_000)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{WindowSize: 600 * time.Second, Granularity: 10}, false},
		{"zero window", Config{WindowSize: 0, Granularity: 10}, true},
		{"negative window", Config{WindowSize: -time.Minute, Granularity: 10}, true},
		{"sub-second window", Config{WindowSize: 600*time.Second + 500*time.Millisecond, Granularity: 10}, true},
		{"granularity one", Config{WindowSize: 600 * time.Second, Granularity: 1}, true},
		{"granularity zero", Config{WindowSize: 600 * time.Second, Granularity: 0}, true},
		{"not divisible", Config{WindowSize: 600 * time.Second, Granularity: 7}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	resolver := newStaticResolver(testPair())
	source := NewSimulatedSource()

	if _, err := New(testConfig(), nil, source, nil); err == nil {
		t.Fatal("expected error for nil resolver")
	}
	if _, err := New(testConfig(), resolver, nil, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
	if _, err := New(Config{WindowSize: time.Second, Granularity: 3}, resolver, source, nil); err == nil {
		t.Fatal("expected error for invalid window parameters")
	}
}

func TestObservationIndexPeriodicity(t *testing.T) {
	svc := newTestService(t, newStaticResolver(testPair()), NewSimulatedSource(), newFakeClock(base))

	window := uint64(600)
	period := uint64(60)
	for ts := base; ts < base+window; ts += period {
		idx := svc.observationIndexOf(ts)
		if idx < 0 || idx >= svc.Granularity() {
			t.Fatalf("index %d out of range for ts %d", idx, ts)
		}
		if again := svc.observationIndexOf(ts + window); again != idx {
			t.Fatalf("ts %d maps to slot %d but ts+window maps to %d", ts, idx, again)
		}
		if next := svc.observationIndexOf(ts + period); next == idx {
			t.Fatalf("consecutive periods share slot %d at ts %d", idx, ts)
		}
	}
}

func TestUpdateWritesOncePerPeriod(t *testing.T) {
	clock := newFakeClock(base)
	var calls int
	source := SourceFunc(func(context.Context, domain.Pair) (*uint256.Int, *uint256.Int, uint64, error) {
		calls++
		return uint256.NewInt(uint64(calls * 100)), uint256.NewInt(uint64(calls * 200)), 0, nil
	})
	svc := newTestService(t, newStaticResolver(testPair()), source, clock)
	ctx := context.Background()

	if err := svc.Update(ctx, "alpha", "beta"); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if calls != 1 {
		t.Fatalf("source calls = %d, want 1", calls)
	}

	// Same period: the slot is fresh and the source must not be consulted.
	clock.Set(base + 30)
	if err := svc.Update(ctx, "alpha", "beta"); err != nil {
		t.Fatalf("repeat update: %v", err)
	}
	if calls != 1 {
		t.Fatalf("source calls after no-op = %d, want 1", calls)
	}

	// Next period lands in a new slot.
	clock.Set(base + 60)
	if err := svc.Update(ctx, "alpha", "beta"); err != nil {
		t.Fatalf("next-period update: %v", err)
	}
	if calls != 2 {
		t.Fatalf("source calls after next period = %d, want 2", calls)
	}

	obs, err := svc.Observations(ctx, "alpha", "beta")
	if err != nil {
		t.Fatalf("Observations: %v", err)
	}
	if len(obs) != svc.Granularity() {
		t.Fatalf("ring length = %d, want %d", len(obs), svc.Granularity())
	}
	if obs[0].Timestamp != base || obs[1].Timestamp != base+60 {
		t.Fatalf("slot timestamps = %d, %d, want %d, %d", obs[0].Timestamp, obs[1].Timestamp, base, base+60)
	}

	// One full window later the first slot is reclaimed and its timestamp
	// strictly increases.
	clock.Set(base + 600)
	if err := svc.Update(ctx, "alpha", "beta"); err != nil {
		t.Fatalf("wrap-around update: %v", err)
	}
	obs, err = svc.Observations(ctx, "alpha", "beta")
	if err != nil {
		t.Fatalf("Observations: %v", err)
	}
	if obs[0].Timestamp != base+600 {
		t.Fatalf("reclaimed slot timestamp = %d, want %d", obs[0].Timestamp, base+600)
	}
}

func TestUpdateDistrustsForeignClock(t *testing.T) {
	clock := newFakeClock(base)
	var sourceTime uint64
	source := SourceFunc(func(context.Context, domain.Pair) (*uint256.Int, *uint256.Int, uint64, error) {
		return uint256.NewInt(1), uint256.NewInt(1), sourceTime, nil
	})
	svc := newTestService(t, newStaticResolver(testPair()), source, clock)
	ctx := context.Background()

	// A source timestamp landing in a different slot is replaced by the
	// service clock.
	sourceTime = base + 120
	if err := svc.Update(ctx, "alpha", "beta"); err != nil {
		t.Fatalf("update: %v", err)
	}
	obs, _ := svc.Observations(ctx, "alpha", "beta")
	if obs[0].Timestamp != base {
		t.Fatalf("recorded timestamp = %d, want service clock %d", obs[0].Timestamp, base)
	}

	// A source timestamp within the same slot is kept.
	clock.Set(base + 60)
	sourceTime = base + 90
	if err := svc.Update(ctx, "alpha", "beta"); err != nil {
		t.Fatalf("update: %v", err)
	}
	obs, _ = svc.Observations(ctx, "alpha", "beta")
	if obs[1].Timestamp != base+90 {
		t.Fatalf("recorded timestamp = %d, want source clock %d", obs[1].Timestamp, base+90)
	}
}

func TestConsultInsufficientHistory(t *testing.T) {
	clock := newFakeClock(base)
	svc := newTestService(t, newStaticResolver(testPair()), NewSimulatedSource(), clock)

	amountOut, ok, err := svc.Consult(context.Background(), "alpha", uint256.NewInt(5), "beta")
	if err != nil {
		t.Fatalf("Consult: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a feed with no history")
	}
	if !amountOut.IsZero() {
		t.Fatalf("amountOut = %s, want 0", amountOut.Dec())
	}
}

func TestConsultUnknownPair(t *testing.T) {
	clock := newFakeClock(base)
	svc := newTestService(t, newStaticResolver(testPair()), NewSimulatedSource(), clock)

	if _, _, err := svc.Consult(context.Background(), "alpha", uint256.NewInt(1), "gamma"); err == nil {
		t.Fatal("expected error for unregistered pair")
	}
	if _, _, err := svc.Consult(context.Background(), "alpha", uint256.NewInt(1), "alpha"); err == nil {
		t.Fatal("expected error for identical tokens")
	}
}

// Fills a full window at a 2:1 spot price and consults both directions.
func TestConsultFullWindow(t *testing.T) {
	clock := newFakeClock(base)
	source := NewSimulatedSource()
	source.now = clock.Now
	if err := source.SetReserves("feed-1", 1, 2); err != nil {
		t.Fatalf("SetReserves: %v", err)
	}

	svc := newTestService(t, newStaticResolver(testPair()), source, clock)
	ctx := context.Background()

	for i := uint64(0); i < 10; i++ {
		clock.Set(base + 60*i)
		if err := svc.Update(ctx, "alpha", "beta"); err != nil {
			t.Fatalf("update at +%ds: %v", 60*i, err)
		}
	}

	clock.Set(base + 600)

	// token0 -> token1 at price 2.
	amountOut, ok, err := svc.Consult(ctx, "alpha", uint256.NewInt(3), "beta")
	if err != nil {
		t.Fatalf("Consult alpha->beta: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true with a full window of observations")
	}
	if amountOut.Uint64() != 6 {
		t.Fatalf("amountOut = %s, want 6", amountOut.Dec())
	}

	// token1 -> token0 at price 0.5.
	amountOut, ok, err = svc.Consult(ctx, "beta", uint256.NewInt(4), "alpha")
	if err != nil {
		t.Fatalf("Consult beta->alpha: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true with a full window of observations")
	}
	if amountOut.Uint64() != 2 {
		t.Fatalf("amountOut = %s, want 2", amountOut.Dec())
	}

	// A nil amount consults as zero.
	amountOut, ok, err = svc.Consult(ctx, "alpha", nil, "beta")
	if err != nil || !ok {
		t.Fatalf("Consult with nil amount: ok=%v err=%v", ok, err)
	}
	if !amountOut.IsZero() {
		t.Fatalf("amountOut = %s, want 0", amountOut.Dec())
	}

	// Once updates stop, the window goes stale.
	clock.Set(base + 600 + 700)
	_, ok, err = svc.Consult(ctx, "alpha", uint256.NewInt(3), "beta")
	if err != nil {
		t.Fatalf("Consult after gap: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false after the window went stale")
	}
}

// A price change mid-window shifts the average toward the newer price in
// proportion to the time spent there.
func TestConsultAveragesPriceChange(t *testing.T) {
	clock := newFakeClock(base)
	source := NewSimulatedSource()
	source.now = clock.Now
	if err := source.SetReserves("feed-1", 1, 2); err != nil {
		t.Fatalf("SetReserves: %v", err)
	}

	svc := newTestService(t, newStaticResolver(testPair()), source, clock)
	ctx := context.Background()

	for i := uint64(0); i < 10; i++ {
		if 60*i == 360 {
			// Reprice halfway through the eventual averaging interval.
			clock.Set(base + 330)
			if err := source.SetReserves("feed-1", 1, 4); err != nil {
				t.Fatalf("SetReserves: %v", err)
			}
		}
		clock.Set(base + 60*i)
		if err := svc.Update(ctx, "alpha", "beta"); err != nil {
			t.Fatalf("update at +%ds: %v", 60*i, err)
		}
	}

	clock.Set(base + 600)

	// Oldest in-window observation is at +60s. Price 2 for 270s then price 4
	// for 270s averages to exactly 3, so 9 in buys 27 out.
	amountOut, ok, err := svc.Consult(ctx, "alpha", uint256.NewInt(9), "beta")
	if err != nil {
		t.Fatalf("Consult: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if amountOut.Uint64() != 27 {
		t.Fatalf("amountOut = %s, want 27", amountOut.Dec())
	}
}

func TestBatchUpdateValidation(t *testing.T) {
	clock := newFakeClock(base)
	svc := newTestService(t, newStaticResolver(testPair()), NewSimulatedSource(), clock)
	ctx := context.Background()

	if _, err := svc.BatchUpdate(ctx, nil, nil); err != ErrInvalidBatch {
		t.Fatalf("empty batch error = %v, want ErrInvalidBatch", err)
	}
	if _, err := svc.BatchUpdate(ctx, []string{"alpha"}, []string{"beta", "gamma"}); err != ErrInvalidBatch {
		t.Fatalf("mismatched batch error = %v, want ErrInvalidBatch", err)
	}

	// A rejected batch must not have touched any feed.
	obs, err := svc.Observations(ctx, "alpha", "beta")
	if err != nil {
		t.Fatalf("Observations: %v", err)
	}
	if len(obs) != 0 {
		t.Fatalf("feed initialized by rejected batch, ring length %d", len(obs))
	}
}

func TestBatchUpdatePartialFailure(t *testing.T) {
	clock := newFakeClock(base)
	svc := newTestService(t, newStaticResolver(testPair()), NewSimulatedSource(), clock)
	ctx := context.Background()

	results, err := svc.BatchUpdate(ctx, []string{"alpha", "alpha"}, []string{"beta", "gamma"})
	if err != nil {
		t.Fatalf("BatchUpdate: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results length = %d, want 2", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("registered pair failed: %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Fatal("expected error for unregistered pair")
	}

	// The registered pair was still updated despite its neighbour failing.
	timestamps, ok := svc.LastUpdateTimestamps(ctx, []string{"alpha"}, []string{"beta"})
	if !ok || timestamps[0] != base {
		t.Fatalf("timestamps = %v ok = %v, want [%d] true", timestamps, ok, base)
	}
}

func TestLastUpdateTimestamps(t *testing.T) {
	clock := newFakeClock(base)
	svc := newTestService(t, newStaticResolver(testPair()), NewSimulatedSource(), clock)
	ctx := context.Background()

	if timestamps, ok := svc.LastUpdateTimestamps(ctx, nil, nil); ok || timestamps != nil {
		t.Fatalf("empty query = %v, %v, want nil, false", timestamps, ok)
	}
	if _, ok := svc.LastUpdateTimestamps(ctx, []string{"alpha"}, []string{"beta", "gamma"}); ok {
		t.Fatal("mismatched query must report ok=false")
	}

	if err := svc.Update(ctx, "alpha", "beta"); err != nil {
		t.Fatalf("update: %v", err)
	}

	timestamps, ok := svc.LastUpdateTimestamps(ctx,
		[]string{"alpha", "alpha"}, []string{"beta", "gamma"})
	if !ok {
		t.Fatal("expected ok=true")
	}
	if timestamps[0] != base {
		t.Fatalf("timestamps[0] = %d, want %d", timestamps[0], base)
	}
	if timestamps[1] != 0 {
		t.Fatalf("timestamps[1] = %d, want 0 for unresolvable pair", timestamps[1])
	}
}
