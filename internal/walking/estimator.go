// Package walking produces walking distance/duration estimates between
// geographic points. A precise external directions provider is preferred; a
// heuristic great-circle model takes over behind a circuit breaker when the
// precise provider degrades. Results are cached by rounded coordinate pair
// with a fixed time-to-live, and the cache is safe for concurrent use.
package walking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"transitpulse/internal/config"
	"transitpulse/internal/geo"
	"transitpulse/internal/types"

	"github.com/sony/gobreaker/v2"
)

// Estimator is the walking-time estimator with provider failover. Estimate
// never fails for valid coordinate input: when the precise provider is
// unavailable or the breaker is open, the heuristic provider answers instead.
type Estimator struct {
	precise   provider
	heuristic provider
	breaker   *gobreaker.CircuitBreaker[types.WalkingEstimate]
	cacheTTL  time.Duration
	logger    *slog.Logger
	nowFn     func() time.Time

	mu    sync.Mutex
	cache map[[4]float64]types.WalkingEstimate
}

// EstimatorConfig holds the dependencies for creating an Estimator.
type EstimatorConfig struct {
	Directions DirectionsAPI
	Walking    config.WalkingConfig
	Hubs       []KnownHub // defaults to DefaultHubs when nil
	Logger     *slog.Logger

	// NowFn and SleepFn are injectable for tests; they default to time.Now
	// and time.Sleep.
	NowFn   func() time.Time
	SleepFn func(time.Duration)
}

// NewEstimator creates an Estimator with the given configuration.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	sleepFn := cfg.SleepFn
	if sleepFn == nil {
		sleepFn = time.Sleep
	}
	hubs := cfg.Hubs
	if hubs == nil {
		hubs = DefaultHubs()
	}

	breaker := gobreaker.NewCircuitBreaker[types.WalkingEstimate](gobreaker.Settings{
		Name:        "walking-precise",
		MaxRequests: 1,
		Timeout:     cfg.Walking.FallbackWindow,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Walking.BreakerThreshold
		},
		// Terminal errors (out-of-region input) are the caller's fault, not
		// provider degradation; they must not trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || types.CodeOf(err).IsTerminal()
		},
	})

	return &Estimator{
		precise: &preciseProvider{
			api:     cfg.Directions,
			cfg:     cfg.Walking,
			sleepFn: sleepFn,
			nowFn:   nowFn,
		},
		heuristic: &heuristicProvider{
			cfg:   cfg.Walking,
			hubs:  hubs,
			nowFn: nowFn,
		},
		breaker:  breaker,
		cacheTTL: cfg.Walking.CacheTTL,
		logger:   logger,
		nowFn:    nowFn,
		cache:    make(map[[4]float64]types.WalkingEstimate),
	}
}

// Estimate returns a walking estimate between origin and destination. The
// only caller-visible errors are invalid coordinates; provider failures
// resolve to a heuristic estimate with the source labeled accordingly.
//
// Estimate is idempotent within the cache TTL: repeated calls for the same
// rounded coordinate pair return the cached value without invoking either
// provider.
func (e *Estimator) Estimate(ctx context.Context, origin, destination types.LatLng) (types.WalkingEstimate, error) {
	if err := origin.Validate(); err != nil {
		return types.WalkingEstimate{}, err
	}
	if err := destination.Validate(); err != nil {
		return types.WalkingEstimate{}, err
	}

	key := geo.RoundedKey(origin, destination)
	if est, ok := e.cached(key); ok {
		return est, nil
	}

	est, err := e.breaker.Execute(func() (types.WalkingEstimate, error) {
		return e.precise.estimate(ctx, origin, destination)
	})
	if err != nil {
		e.logger.WarnContext(ctx, "precise walking provider unavailable, using heuristic",
			"error", err,
			"breaker_state", e.breaker.State().String(),
		)
		est, _ = e.heuristic.estimate(ctx, origin, destination)
	}

	e.store(key, est)
	return est, nil
}

// ActiveSource reports which provider currently answers estimates, for
// observability. The precise provider is active while the breaker is closed.
func (e *Estimator) ActiveSource() types.WalkSource {
	if e.breaker.State() == gobreaker.StateClosed {
		return types.WalkSourcePrecise
	}
	return types.WalkSourceHeuristic
}

// cached returns a cache entry if present and within TTL.
func (e *Estimator) cached(key [4]float64) (types.WalkingEstimate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	est, ok := e.cache[key]
	if !ok {
		return types.WalkingEstimate{}, false
	}
	if e.nowFn().Sub(est.ComputedAt) >= e.cacheTTL {
		delete(e.cache, key)
		return types.WalkingEstimate{}, false
	}
	return est, true
}

// store inserts or overwrites a cache entry. Entries are immutable once
// written, so concurrent read/insert cannot tear.
func (e *Estimator) store(key [4]float64, est types.WalkingEstimate) {
	e.mu.Lock()
	e.cache[key] = est
	e.mu.Unlock()
}
