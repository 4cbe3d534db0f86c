// Package feed polls the transit data provider for live vehicle positions
// and arrival/departure predictions, managing an adaptive poll interval with
// failure backoff. The snapshot it owns is replaced wholesale on each
// successful poll; consumers always observe a complete prior or complete new
// snapshot, except that a partial poll failure preserves the half that did
// succeed.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"transitpulse/internal/config"
	"transitpulse/internal/types"
)

// TransitAPI abstracts the live endpoints of the transit provider the feed
// consumes.
type TransitAPI interface {
	Vehicles(ctx context.Context, routeIDs []string) ([]types.Vehicle, error)
	Predictions(ctx context.Context, stopIDs, routeIDs []string) ([]types.Prediction, error)
	Schedules(ctx context.Context, stopIDs, routeIDs []string, minTime, maxTime time.Time) ([]types.Prediction, error)
}

// Feed owns the live transit snapshot and its polling loop.
type Feed struct {
	api    TransitAPI
	cfg    config.TransitConfig
	logger *slog.Logger
	nowFn  func() time.Time

	mu                  sync.Mutex
	snapshot            types.TransitSnapshot
	lastUpdate          time.Time
	polling             bool
	stopped             bool
	consecutiveFailures int
	emptyVehicleCycles  int
	lowCoverage         bool
	routeIDs            []string
	stopIDs             []string
	cancel              context.CancelFunc
	done                chan struct{}
}

// Config holds the dependencies for creating a Feed.
type Config struct {
	API     TransitAPI
	Transit config.TransitConfig
	Logger  *slog.Logger
	NowFn   func() time.Time // defaults to time.Now
}

// New creates a Feed. It does not begin polling; call StartPolling.
func New(cfg Config) *Feed {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Feed{
		api:    cfg.API,
		cfg:    cfg.Transit,
		logger: logger,
		nowFn:  nowFn,
	}
}

// StartPolling begins the poll loop for the given routes and stops. Starting
// an already-polling feed replaces its route/stop set and is otherwise a
// no-op.
func (f *Feed) StartPolling(ctx context.Context, routeIDs, stopIDs []string) {
	f.mu.Lock()
	f.stopped = false
	f.routeIDs = append([]string(nil), routeIDs...)
	f.stopIDs = append([]string(nil), stopIDs...)
	if f.polling {
		f.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	f.polling = true
	f.cancel = cancel
	f.done = make(chan struct{})
	done := f.done
	f.mu.Unlock()

	go f.run(loopCtx, done)
}

// StopPolling halts the poll loop. After StopPolling returns, no further
// snapshot mutation occurs; a poll still in flight discards its results.
func (f *Feed) StopPolling() {
	f.mu.Lock()
	f.stopped = true
	if !f.polling {
		f.mu.Unlock()
		return
	}
	f.polling = false
	cancel := f.cancel
	done := f.done
	f.cancel = nil
	f.done = nil
	f.mu.Unlock()

	cancel()
	<-done
}

// Refresh forces an immediate poll, bypassing the interval timer. Used by
// the supervisor when the snapshot goes stale. Safe to call concurrently
// with the poll loop; a refresh that loses a race with StopPolling is
// discarded rather than reviving the stopped feed.
func (f *Feed) Refresh(ctx context.Context) error {
	return f.pollOnce(ctx)
}

// Snapshot returns a copy of the latest snapshot and the feed status bundle.
func (f *Feed) Snapshot() (types.TransitSnapshot, types.FeedStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := types.TransitSnapshot{
		Vehicles:    append([]types.Vehicle(nil), f.snapshot.Vehicles...),
		Predictions: append([]types.Prediction(nil), f.snapshot.Predictions...),
	}
	status := types.FeedStatus{
		Polling:             f.polling,
		LowCoverage:         f.lowCoverage,
		StalePredictions:    f.stalePredictionsLocked(),
		LastUpdate:          f.lastUpdate,
		ConsecutiveFailures: f.consecutiveFailures,
	}
	return snap, status
}

// Status returns only the status bundle.
func (f *Feed) Status() types.FeedStatus {
	_, status := f.Snapshot()
	return status
}

// run is the poll loop. The interval is re-evaluated after every cycle so a
// failure streak backs off and the next success restores the base cadence.
func (f *Feed) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	if err := f.pollOnce(ctx); err != nil {
		f.logger.WarnContext(ctx, "initial poll failed", "error", err)
	}

	timer := time.NewTimer(f.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := f.pollOnce(ctx); err != nil {
				f.logger.WarnContext(ctx, "poll cycle failed", "error", err)
			}
			timer.Reset(f.interval())
		}
	}
}

// interval returns the current poll cadence: the base interval, or the
// longer backoff interval once the failure threshold is reached, to avoid
// hammering a degraded endpoint.
func (f *Feed) interval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consecutiveFailures >= f.cfg.FailureThreshold {
		return f.cfg.BackoffInterval
	}
	return f.cfg.PollInterval
}

// pollOnce fetches vehicles-by-route and predictions-by-stop concurrently
// and applies the results. Partial failures are reported independently: a
// poll that fails for predictions but succeeds for vehicles still updates
// the vehicle half of the snapshot.
func (f *Feed) pollOnce(ctx context.Context) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	routeIDs := append([]string(nil), f.routeIDs...)
	stopIDs := append([]string(nil), f.stopIDs...)
	f.mu.Unlock()

	var (
		vehicles    []types.Vehicle
		predictions []types.Prediction
		vehErr      error
		predErr     error
	)

	// The halves fail independently, so no shared-cancel group context.
	var g errgroup.Group
	g.Go(func() error {
		vehicles, vehErr = f.api.Vehicles(ctx, routeIDs)
		return nil
	})
	g.Go(func() error {
		predictions, predErr = f.fetchPredictions(ctx, stopIDs, routeIDs)
		return nil
	})
	_ = g.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()

	// StopPolling may have completed while the fetch was in flight.
	if f.stopped {
		return nil
	}

	now := f.nowFn()

	if vehErr == nil {
		f.snapshot.Vehicles = vehicles
		f.lastUpdate = now
		f.trackCoverageLocked(len(vehicles))
	}
	if predErr == nil {
		f.snapshot.Predictions = predictions
		f.lastUpdate = now
	}

	if vehErr != nil || predErr != nil {
		f.consecutiveFailures++
		f.logger.Warn("transit poll reported failures",
			"vehicles_error", vehErr,
			"predictions_error", predErr,
			"consecutive_failures", f.consecutiveFailures,
		)
		if vehErr != nil {
			return vehErr
		}
		return predErr
	}

	if f.consecutiveFailures > 0 {
		f.logger.Info("transit poll recovered, restoring base interval",
			"previous_failures", f.consecutiveFailures,
		)
	}
	f.consecutiveFailures = 0
	return nil
}

// fetchPredictions fetches live predictions, falling back to static
// schedules when the provider returns none. The fallback is explicit and
// logged, never silent.
func (f *Feed) fetchPredictions(ctx context.Context, stopIDs, routeIDs []string) ([]types.Prediction, error) {
	predictions, err := f.api.Predictions(ctx, stopIDs, routeIDs)
	if err != nil {
		return nil, err
	}
	if len(predictions) > 0 {
		return predictions, nil
	}

	now := f.nowFn()
	f.logger.Info("no live predictions, falling back to schedules",
		"stops", len(stopIDs),
		"window", f.cfg.ScheduleWindow,
	)
	schedules, err := f.api.Schedules(ctx, stopIDs, routeIDs, now, now.Add(f.cfg.ScheduleWindow))
	if err != nil {
		// The prediction fetch itself succeeded (empty); a schedule
		// failure degrades to an empty prediction set rather than a
		// feed-level failure.
		f.logger.Warn("schedule fallback failed", "error", err)
		return []types.Prediction{}, nil
	}
	return schedules, nil
}

// trackCoverageLocked maintains the low-coverage flag: zero vehicles for a
// threshold number of consecutive successful cycles raises it. Informational
// only; absence of vehicles can be legitimate off-peak.
func (f *Feed) trackCoverageLocked(vehicleCount int) {
	if vehicleCount == 0 {
		f.emptyVehicleCycles++
		if f.emptyVehicleCycles >= f.cfg.EmptyVehicleCycles {
			if !f.lowCoverage {
				f.logger.Info("raising low-coverage flag",
					"empty_cycles", f.emptyVehicleCycles,
				)
			}
			f.lowCoverage = true
		}
		return
	}
	f.emptyVehicleCycles = 0
	f.lowCoverage = false
}

// stalePredictionsLocked reports whether the freshest prediction timestamp
// is older than the staleness threshold relative to now.
func (f *Feed) stalePredictionsLocked() bool {
	var freshest time.Time
	for _, p := range f.snapshot.Predictions {
		if p.ArrivalTime != nil && p.ArrivalTime.After(freshest) {
			freshest = *p.ArrivalTime
		}
		if p.DepartureTime != nil && p.DepartureTime.After(freshest) {
			freshest = *p.DepartureTime
		}
	}
	if freshest.IsZero() {
		return false
	}
	return f.nowFn().Sub(freshest) > f.cfg.PredictionStaleAfter
}
