// Package tracker ingests continuous device location updates, filters GPS
// glitches, and exposes the current position plus a staleness state machine:
//
//	Initializing -> Tracking -> {Stale, Denied}
//	Stale -> Tracking (on restart + new accepted fix)
//
// Staleness is detected here but corrected by the supervisor via Restart,
// keeping detection decoupled from correction.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"transitpulse/internal/config"
	"transitpulse/internal/geo"
	"transitpulse/internal/types"
)

// WatchOptions tune the device location service's delivery cadence and the
// accuracy/power tradeoff.
type WatchOptions struct {
	MinInterval       time.Duration
	MinDistanceMeters float64
	HighAccuracy      bool
}

// WatchCallbacks receive continuous position updates and acquisition errors
// from the device location service.
type WatchCallbacks struct {
	OnFix   func(types.Position)
	OnError func(error)
}

// LocationSource abstracts the device location service. Watch begins
// continuous delivery and returns a cancel function; after cancel returns, no
// further callbacks are invoked. Permission denial is reported as an AppError
// with code permission_location_denied, either synchronously or via OnError.
type LocationSource interface {
	Watch(ctx context.Context, opts WatchOptions, cb WatchCallbacks) (cancel func(), err error)
}

// Tracker owns the device position state. All mutation happens on accepted
// fixes; accessors return copies.
type Tracker struct {
	source LocationSource
	cfg    config.TrackerConfig
	logger *slog.Logger
	nowFn  func() time.Time

	mu          sync.Mutex
	state       types.TrackerState
	watchID     uint64
	cancelWatch func()
	current     *types.Position
	accuracies  []float64
	accepted    int64
	rejected    int64
}

// Config holds the dependencies for creating a Tracker.
type Config struct {
	Source  LocationSource
	Tracker config.TrackerConfig
	Logger  *slog.Logger
	NowFn   func() time.Time // defaults to time.Now
}

// New creates a Tracker. It does not begin acquisition; call Start.
func New(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Tracker{
		source: cfg.Source,
		cfg:    cfg.Tracker,
		logger: logger,
		nowFn:  nowFn,
		state:  types.TrackerStopped,
	}
}

// Start begins continuous position acquisition. Starting an already-tracking
// tracker is a no-op. Permission denial is terminal: once denied, Start
// returns the permission error without retrying.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.state == types.TrackerDenied {
		t.mu.Unlock()
		return types.NewAppError(types.ErrCodePermissionLocationDenied,
			"location permission was denied", nil)
	}
	if t.cancelWatch != nil {
		t.mu.Unlock()
		return nil
	}
	t.watchID++
	id := t.watchID
	t.state = types.TrackerInitializing
	t.mu.Unlock()

	cancel, err := t.source.Watch(ctx, WatchOptions{
		MinInterval:       t.cfg.MinUpdateInterval,
		MinDistanceMeters: t.cfg.MinUpdateMeters,
		HighAccuracy:      t.cfg.HighAccuracy,
	}, WatchCallbacks{
		OnFix:   func(p types.Position) { t.onFix(id, p) },
		OnError: func(err error) { t.onError(id, err) },
	})
	if err != nil {
		t.mu.Lock()
		if types.CodeOf(err) == types.ErrCodePermissionLocationDenied {
			t.state = types.TrackerDenied
		} else {
			t.state = types.TrackerStale
		}
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.cancelWatch = cancel
	t.mu.Unlock()
	return nil
}

// Stop ceases acquisition. After Stop returns, no further state mutation
// occurs: late callbacks from the cancelled watch are discarded by watch ID.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancelWatch
	t.cancelWatch = nil
	t.watchID++ // invalidate in-flight callbacks
	t.state = types.TrackerStopped
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Restart force-cycles acquisition. Used by the supervisor to recover from
// the Stale state; restarting an already-tracking tracker is a no-op beyond
// resetting the watch. The Denied state remains terminal.
func (t *Tracker) Restart(ctx context.Context) error {
	t.mu.Lock()
	if t.state == types.TrackerDenied {
		t.mu.Unlock()
		return types.NewAppError(types.ErrCodePermissionLocationDenied,
			"location permission was denied", nil)
	}
	cancel := t.cancelWatch
	t.cancelWatch = nil
	t.watchID++
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return t.Start(ctx)
}

// Current returns the last accepted position, if any.
func (t *Tracker) Current() (types.Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return types.Position{}, false
	}
	return *t.current, true
}

// LastFixAt returns the capture time of the last accepted fix.
func (t *Tracker) LastFixAt() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return time.Time{}, false
	}
	return t.current.CapturedAt, true
}

// State returns the tracker state, transitioning Tracking to Stale when no
// accepted fix arrived within the stale threshold.
func (t *Tracker) State() types.TrackerState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == types.TrackerTracking && t.current != nil &&
		t.nowFn().Sub(t.current.CapturedAt) > t.cfg.StaleAfter {
		t.state = types.TrackerStale
		t.logger.Warn("position tracking went stale",
			"last_fix_at", t.current.CapturedAt,
			"stale_after", t.cfg.StaleAfter,
		)
	}
	return t.state
}

// AverageAccuracy returns the moving average over the last N accuracy
// samples. Diagnostics only; it plays no role in fix acceptance.
func (t *Tracker) AverageAccuracy() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.accuracies) == 0 {
		return 0
	}
	var sum float64
	for _, a := range t.accuracies {
		sum += a
	}
	return sum / float64(len(t.accuracies))
}

// Counts returns the accepted and rejected fix totals.
func (t *Tracker) Counts() (accepted, rejected int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accepted, t.rejected
}

// onFix applies the acceptance filter to an incoming fix.
//
// A fix is discarded as a GPS glitch only when all three hold: it jumped
// farther than the max-jump threshold, in less than the min-jump interval,
// while reporting accuracy better than the poor-accuracy threshold. Fixes
// with poor accuracy are always accepted: a large reported error radius makes
// a big jump a legitimate correction, not a glitch.
func (t *Tracker) onFix(watchID uint64, p types.Position) {
	if err := p.Validate(); err != nil {
		t.logger.Warn("discarding fix with invalid coordinates", "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if watchID != t.watchID || t.cancelWatch == nil {
		// Late delivery from a cancelled watch.
		return
	}

	if t.current != nil && p.AccuracyMeters < t.cfg.PoorAccuracyMeters {
		jump := geo.Distance(t.current.Coord(), p.Coord())
		elapsed := p.CapturedAt.Sub(t.current.CapturedAt)
		if jump > t.cfg.MaxJumpDistanceMeters && elapsed < t.cfg.MinJumpInterval {
			t.rejected++
			t.logger.Warn("rejected GPS glitch",
				"jump_meters", jump,
				"elapsed", elapsed,
				"accuracy_meters", p.AccuracyMeters,
			)
			return
		}
	}

	fix := p
	t.current = &fix
	t.accepted++
	t.state = types.TrackerTracking
	t.pushAccuracy(p.AccuracyMeters)
}

// onError handles acquisition errors from the location source. Permission
// denial is terminal; transient errors (timeout, position unavailable) move
// to Stale and rely on a supervisor-triggered restart.
func (t *Tracker) onError(watchID uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if watchID != t.watchID || t.cancelWatch == nil {
		return
	}

	if types.CodeOf(err) == types.ErrCodePermissionLocationDenied {
		t.state = types.TrackerDenied
		t.logger.Error("location permission denied; tracking is terminal", "error", err)
		return
	}

	t.state = types.TrackerStale
	t.logger.Warn("transient location acquisition error", "error", err)
}

// pushAccuracy maintains the bounded moving-average window.
func (t *Tracker) pushAccuracy(v float64) {
	t.accuracies = append(t.accuracies, v)
	if len(t.accuracies) > t.cfg.AccuracyWindow {
		t.accuracies = t.accuracies[1:]
	}
}
