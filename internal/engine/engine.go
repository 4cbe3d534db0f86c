// Package engine is the facade over the tracking, feed, walking, transfer,
// planning, and supervision components. It owns the active destination and
// trip plan, republishes each component's read-only values, and accepts the
// high-level commands the surrounding application issues: start/stop
// tracking, set/clear destination.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"transitpulse/internal/config"
	"transitpulse/internal/feed"
	"transitpulse/internal/planner"
	"transitpulse/internal/supervisor"
	"transitpulse/internal/tracker"
	"transitpulse/internal/transfer"
	"transitpulse/internal/types"
	"transitpulse/internal/walking"
)

// Engine wires the components together and owns the plan lifecycle.
type Engine struct {
	cfg     config.EngineConfig
	tracker *tracker.Tracker
	feed    *feed.Feed
	walker  *walking.Estimator
	eval    *transfer.Evaluator
	planner *planner.Planner
	catalog *planner.Catalog
	sup     *supervisor.Supervisor
	logger  *slog.Logger
	nowFn   func() time.Time

	mu          sync.Mutex
	destination *types.Stop
	plan        *types.TripPlan
	tasks       []types.LegTask
	evalCancel  context.CancelFunc
	evalDone    chan struct{}
}

// Config holds the components the engine coordinates. The supervisor is
// constructed by the engine itself because its probes observe engine-owned
// state (active trip, plan, tasks).
type Config struct {
	Engine     config.EngineConfig
	Supervisor config.SupervisorConfig
	Tracker    config.TrackerConfig

	TrackerComponent *tracker.Tracker
	Feed             *feed.Feed
	Walker           *walking.Estimator
	Evaluator        *transfer.Evaluator
	Planner          *planner.Planner
	Catalog          *planner.Catalog

	Logger *slog.Logger
	NowFn  func() time.Time // defaults to time.Now
}

// New creates the engine and its supervisor. Call Start to begin supervision
// and StartTracking / SetDestination to begin a trip.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}

	e := &Engine{
		cfg:     cfg.Engine,
		tracker: cfg.TrackerComponent,
		feed:    cfg.Feed,
		walker:  cfg.Walker,
		eval:    cfg.Evaluator,
		planner: cfg.Planner,
		catalog: cfg.Catalog,
		logger:  logger,
		nowFn:   nowFn,
	}

	e.sup = supervisor.New(supervisor.Config{
		Supervisor: cfg.Supervisor,
		Tracker:    cfg.Tracker,
		Probes: supervisor.Probes{
			TrackerState: e.tracker.State,
			LastFixAt:    e.tracker.LastFixAt,
			TripActive:   e.TripActive,
			FeedStatus:   e.feed.Status,
			WalkSource:   e.walker.ActiveSource,
			Plan:         e.Plan,
			Tasks:        e.Tasks,
		},
		Callbacks: supervisor.Callbacks{
			RestartTracker: e.tracker.Restart,
			RefreshFeed:    e.feed.Refresh,
			Replan:         e.Replan,
			RebuildTasks:   e.RebuildTasks,
		},
		Logger: logger,
		NowFn:  nowFn,
	})
	return e
}

// Start loads the route catalog and begins supervision. Tracking and polling
// start on demand via StartTracking and SetDestination.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.catalog.Load(ctx); err != nil {
		return err
	}
	e.sup.Start(ctx)
	e.logger.InfoContext(ctx, "engine started")
	return nil
}

// Close tears everything down in dependency order: supervision first so no
// corrective action races the shutdown, then the evaluation loop, the feed,
// and finally the tracker. No timer or watch is left pending afterwards.
func (e *Engine) Close() {
	e.sup.Stop()
	e.stopEvaluationLoop()
	e.feed.StopPolling()
	e.tracker.Stop()
	e.logger.Info("engine stopped")
}

// StartTracking begins continuous position acquisition.
func (e *Engine) StartTracking(ctx context.Context) error {
	return e.tracker.Start(ctx)
}

// StopTracking ceases position acquisition. The destination and plan stay;
// clear them separately.
func (e *Engine) StopTracking() {
	e.tracker.Stop()
}

// SetDestination resolves the stop, computes the initial plan, starts feed
// polling for the plan's routes and stops, and begins periodic transfer
// re-evaluation. Setting a new destination while one is active replaces it
// wholesale.
func (e *Engine) SetDestination(ctx context.Context, stopID string) (types.TripPlan, error) {
	stop, ok := e.catalog.Stop(stopID)
	if !ok {
		return types.TripPlan{}, types.NewAppError(types.ErrCodeNotFoundStop,
			fmt.Sprintf("stop %s is not in the loaded catalog", stopID), nil)
	}

	origin, hasFix := e.tracker.Current()
	if !hasFix {
		return types.TripPlan{}, types.NewAppError(types.ErrCodeValidationMissingField,
			"no device position yet; start tracking and wait for a fix", nil)
	}

	plan, err := e.planner.Plan(ctx, origin.Coord(), stop)
	if err != nil {
		return types.TripPlan{}, err
	}

	e.mu.Lock()
	e.destination = &stop
	e.plan = &plan
	e.tasks = buildTasks(plan, nil)
	e.mu.Unlock()

	routeIDs, stopIDs := pollTargets(plan)
	e.feed.StartPolling(ctx, routeIDs, stopIDs)
	e.startEvaluationLoop(ctx)
	e.evaluateTransfer(ctx)

	e.logger.InfoContext(ctx, "destination set",
		"stop", stopID, "plan_id", plan.ID, "legs", len(plan.Legs),
	)
	return e.currentPlan(), nil
}

// ClearDestination destroys the plan and its tasks and stops feed polling
// and transfer evaluation.
func (e *Engine) ClearDestination() {
	e.stopEvaluationLoop()
	e.feed.StopPolling()

	e.mu.Lock()
	e.destination = nil
	e.plan = nil
	e.tasks = nil
	e.mu.Unlock()

	e.logger.Info("destination cleared")
}

// Replan regenerates the plan for the last known destination, preserving
// task completion. Used by the supervisor when the current plan is invalid.
func (e *Engine) Replan(ctx context.Context) error {
	e.mu.Lock()
	dest := e.destination
	oldTasks := append([]types.LegTask(nil), e.tasks...)
	if e.plan != nil {
		e.plan.Status = types.PlanRecomputing
	}
	e.mu.Unlock()

	if dest == nil {
		return nil
	}

	origin, hasFix := e.tracker.Current()
	if !hasFix {
		return types.NewAppError(types.ErrCodeValidationMissingField,
			"cannot replan without a device position", nil)
	}

	plan, err := e.planner.Plan(ctx, origin.Coord(), *dest)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.destination == nil {
		// ClearDestination won while we were planning.
		e.mu.Unlock()
		return nil
	}
	e.plan = &plan
	e.tasks = buildTasks(plan, oldTasks)
	e.mu.Unlock()

	// The new plan may ride different routes; re-scope the polling set.
	routeIDs, stopIDs := pollTargets(plan)
	e.feed.StartPolling(ctx, routeIDs, stopIDs)

	e.evaluateTransfer(ctx)
	return nil
}

// RebuildTasks regenerates leg tasks from the current plan, preserving the
// completion of tasks whose leg index survives.
func (e *Engine) RebuildTasks(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.plan == nil {
		e.tasks = nil
		return nil
	}
	e.tasks = buildTasks(*e.plan, e.tasks)
	return nil
}

// CompleteTask marks a leg task completed.
func (e *Engine) CompleteTask(legIndex int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.tasks {
		if e.tasks[i].LegIndex == legIndex {
			e.tasks[i].Completed = true
		}
	}
}

// TripActive reports whether a destination is currently set.
func (e *Engine) TripActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destination != nil
}

// Position republishes the tracker's current position and state.
func (e *Engine) Position() (types.Position, types.TrackerState, bool) {
	pos, ok := e.tracker.Current()
	return pos, e.tracker.State(), ok
}

// Snapshot republishes the feed's snapshot and status.
func (e *Engine) Snapshot() (types.TransitSnapshot, types.FeedStatus) {
	return e.feed.Snapshot()
}

// Plan returns a copy of the current plan.
func (e *Engine) Plan() (types.TripPlan, bool) {
	plan := e.currentPlan()
	return plan, plan.ID != ""
}

// Tasks returns a copy of the current leg tasks.
func (e *Engine) Tasks() []types.LegTask {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.LegTask(nil), e.tasks...)
}

// SupervisorState republishes the supervisor's state.
func (e *Engine) SupervisorState() types.SupervisorState {
	return e.sup.State()
}

// TrackerCounts exposes accepted/rejected fix totals for observability.
func (e *Engine) TrackerCounts() (accepted, rejected int64) {
	return e.tracker.Counts()
}

// TrackerState exposes the tracker state for observability.
func (e *Engine) TrackerState() types.TrackerState {
	return e.tracker.State()
}

// FeedStatus exposes the feed status for observability.
func (e *Engine) FeedStatus() types.FeedStatus {
	return e.feed.Status()
}

// WalkSource exposes the active walking provider for observability.
func (e *Engine) WalkSource() types.WalkSource {
	return e.walker.ActiveSource()
}

func (e *Engine) currentPlan() types.TripPlan {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.plan == nil {
		return types.TripPlan{}
	}
	plan := *e.plan
	plan.Legs = append([]types.TripLeg(nil), e.plan.Legs...)
	if e.plan.Transfer != nil {
		t := *e.plan.Transfer
		plan.Transfer = &t
	}
	return plan
}

// startEvaluationLoop begins periodic transfer re-evaluation. Idempotent.
func (e *Engine) startEvaluationLoop(ctx context.Context) {
	e.mu.Lock()
	if e.evalCancel != nil {
		e.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.evalCancel = cancel
	e.evalDone = make(chan struct{})
	done := e.evalDone
	e.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(e.cfg.EvaluationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				e.evaluateTransfer(loopCtx)
			}
		}
	}()
}

func (e *Engine) stopEvaluationLoop() {
	e.mu.Lock()
	cancel := e.evalCancel
	done := e.evalDone
	e.evalCancel = nil
	e.evalDone = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// evaluateTransfer rescores the connection of a two-leg plan from the latest
// snapshot and embeds the result.
func (e *Engine) evaluateTransfer(ctx context.Context) {
	e.mu.Lock()
	if e.plan == nil || len(e.plan.Legs) != 2 {
		e.mu.Unlock()
		return
	}
	leg1, leg2 := e.plan.Legs[0], e.plan.Legs[1]
	e.mu.Unlock()

	arrivalStop, ok1 := e.catalog.Stop(leg1.ToStopID)
	departureStop, ok2 := e.catalog.Stop(leg2.FromStopID)
	if !ok1 || !ok2 {
		return
	}

	eval := e.eval.Evaluate(ctx, transfer.Request{
		ArrivalStop:    arrivalStop,
		DepartureStop:  departureStop,
		ArrivalRouteID: leg1.RouteID,
		ConnectRouteID: leg2.RouteID,
	})

	e.mu.Lock()
	if e.plan != nil && len(e.plan.Legs) == 2 && e.plan.Legs[0] == leg1 {
		e.plan.Transfer = &eval
		e.plan.LastUpdated = e.nowFn()
	}
	e.mu.Unlock()
}

// pollTargets derives the feed's poll scope from the plan: the routes its
// legs ride and their boarding, transfer, and alighting stops. Polling the
// whole catalog would hammer a rate-limited provider for data nothing reads.
func pollTargets(plan types.TripPlan) (routeIDs, stopIDs []string) {
	seenRoute := make(map[string]struct{}, len(plan.Legs))
	seenStop := make(map[string]struct{}, 2*len(plan.Legs))
	for _, leg := range plan.Legs {
		if _, ok := seenRoute[leg.RouteID]; !ok && leg.RouteID != "" {
			seenRoute[leg.RouteID] = struct{}{}
			routeIDs = append(routeIDs, leg.RouteID)
		}
		for _, id := range []string{leg.FromStopID, leg.ToStopID} {
			if id == "" {
				continue
			}
			if _, ok := seenStop[id]; !ok {
				seenStop[id] = struct{}{}
				stopIDs = append(stopIDs, id)
			}
		}
	}
	return routeIDs, stopIDs
}

// buildTasks derives one checklist task per plan leg, carrying over the
// completion of matching leg indexes from the previous task set.
func buildTasks(plan types.TripPlan, previous []types.LegTask) []types.LegTask {
	completed := make(map[int]bool, len(previous))
	for _, t := range previous {
		if t.Completed {
			completed[t.LegIndex] = true
		}
	}
	tasks := make([]types.LegTask, 0, len(plan.Legs))
	for i, leg := range plan.Legs {
		tasks = append(tasks, types.LegTask{
			PlanID:      plan.ID,
			LegIndex:    i,
			Description: fmt.Sprintf("ride %s from %s to %s", leg.RouteID, leg.FromStopID, leg.ToStopID),
			Completed:   completed[i],
		})
	}
	return tasks
}
