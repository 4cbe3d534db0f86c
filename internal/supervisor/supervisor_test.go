package supervisor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitpulse/internal/config"
	"transitpulse/internal/types"
)

// --- Test Doubles ---

// world is a mutable system fixture the supervisor's probes observe and its
// callbacks count against.
type world struct {
	trackerState types.TrackerState
	lastFixAt    time.Time
	hasFix       bool
	tripActive   bool
	feedStatus   types.FeedStatus
	walkSource   types.WalkSource
	plan         types.TripPlan
	hasPlan      bool
	tasks        []types.LegTask

	restarts  int
	refreshes int
	replans   int
	rebuilds  int

	restartErr error
}

func (w *world) probes() Probes {
	return Probes{
		TrackerState: func() types.TrackerState { return w.trackerState },
		LastFixAt:    func() (time.Time, bool) { return w.lastFixAt, w.hasFix },
		TripActive:   func() bool { return w.tripActive },
		FeedStatus:   func() types.FeedStatus { return w.feedStatus },
		WalkSource:   func() types.WalkSource { return w.walkSource },
		Plan:         func() (types.TripPlan, bool) { return w.plan, w.hasPlan },
		Tasks:        func() []types.LegTask { return w.tasks },
	}
}

func (w *world) callbacks() Callbacks {
	return Callbacks{
		RestartTracker: func(context.Context) error { w.restarts++; return w.restartErr },
		RefreshFeed:    func(context.Context) error { w.refreshes++; return nil },
		Replan:         func(context.Context) error { w.replans++; return nil },
		RebuildTasks:   func(context.Context) error { w.rebuilds++; return nil },
	}
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func supervisorTestConfig() config.SupervisorConfig {
	return config.SupervisorConfig{
		AuditInterval:  3 * time.Second,
		FeedStaleAfter: 20 * time.Second,
		MaxErrorLog:    50,
		MaxWarningLog:  50,
		MaxFixHistory:  20,
	}
}

// healthyWorld returns a fixture that should pass every check.
func healthyWorld(clock *testClock) *world {
	return &world{
		trackerState: types.TrackerTracking,
		lastFixAt:    clock.now,
		hasFix:       true,
		tripActive:   true,
		feedStatus:   types.FeedStatus{Polling: true, LastUpdate: clock.now},
		walkSource:   types.WalkSourcePrecise,
		plan: types.TripPlan{
			ID:     "plan-1",
			Status: types.PlanValid,
			Legs:   []types.TripLeg{{RouteID: "Red", FromStopID: "70075", ToStopID: "70068"}},
		},
		hasPlan: true,
		tasks:   []types.LegTask{{PlanID: "plan-1", LegIndex: 0, Description: "ride the Red Line"}},
	}
}

func newTestSupervisor(w *world, clock *testClock) *Supervisor {
	ids := 0
	return New(Config{
		Supervisor: supervisorTestConfig(),
		Tracker:    config.TrackerConfig{StaleAfter: 10 * time.Second},
		Probes:     w.probes(),
		Callbacks:  w.callbacks(),
		NowFn:      clock.Now,
		NewID:      func() string { ids++; return fmt.Sprintf("entry-%d", ids) },
	})
}

// --- Tests ---

func TestSupervisor_HealthySystemTriggersNoActions(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}
	w := healthyWorld(clock)
	s := newTestSupervisor(w, clock)

	s.Audit(context.Background())

	assert.Zero(t, w.restarts)
	assert.Zero(t, w.refreshes)
	assert.Zero(t, w.replans)
	assert.Zero(t, w.rebuilds)

	state := s.State()
	assert.Empty(t, state.AutoFixHistory)
	assert.True(t, state.Health[types.ComponentTracker])
	assert.True(t, state.Health[types.ComponentFeed])
	assert.True(t, state.Health[types.ComponentPlanner])
	assert.True(t, state.Health[types.ComponentWalking])
	assert.Equal(t, int64(1), state.AuditCount)
}

func TestSupervisor_StaleFixRestartsOncePerAuditCycle(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}
	w := healthyWorld(clock)
	s := newTestSupervisor(w, clock)

	// The fix ages past the stale threshold while a trip is active.
	clock.Advance(11 * time.Second)
	w.feedStatus.LastUpdate = clock.now

	s.Audit(context.Background())
	assert.Equal(t, 1, w.restarts, "one restart for the first audit")

	s.Audit(context.Background())
	s.Audit(context.Background())
	assert.Equal(t, 3, w.restarts, "exactly one restart per audit cycle until recovery")

	// A fresh fix ends the corrections.
	w.lastFixAt = clock.now
	s.Audit(context.Background())
	assert.Equal(t, 3, w.restarts)
	assert.True(t, s.State().Health[types.ComponentTracker])
}

func TestSupervisor_StaleStateAndStaleFixShareOneRestart(t *testing.T) {
	clock := &testClock{now: time.Now()}
	w := healthyWorld(clock)
	w.trackerState = types.TrackerStale
	clock.Advance(time.Minute)
	w.feedStatus.LastUpdate = clock.now
	s := newTestSupervisor(w, clock)

	s.Audit(context.Background())
	assert.Equal(t, 1, w.restarts, "the active and fresh checks must not double-restart")
}

func TestSupervisor_NoTrackerCorrectionWithoutActiveTrip(t *testing.T) {
	clock := &testClock{now: time.Now()}
	w := healthyWorld(clock)
	w.tripActive = false
	w.trackerState = types.TrackerStopped
	s := newTestSupervisor(w, clock)

	s.Audit(context.Background())
	assert.Zero(t, w.restarts)
	assert.True(t, s.State().Health[types.ComponentTracker])
}

func TestSupervisor_DeniedIsReportedOnceAndNeverRetried(t *testing.T) {
	clock := &testClock{now: time.Now()}
	w := healthyWorld(clock)
	w.trackerState = types.TrackerDenied
	s := newTestSupervisor(w, clock)

	for i := 0; i < 5; i++ {
		s.Audit(context.Background())
	}

	state := s.State()
	assert.Zero(t, w.restarts, "denial is terminal; no restart loop")
	assert.False(t, state.Health[types.ComponentTracker])

	var denials int
	for _, e := range state.Errors {
		if e.Component == types.ComponentTracker {
			denials++
		}
	}
	assert.Equal(t, 1, denials, "the denial is surfaced once, not per cycle")
}

func TestSupervisor_StaleFeedForcesRefresh(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}
	w := healthyWorld(clock)
	s := newTestSupervisor(w, clock)

	clock.Advance(25 * time.Second)
	w.lastFixAt = clock.now // keep the tracker healthy

	s.Audit(context.Background())
	assert.Equal(t, 1, w.refreshes)
	assert.False(t, s.State().Health[types.ComponentFeed])

	require.NotEmpty(t, s.State().AutoFixHistory)
	fix := s.State().AutoFixHistory[0]
	assert.Equal(t, "feed", fix.Category)
	assert.True(t, fix.Success)
}

func TestSupervisor_FeedNotStaleWhenNotPolling(t *testing.T) {
	clock := &testClock{now: time.Now()}
	w := healthyWorld(clock)
	w.feedStatus = types.FeedStatus{Polling: false, LastUpdate: clock.now.Add(-time.Hour)}
	s := newTestSupervisor(w, clock)

	s.Audit(context.Background())
	assert.Zero(t, w.refreshes)
}

func TestSupervisor_InvalidPlanTriggersReplan(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*types.TripPlan)
	}{
		{"error status", func(p *types.TripPlan) { p.Status = types.PlanError; p.Legs = nil }},
		{"empty legs", func(p *types.TripPlan) { p.Legs = nil }},
		{"missing route id", func(p *types.TripPlan) { p.Legs[0].RouteID = "" }},
		{"missing stop id", func(p *types.TripPlan) { p.Legs[0].ToStopID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := &testClock{now: time.Now()}
			w := healthyWorld(clock)
			tc.mutate(&w.plan)
			w.tasks = nil
			s := newTestSupervisor(w, clock)

			s.Audit(context.Background())
			assert.Equal(t, 1, w.replans)
			assert.False(t, s.State().Health[types.ComponentPlanner])
		})
	}
}

func TestSupervisor_OrphanedTasksAreRebuilt(t *testing.T) {
	clock := &testClock{now: time.Now()}
	w := healthyWorld(clock)
	w.tasks = append(w.tasks, types.LegTask{PlanID: "plan-0", LegIndex: 1, Completed: true})
	s := newTestSupervisor(w, clock)

	s.Audit(context.Background())
	assert.Equal(t, 1, w.rebuilds)

	require.NotEmpty(t, s.State().AutoFixHistory)
	assert.Equal(t, "tasks", s.State().AutoFixHistory[0].Category)
}

func TestSupervisor_CoverageWarningsFireOnTransitionOnly(t *testing.T) {
	clock := &testClock{now: time.Now()}
	w := healthyWorld(clock)
	w.feedStatus.LowCoverage = true
	s := newTestSupervisor(w, clock)

	s.Audit(context.Background())
	s.Audit(context.Background())
	s.Audit(context.Background())

	var coverage int
	for _, e := range s.State().Warnings {
		if e.Component == types.ComponentFeed {
			coverage++
		}
	}
	assert.Equal(t, 1, coverage, "a persistent flag warns once, not per cycle")
}

func TestSupervisor_HeuristicWalkingDegradationIsWarned(t *testing.T) {
	clock := &testClock{now: time.Now()}
	w := healthyWorld(clock)
	w.walkSource = types.WalkSourceHeuristic
	s := newTestSupervisor(w, clock)

	s.Audit(context.Background())
	assert.False(t, s.State().Health[types.ComponentWalking])
	require.NotEmpty(t, s.State().Warnings)
	assert.Contains(t, s.State().Warnings[0].Message, "heuristic")
}

func TestSupervisor_FailedCorrectionIsRecorded(t *testing.T) {
	clock := &testClock{now: time.Now()}
	w := healthyWorld(clock)
	w.trackerState = types.TrackerStale
	w.restartErr = errors.New("watch failed to start")
	s := newTestSupervisor(w, clock)

	s.Audit(context.Background())

	state := s.State()
	require.NotEmpty(t, state.AutoFixHistory)
	assert.False(t, state.AutoFixHistory[0].Success)
	require.NotEmpty(t, state.Errors)
	assert.Contains(t, state.Errors[0].Message, "corrective action failed")
}

func TestSupervisor_BoundedLogsEvictOldestFirst(t *testing.T) {
	clock := &testClock{now: time.Now()}
	w := healthyWorld(clock)
	w.trackerState = types.TrackerStale
	w.restartErr = errors.New("watch failed to start")
	s := newTestSupervisor(w, clock)

	// Every audit produces one failed fix and one error entry. Run far past
	// every bound.
	for i := 0; i < 200; i++ {
		s.Audit(context.Background())
	}

	state := s.State()
	assert.Len(t, state.AutoFixHistory, 20)
	assert.Len(t, state.Errors, 50)
	assert.LessOrEqual(t, len(state.Warnings), 50)
	assert.Equal(t, int64(200), state.AuditCount)

	// Oldest-first eviction: the surviving entries are the most recent ones.
	assert.Equal(t, "entry-399", state.AutoFixHistory[19].ID)
	assert.Equal(t, "entry-400", state.Errors[49].ID)
}

func TestSupervisor_StartStopLoop(t *testing.T) {
	clock := &testClock{now: time.Now()}
	w := healthyWorld(clock)
	s := New(Config{
		Supervisor: config.SupervisorConfig{
			AuditInterval:  5 * time.Millisecond,
			FeedStaleAfter: 20 * time.Second,
			MaxErrorLog:    50,
			MaxWarningLog:  50,
			MaxFixHistory:  20,
		},
		Tracker:   config.TrackerConfig{StaleAfter: 10 * time.Second},
		Probes:    w.probes(),
		Callbacks: w.callbacks(),
		NowFn:     clock.Now,
	})

	s.Start(context.Background())
	assert.Eventually(t, func() bool {
		return s.State().AuditCount >= 2
	}, time.Second, time.Millisecond)

	s.Stop()
	after := s.State().AuditCount
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, s.State().AuditCount, "no audits after Stop returns")
}
