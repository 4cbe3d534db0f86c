// Package supervisor runs the periodic health audit: it observes the other
// components through read-only probes, issues corrective actions through
// their public restart/refresh contracts, and keeps a bounded diagnostic
// history of everything it saw and fixed.
//
// The supervisor never reaches into another component's state. Detection is
// probe-based, correction is callback-based, and both sides stay idempotent
// so an audit firing concurrently with normal operation is harmless.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"transitpulse/internal/config"
	"transitpulse/internal/types"
)

// Probes are the read-only observations an audit runs against.
type Probes struct {
	TrackerState func() types.TrackerState
	LastFixAt    func() (time.Time, bool)
	TripActive   func() bool
	FeedStatus   func() types.FeedStatus
	WalkSource   func() types.WalkSource
	Plan         func() (types.TripPlan, bool)
	Tasks        func() []types.LegTask
}

// Callbacks are the corrective actions an audit may issue. Each must be safe
// to call repeatedly.
type Callbacks struct {
	RestartTracker func(ctx context.Context) error
	RefreshFeed    func(ctx context.Context) error
	Replan         func(ctx context.Context) error
	RebuildTasks   func(ctx context.Context) error
}

// Supervisor owns the audit loop and the bounded diagnostic state.
type Supervisor struct {
	cfg       config.SupervisorConfig
	tracker   config.TrackerConfig
	probes    Probes
	callbacks Callbacks
	logger    *slog.Logger
	nowFn     func() time.Time
	newID     func() string

	mu           sync.Mutex
	health       map[types.Component]bool
	errors       []types.DiagnosticEntry
	warnings     []types.DiagnosticEntry
	fixes        []types.AutoFixEntry
	lastAuditAt  time.Time
	auditCount   int64
	deniedLogged bool
	lowCoverage  bool
	stalePreds   bool
	heuristic    bool

	cancel context.CancelFunc
	done   chan struct{}
}

// Config holds the dependencies for creating a Supervisor.
type Config struct {
	Supervisor config.SupervisorConfig
	Tracker    config.TrackerConfig
	Probes     Probes
	Callbacks  Callbacks
	Logger     *slog.Logger
	NowFn      func() time.Time // defaults to time.Now
	NewID      func() string    // defaults to uuid.NewString
}

// New creates a Supervisor. It does not begin auditing; call Start.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Supervisor{
		cfg:       cfg.Supervisor,
		tracker:   cfg.Tracker,
		probes:    cfg.Probes,
		callbacks: cfg.Callbacks,
		logger:    logger,
		nowFn:     nowFn,
		newID:     newID,
		health:    map[types.Component]bool{},
	}
}

// Start begins the audit loop. Starting an already-running supervisor is a
// no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.AuditInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.Audit(loopCtx)
			}
		}
	}()
}

// Stop halts the audit loop.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// State returns a deep copy of the current supervisor state.
func (s *Supervisor) State() types.SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()

	health := make(map[types.Component]bool, len(s.health))
	for k, v := range s.health {
		health[k] = v
	}
	return types.SupervisorState{
		Health:         health,
		Errors:         append([]types.DiagnosticEntry(nil), s.errors...),
		Warnings:       append([]types.DiagnosticEntry(nil), s.warnings...),
		AutoFixHistory: append([]types.AutoFixEntry(nil), s.fixes...),
		LastAuditAt:    s.lastAuditAt,
		AuditCount:     s.auditCount,
	}
}

// Report records a diagnostic entry on behalf of another component. Failures
// that degrade rather than propagate surface here.
func (s *Supervisor) Report(component types.Component, message string, isError bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isError {
		s.pushErrorLocked(component, message)
	} else {
		s.pushWarningLocked(component, message)
	}
}

// Audit runs one audit cycle. Exposed so the engine can trigger an immediate
// audit outside the fixed cadence.
func (s *Supervisor) Audit(ctx context.Context) {
	s.mu.Lock()
	s.auditCount++
	s.lastAuditAt = s.nowFn()
	s.mu.Unlock()

	s.auditTracker(ctx)
	s.auditFeed(ctx)
	s.auditWalking()
	s.auditPlan(ctx)
	s.auditTasks(ctx)

	s.mu.Lock()
	s.health[types.ComponentSupervisor] = true
	s.mu.Unlock()
}

// auditTracker covers the GPS-active and GPS-fresh checks. Both conditions
// share one corrective action, so at most one restart is issued per audit
// cycle. Denied is terminal: it is reported once and never auto-retried.
func (s *Supervisor) auditTracker(ctx context.Context) {
	state := s.probes.TrackerState()
	tripActive := s.probes.TripActive()

	if state == types.TrackerDenied {
		s.mu.Lock()
		s.health[types.ComponentTracker] = false
		if !s.deniedLogged {
			s.pushErrorLocked(types.ComponentTracker,
				"location permission denied; tracking cannot recover without user action")
			s.deniedLogged = true
		}
		s.mu.Unlock()
		return
	}

	healthy := state == types.TrackerTracking || !tripActive
	var issue string
	if tripActive {
		switch {
		case state != types.TrackerTracking:
			issue = fmt.Sprintf("tracker in %s state during an active trip", state)
		default:
			if at, ok := s.probes.LastFixAt(); ok && s.nowFn().Sub(at) > s.tracker.StaleAfter {
				issue = fmt.Sprintf("last accepted fix is %s old", s.nowFn().Sub(at).Round(time.Second))
				healthy = false
			}
		}
	}

	s.setHealth(types.ComponentTracker, healthy)
	if issue == "" {
		return
	}
	err := s.callbacks.RestartTracker(ctx)
	s.recordFix(ctx, "gps", issue, "restarted position tracking", err)
}

// auditFeed covers the feed-freshness check and surfaces the informational
// coverage/staleness flags as warnings on transition.
func (s *Supervisor) auditFeed(ctx context.Context) {
	status := s.probes.FeedStatus()

	stale := status.Polling && !status.LastUpdate.IsZero() &&
		s.nowFn().Sub(status.LastUpdate) > s.cfg.FeedStaleAfter
	s.setHealth(types.ComponentFeed, !stale)

	if stale {
		issue := fmt.Sprintf("transit snapshot is %s old while polling",
			s.nowFn().Sub(status.LastUpdate).Round(time.Second))
		err := s.callbacks.RefreshFeed(ctx)
		s.recordFix(ctx, "feed", issue, "forced an immediate poll", err)
	}

	s.mu.Lock()
	if status.LowCoverage && !s.lowCoverage {
		s.pushWarningLocked(types.ComponentFeed, "no vehicles reported for several consecutive polls")
	}
	if status.StalePredictions && !s.stalePreds {
		s.pushWarningLocked(types.ComponentFeed, "all known predictions are past their staleness threshold")
	}
	s.lowCoverage = status.LowCoverage
	s.stalePreds = status.StalePredictions
	s.mu.Unlock()
}

// auditWalking tracks which walking provider is active. Heuristic mode is a
// degradation worth a warning, not a correction; the breaker recovers on its
// own.
func (s *Supervisor) auditWalking() {
	source := s.probes.WalkSource()
	s.setHealth(types.ComponentWalking, source == types.WalkSourcePrecise)

	s.mu.Lock()
	if source == types.WalkSourceHeuristic && !s.heuristic {
		s.pushWarningLocked(types.ComponentWalking, "walking estimates degraded to the heuristic provider")
	}
	s.heuristic = source == types.WalkSourceHeuristic
	s.mu.Unlock()
}

// auditPlan covers the plan-validity check: error status, empty legs, or
// legs with missing identifiers all trigger a replan for the last known
// destination.
func (s *Supervisor) auditPlan(ctx context.Context) {
	plan, ok := s.probes.Plan()
	if !ok {
		s.setHealth(types.ComponentPlanner, true)
		return
	}

	issue := planIssue(plan)
	s.setHealth(types.ComponentPlanner, issue == "")
	if issue == "" {
		return
	}
	err := s.callbacks.Replan(ctx)
	s.recordFix(ctx, "plan", issue, "regenerated the trip plan", err)
}

// auditTasks covers the plan/task-sync check: tasks referencing a plan that
// no longer exists are rebuilt, preserving completion where possible.
func (s *Supervisor) auditTasks(ctx context.Context) {
	plan, ok := s.probes.Plan()
	tasks := s.probes.Tasks()

	var orphans int
	for _, task := range tasks {
		if !ok || task.PlanID != plan.ID {
			orphans++
		}
	}
	if orphans == 0 {
		return
	}
	issue := fmt.Sprintf("%d leg task(s) reference a plan that no longer exists", orphans)
	err := s.callbacks.RebuildTasks(ctx)
	s.recordFix(ctx, "tasks", issue, "rebuilt leg tasks from the current plan", err)
}

// planIssue returns a human-readable description of what makes a plan
// invalid, or "" for a healthy plan.
func planIssue(plan types.TripPlan) string {
	if plan.Status == types.PlanError {
		return fmt.Sprintf("plan is in error state: %s", plan.Warning)
	}
	if len(plan.Legs) == 0 {
		return "plan has no legs"
	}
	for i, leg := range plan.Legs {
		if leg.RouteID == "" || leg.FromStopID == "" || leg.ToStopID == "" {
			return fmt.Sprintf("leg %d is missing route or stop identifiers", i)
		}
	}
	return ""
}

func (s *Supervisor) setHealth(c types.Component, healthy bool) {
	s.mu.Lock()
	s.health[c] = healthy
	s.mu.Unlock()
}

// recordFix appends to the bounded auto-fix history and logs the action with
// its human-readable reason.
func (s *Supervisor) recordFix(ctx context.Context, category, issue, action string, err error) {
	entry := types.AutoFixEntry{
		ID:       s.newID(),
		At:       s.nowFn(),
		Category: category,
		Issue:    issue,
		Action:   action,
		Success:  err == nil,
	}

	s.mu.Lock()
	s.fixes = append(s.fixes, entry)
	if len(s.fixes) > s.cfg.MaxFixHistory {
		s.fixes = s.fixes[len(s.fixes)-s.cfg.MaxFixHistory:]
	}
	if err != nil {
		s.pushErrorLocked(types.ComponentSupervisor,
			fmt.Sprintf("corrective action failed (%s): %v", action, err))
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "auto-fix issued",
		"category", category,
		"issue", issue,
		"action", action,
		"success", err == nil,
	)
}

func (s *Supervisor) pushErrorLocked(component types.Component, message string) {
	s.errors = append(s.errors, types.DiagnosticEntry{
		ID: s.newID(), At: s.nowFn(), Component: component, Message: message,
	})
	if len(s.errors) > s.cfg.MaxErrorLog {
		s.errors = s.errors[len(s.errors)-s.cfg.MaxErrorLog:]
	}
}

func (s *Supervisor) pushWarningLocked(component types.Component, message string) {
	s.warnings = append(s.warnings, types.DiagnosticEntry{
		ID: s.newID(), At: s.nowFn(), Component: component, Message: message,
	})
	if len(s.warnings) > s.cfg.MaxWarningLog {
		s.warnings = s.warnings[len(s.warnings)-s.cfg.MaxWarningLog:]
	}
}
