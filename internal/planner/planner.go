package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"transitpulse/internal/config"
	"transitpulse/internal/geo"
	"transitpulse/internal/types"
)

// Planner computes trip plans against a loaded catalog. Planning never
// returns an error for resolvable degradation: unreachable itineraries
// degrade to a warned best-effort plan, and an unusable catalog yields a
// plan with Error status for the supervisor to retry.
type Planner struct {
	catalog *Catalog
	cfg     config.PlannerConfig
	logger  *slog.Logger
	nowFn   func() time.Time
	newID   func() string
}

// Config holds the dependencies for creating a Planner.
type Config struct {
	Catalog *Catalog
	Planner config.PlannerConfig
	Logger  *slog.Logger
	NowFn   func() time.Time // defaults to time.Now
	NewID   func() string    // defaults to uuid.NewString
}

// New creates a Planner.
func New(cfg Config) *Planner {
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
	return &Planner{
		catalog: cfg.Catalog,
		cfg:     cfg.Planner,
		logger:  logger,
		nowFn:   nowFn,
		newID:   newID,
	}
}

// NearestStop returns the catalog stop closest to the given point.
func (p *Planner) NearestStop(origin types.LatLng) (types.Stop, bool) {
	var (
		best     types.Stop
		bestDist float64
		found    bool
	)
	for _, s := range p.catalog.AllStops() {
		d := geo.Distance(origin, s.Coord())
		if !found || d < bestDist {
			best, bestDist, found = s, d, true
		}
	}
	return best, found
}

// Plan computes an itinerary from origin to the destination stop. The only
// caller-visible error is invalid input; every other failure mode resolves to
// a plan whose Status and Warning describe the degradation.
func (p *Planner) Plan(ctx context.Context, origin types.LatLng, destination types.Stop) (types.TripPlan, error) {
	if err := origin.Validate(); err != nil {
		return types.TripPlan{}, err
	}
	if destination.ID == "" {
		return types.TripPlan{}, types.NewAppError(types.ErrCodeValidationMissingField,
			"destination stop id is required", nil)
	}

	plan := types.TripPlan{
		ID:          p.newID(),
		Status:      types.PlanValid,
		LastUpdated: p.nowFn(),
	}

	if !p.catalog.Loaded() {
		return p.errorPlan(ctx, plan, "route catalog is empty"), nil
	}

	if crow := geo.Distance(origin, destination.Coord()); crow > p.cfg.MaxPlausibleTripMeters {
		return p.errorPlan(ctx, plan, fmt.Sprintf(
			"origin is %.0f m from the destination, beyond the plausible trip limit of %.0f m",
			crow, p.cfg.MaxPlausibleTripMeters)), nil
	}

	originStop, ok := p.NearestStop(origin)
	if !ok {
		return p.errorPlan(ctx, plan, "no stops available near the origin"), nil
	}

	originRoutes := p.catalog.RoutesAt(originStop.ID)
	destRoutes := p.catalog.RoutesAt(destination.ID)
	if len(originRoutes) == 0 {
		return p.errorPlan(ctx, plan, fmt.Sprintf("no routes serve origin stop %s", originStop.ID)), nil
	}

	// Direct connection: one route serves both ends.
	if shared := firstCommon(originRoutes, destRoutes); shared != "" {
		plan.Legs = []types.TripLeg{{
			RouteID:     shared,
			FromStopID:  originStop.ID,
			ToStopID:    destination.ID,
			DirectionID: p.direction(shared, originStop.ID, destination.ID),
		}}
		p.logger.InfoContext(ctx, "planned direct trip",
			"plan_id", plan.ID, "route", shared,
			"from", originStop.ID, "to", destination.ID,
		)
		return plan, nil
	}

	// Two legs through a transfer stop reachable on foot.
	if conn, ok := p.findTransfer(originRoutes, destRoutes); ok {
		plan.Legs = []types.TripLeg{
			{
				RouteID:     conn.firstRoute,
				FromStopID:  originStop.ID,
				ToStopID:    conn.arrivalStop.ID,
				DirectionID: p.direction(conn.firstRoute, originStop.ID, conn.arrivalStop.ID),
			},
			{
				RouteID:     conn.connectRoute,
				FromStopID:  conn.departureStop.ID,
				ToStopID:    destination.ID,
				DirectionID: p.direction(conn.connectRoute, conn.departureStop.ID, destination.ID),
			},
		}
		p.logger.InfoContext(ctx, "planned trip with transfer",
			"plan_id", plan.ID,
			"first_route", conn.firstRoute,
			"connect_route", conn.connectRoute,
			"transfer_stop", conn.arrivalStop.ID,
			"transfer_walk_meters", conn.walkMeters,
		)
		return plan, nil
	}

	// Nothing connects within the search limits: emit a warned best-effort
	// direct leg instead of failing the trip outright.
	plan.Legs = []types.TripLeg{{
		RouteID:     originRoutes[0],
		FromStopID:  originStop.ID,
		ToStopID:    destination.ID,
		DirectionID: p.direction(originRoutes[0], originStop.ID, destination.ID),
	}}
	plan.Warning = fmt.Sprintf(
		"no transfer stop within %.0f m connects these routes; showing a best-effort direct leg",
		p.cfg.MaxTransferWalkMeters)
	p.logger.WarnContext(ctx, "falling back to best-effort plan",
		"plan_id", plan.ID, "origin_stop", originStop.ID, "destination_stop", destination.ID,
	)
	return plan, nil
}

// transferConnection describes a usable two-leg connection: ride firstRoute
// to arrivalStop, walk to departureStop, ride connectRoute onward.
type transferConnection struct {
	firstRoute    string
	connectRoute  string
	arrivalStop   types.Stop
	departureStop types.Stop
	walkMeters    float64
}

// findTransfer searches for the closest pair of stops, one on an origin
// route and one on a destination route, within the maximum transfer-walk
// distance. Same-station platform pairs naturally win with near-zero
// distance.
func (p *Planner) findTransfer(originRoutes, destRoutes []string) (transferConnection, bool) {
	var (
		best  transferConnection
		found bool
	)
	for _, r1 := range originRoutes {
		for _, a := range p.catalog.StopsOn(r1) {
			for _, r2 := range destRoutes {
				if r1 == r2 {
					continue
				}
				for _, d := range p.catalog.StopsOn(r2) {
					walk := geo.Distance(a.Coord(), d.Coord())
					if walk > p.cfg.MaxTransferWalkMeters {
						continue
					}
					if !found || walk < best.walkMeters {
						best = transferConnection{
							firstRoute:    r1,
							connectRoute:  r2,
							arrivalStop:   a,
							departureStop: d,
							walkMeters:    walk,
						}
						found = true
					}
				}
			}
		}
	}
	return best, found
}

// direction infers the travel direction on a route from the catalog's stop
// ordering, which providers publish in direction-0 order: boarding before
// alighting is 0, the reverse is 1. Stops the route does not serve fall back
// to 0.
func (p *Planner) direction(routeID, fromStopID, toStopID string) int {
	fromIdx, toIdx := -1, -1
	for i, s := range p.catalog.StopsOn(routeID) {
		switch s.ID {
		case fromStopID:
			fromIdx = i
		case toStopID:
			toIdx = i
		}
	}
	if fromIdx >= 0 && toIdx >= 0 && toIdx < fromIdx {
		return 1
	}
	return 0
}

// errorPlan stamps the plan as unresolvable. The supervisor retries these.
func (p *Planner) errorPlan(ctx context.Context, plan types.TripPlan, reason string) types.TripPlan {
	plan.Status = types.PlanError
	plan.Legs = nil
	plan.Warning = reason
	p.logger.WarnContext(ctx, "trip planning failed", "plan_id", plan.ID, "reason", reason)
	return plan
}

// firstCommon returns the first element of a that also appears in b. Inputs
// are sorted by the catalog, so the result is deterministic.
func firstCommon(a, b []string) string {
	seen := make(map[string]struct{}, len(b))
	for _, id := range b {
		seen[id] = struct{}{}
	}
	for _, id := range a {
		if _, ok := seen[id]; ok {
			return id
		}
	}
	return ""
}
