package walking

import (
	"context"
	"time"

	"transitpulse/internal/config"
	"transitpulse/internal/geo"
	"transitpulse/internal/types"
)

// DirectionsAPI abstracts the external walking-directions service for
// testability.
type DirectionsAPI interface {
	// Walk returns the walking distance in meters and duration between two
	// coordinates.
	Walk(ctx context.Context, origin, destination types.LatLng) (float64, time.Duration, error)
}

// provider produces a walking estimate between two points. The precise and
// heuristic implementations are interchangeable behind this interface.
type provider interface {
	estimate(ctx context.Context, origin, destination types.LatLng) (types.WalkingEstimate, error)
}

// preciseProvider calls the external directions service in walking mode.
// It validates input coordinates lie within the plausible operating region
// and retries once after a fixed delay on transient failure.
type preciseProvider struct {
	api     DirectionsAPI
	cfg     config.WalkingConfig
	sleepFn func(time.Duration)
	nowFn   func() time.Time
}

func (p *preciseProvider) inRegion(c types.LatLng) bool {
	return c.Latitude >= p.cfg.RegionMinLat && c.Latitude <= p.cfg.RegionMaxLat &&
		c.Longitude >= p.cfg.RegionMinLon && c.Longitude <= p.cfg.RegionMaxLon
}

func (p *preciseProvider) estimate(ctx context.Context, origin, destination types.LatLng) (types.WalkingEstimate, error) {
	if !p.inRegion(origin) || !p.inRegion(destination) {
		return types.WalkingEstimate{}, types.NewAppError(
			types.ErrCodeValidationOutOfRegion,
			"coordinates outside the plausible operating region",
			nil,
		)
	}

	dist, dur, err := p.api.Walk(ctx, origin, destination)
	if err != nil {
		if types.CodeOf(err).IsTerminal() {
			return types.WalkingEstimate{}, err
		}
		// One retry after a fixed delay on transient failure.
		p.sleepFn(p.cfg.RetryDelay)
		dist, dur, err = p.api.Walk(ctx, origin, destination)
		if err != nil {
			return types.WalkingEstimate{}, err
		}
	}

	return types.WalkingEstimate{
		DistanceMeters: dist,
		Duration:       dur,
		Source:         types.WalkSourcePrecise,
		ComputedAt:     p.nowFn(),
	}, nil
}

// KnownHub marks a transfer station complex enough to warrant a larger
// platform-complexity penalty in the heuristic model.
type KnownHub struct {
	Name  string
	Coord types.LatLng
}

// hubProximityMeters is how close an endpoint must be to a known hub for the
// larger penalty to apply.
const hubProximityMeters = 150.0

// DefaultHubs lists the multi-level interchange stations of the default
// operating region.
func DefaultHubs() []KnownHub {
	return []KnownHub{
		{Name: "Park Street", Coord: types.LatLng{Latitude: 42.3564, Longitude: -71.0624}},
		{Name: "Downtown Crossing", Coord: types.LatLng{Latitude: 42.3555, Longitude: -71.0603}},
		{Name: "Government Center", Coord: types.LatLng{Latitude: 42.3597, Longitude: -71.0593}},
		{Name: "North Station", Coord: types.LatLng{Latitude: 42.3656, Longitude: -71.0613}},
		{Name: "South Station", Coord: types.LatLng{Latitude: 42.3523, Longitude: -71.0552}},
	}
}

// heuristicProvider computes great-circle distance via the haversine formula,
// inflates it by a detour factor to approximate non-straight paths, divides
// by a conservative walking speed, and adds a platform-complexity penalty.
// It always succeeds for valid coordinates.
type heuristicProvider struct {
	cfg   config.WalkingConfig
	hubs  []KnownHub
	nowFn func() time.Time
}

func (h *heuristicProvider) estimate(_ context.Context, origin, destination types.LatLng) (types.WalkingEstimate, error) {
	distance := geo.Distance(origin, destination) * h.cfg.DetourFactor

	speed := h.cfg.SpeedMPS
	if speed < h.cfg.MinSpeedMPS {
		speed = h.cfg.MinSpeedMPS
	}

	duration := time.Duration(distance / speed * float64(time.Second))
	duration += h.penalty(origin, destination)

	return types.WalkingEstimate{
		DistanceMeters: distance,
		Duration:       duration,
		Source:         types.WalkSourceHeuristic,
		ComputedAt:     h.nowFn(),
	}, nil
}

// penalty returns the platform-complexity penalty: the larger hub penalty
// when either endpoint is near a known complex transfer hub, the fixed
// default otherwise.
func (h *heuristicProvider) penalty(origin, destination types.LatLng) time.Duration {
	for _, hub := range h.hubs {
		if geo.Distance(origin, hub.Coord) <= hubProximityMeters ||
			geo.Distance(destination, hub.Coord) <= hubProximityMeters {
			return h.cfg.ComplexHubPenalty
		}
	}
	return h.cfg.PlatformPenalty
}
