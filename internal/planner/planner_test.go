package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitpulse/internal/config"
	"transitpulse/internal/external"
	"transitpulse/internal/types"
)

// --- Test Doubles ---

// stubCatalogAPI serves a scripted catalog: a Green Line branch and the Red
// Line meeting at Park Street via adjacent platform stops.
type stubCatalogAPI struct {
	routes    []types.Route
	stops     map[string][]types.Stop
	routesErr error
	stopsErr  error
}

func (s *stubCatalogAPI) Routes(context.Context, []int) ([]types.Route, error) {
	return s.routes, s.routesErr
}

func (s *stubCatalogAPI) Stops(_ context.Context, f external.StopsFilter) ([]types.Stop, error) {
	if s.stopsErr != nil {
		return nil, s.stopsErr
	}
	return s.stops[f.RouteID], nil
}

var (
	govCenter = types.Stop{ID: "70202", Name: "Government Center", Latitude: 42.3598, Longitude: -71.0592, ParentStation: "place-gover"}
	boylston  = types.Stop{ID: "70159", Name: "Boylston", Latitude: 42.3525, Longitude: -71.0646, ParentStation: "place-boyls"}
	parkGreen = types.Stop{ID: "70200", Name: "Park Street", Latitude: 42.3566, Longitude: -71.0622, ParentStation: "place-pktrm"}
	parkRed   = types.Stop{ID: "70075", Name: "Park Street", Latitude: 42.3564, Longitude: -71.0624, ParentStation: "place-pktrm"}
	harvard   = types.Stop{ID: "70068", Name: "Harvard", Latitude: 42.3736, Longitude: -71.1190, ParentStation: "place-harsq"}
	alewife   = types.Stop{ID: "70061", Name: "Alewife", Latitude: 42.3954, Longitude: -71.1425, ParentStation: "place-alfcl"}
)

func downtownCatalogAPI() *stubCatalogAPI {
	return &stubCatalogAPI{
		routes: []types.Route{
			{ID: "Green-B", ShortName: "B", LongName: "Green Line B", Type: 0},
			{ID: "Red", LongName: "Red Line", Type: 1},
		},
		stops: map[string][]types.Stop{
			"Green-B": {govCenter, parkGreen, boylston},
			"Red":     {parkRed, harvard, alewife},
		},
	}
}

func loadedCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := NewCatalog(downtownCatalogAPI(), []int{0, 1}, nil)
	require.NoError(t, c.Load(context.Background()))
	return c
}

func plannerTestConfig() config.PlannerConfig {
	return config.PlannerConfig{
		MaxTransferWalkMeters:  500,
		MaxPlausibleTripMeters: 100000,
	}
}

func newTestPlanner(catalog *Catalog) *Planner {
	ids := 0
	return New(Config{
		Catalog: catalog,
		Planner: plannerTestConfig(),
		NowFn:   func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) },
		NewID: func() string {
			ids++
			return "plan-" + string(rune('a'+ids-1))
		},
	})
}

// --- Tests ---

func TestCatalog_LoadBuildsBothIndexes(t *testing.T) {
	c := loadedCatalog(t)

	assert.True(t, c.Loaded())
	assert.Equal(t, []string{"Green-B", "Red"}, c.RouteIDs())
	assert.ElementsMatch(t, []string{"Green-B"}, c.RoutesAt(parkGreen.ID))
	assert.ElementsMatch(t, []string{"Red"}, c.RoutesAt(harvard.ID))
	assert.Len(t, c.StopsOn("Red"), 3)

	s, ok := c.Stop(boylston.ID)
	require.True(t, ok)
	assert.Equal(t, "Boylston", s.Name)
}

func TestCatalog_FailedLoadLeavesPreviousDataIntact(t *testing.T) {
	api := downtownCatalogAPI()
	c := NewCatalog(api, []int{0, 1}, nil)
	require.NoError(t, c.Load(context.Background()))

	api.stopsErr = types.NewAppError(types.ErrCodeUpstreamTransit, "gateway timeout", nil)
	require.Error(t, c.Load(context.Background()))
	assert.True(t, c.Loaded())
	assert.Len(t, c.StopsOn("Red"), 3, "a failed reload must not clobber the working catalog")
}

func TestPlanner_NearestStop(t *testing.T) {
	p := newTestPlanner(loadedCatalog(t))

	stop, ok := p.NearestStop(types.LatLng{Latitude: 42.3601, Longitude: -71.0589})
	require.True(t, ok)
	assert.Equal(t, govCenter.ID, stop.ID)
}

func TestPlanner_DirectTripSingleLeg(t *testing.T) {
	p := newTestPlanner(loadedCatalog(t))

	// Standing outside Harvard, heading to Alewife: both on the Red Line.
	plan, err := p.Plan(context.Background(),
		types.LatLng{Latitude: 42.3740, Longitude: -71.1185}, alewife)
	require.NoError(t, err)

	assert.Equal(t, types.PlanValid, plan.Status)
	require.Len(t, plan.Legs, 1)
	assert.Equal(t, "Red", plan.Legs[0].RouteID)
	assert.Equal(t, harvard.ID, plan.Legs[0].FromStopID)
	assert.Equal(t, alewife.ID, plan.Legs[0].ToStopID)
	assert.Equal(t, 0, plan.Legs[0].DirectionID, "outbound follows the catalog stop order")
	assert.Empty(t, plan.Warning)
}

func TestPlanner_InboundTripGetsOppositeDirection(t *testing.T) {
	p := newTestPlanner(loadedCatalog(t))

	// Riding the Red Line back against the catalog's stop order.
	plan, err := p.Plan(context.Background(),
		types.LatLng{Latitude: 42.3954, Longitude: -71.1425}, parkRed)
	require.NoError(t, err)

	require.Len(t, plan.Legs, 1)
	assert.Equal(t, alewife.ID, plan.Legs[0].FromStopID)
	assert.Equal(t, parkRed.ID, plan.Legs[0].ToStopID)
	assert.Equal(t, 1, plan.Legs[0].DirectionID)
}

func TestPlanner_TransferTripTwoLegs(t *testing.T) {
	p := newTestPlanner(loadedCatalog(t))

	// Government Center (Green only) to Harvard (Red only): no shared route,
	// but the Park Street platforms are an easy walk apart.
	plan, err := p.Plan(context.Background(),
		types.LatLng{Latitude: 42.3601, Longitude: -71.0589}, harvard)
	require.NoError(t, err)

	assert.Equal(t, types.PlanValid, plan.Status)
	require.Len(t, plan.Legs, 2)

	assert.Equal(t, "Green-B", plan.Legs[0].RouteID)
	assert.Equal(t, govCenter.ID, plan.Legs[0].FromStopID)
	assert.Equal(t, parkGreen.ID, plan.Legs[0].ToStopID)
	assert.Equal(t, 0, plan.Legs[0].DirectionID)

	assert.Equal(t, "Red", plan.Legs[1].RouteID)
	assert.Equal(t, parkRed.ID, plan.Legs[1].FromStopID)
	assert.Equal(t, harvard.ID, plan.Legs[1].ToStopID)
	assert.Equal(t, 0, plan.Legs[1].DirectionID)
}

func TestPlanner_BestEffortFallbackWithWarning(t *testing.T) {
	p := newTestPlanner(loadedCatalog(t))

	// A stop the catalog has no routes for: nothing connects, so the plan
	// degrades to a warned direct leg instead of failing.
	wonderland := types.Stop{ID: "70060", Name: "Wonderland", Latitude: 42.4134, Longitude: -70.9916}
	plan, err := p.Plan(context.Background(),
		types.LatLng{Latitude: 42.3601, Longitude: -71.0589}, wonderland)
	require.NoError(t, err)

	assert.Equal(t, types.PlanValid, plan.Status)
	require.Len(t, plan.Legs, 1)
	assert.Equal(t, govCenter.ID, plan.Legs[0].FromStopID)
	assert.Equal(t, wonderland.ID, plan.Legs[0].ToStopID)
	assert.Contains(t, plan.Warning, "best-effort")
}

func TestPlanner_EmptyCatalogYieldsErrorPlan(t *testing.T) {
	c := NewCatalog(downtownCatalogAPI(), []int{0, 1}, nil)
	p := newTestPlanner(c) // never loaded

	plan, err := p.Plan(context.Background(),
		types.LatLng{Latitude: 42.3601, Longitude: -71.0589}, harvard)
	require.NoError(t, err)

	assert.Equal(t, types.PlanError, plan.Status)
	assert.Empty(t, plan.Legs)
	assert.Contains(t, plan.Warning, "catalog is empty")
}

func TestPlanner_ImplausibleDistanceGuard(t *testing.T) {
	p := newTestPlanner(loadedCatalog(t))

	// Valid coordinates, but an ocean away from the destination.
	london := types.LatLng{Latitude: 51.5074, Longitude: -0.1278}
	plan, err := p.Plan(context.Background(), london, harvard)
	require.NoError(t, err)

	assert.Equal(t, types.PlanError, plan.Status)
	assert.Empty(t, plan.Legs)
	assert.Contains(t, plan.Warning, "plausible trip limit")
}

func TestPlanner_InvalidInputIsTheOnlyCallerVisibleError(t *testing.T) {
	p := newTestPlanner(loadedCatalog(t))

	_, err := p.Plan(context.Background(), types.LatLng{Latitude: 120, Longitude: 0}, harvard)
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeValidationInvalidLat, types.CodeOf(err))

	_, err = p.Plan(context.Background(), types.LatLng{Latitude: 42.36, Longitude: -71.06}, types.Stop{})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeValidationMissingField, types.CodeOf(err))
}
