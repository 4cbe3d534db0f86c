// Package planner computes trip plans from a static route/stop catalog and
// the device position: a single leg when one route connects origin and
// destination, a two-leg itinerary through a transfer stop otherwise, and a
// best-effort fallback when the catalog cannot connect them at all.
package planner

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"transitpulse/internal/external"
	"transitpulse/internal/types"
)

// CatalogAPI is the static-data subset of the transit provider the catalog
// consumes. Satisfied by *external.TransitClient.
type CatalogAPI interface {
	Routes(ctx context.Context, routeTypes []int) ([]types.Route, error)
	Stops(ctx context.Context, filter external.StopsFilter) ([]types.Stop, error)
}

// Catalog holds route and stop metadata, loaded once per session and indexed
// both ways: stops per route and routes per stop.
type Catalog struct {
	api        CatalogAPI
	routeTypes []int
	logger     *slog.Logger

	mu           sync.RWMutex
	routes       map[string]types.Route
	stops        map[string]types.Stop
	stopsByRoute map[string][]string
	routesByStop map[string][]string
	loadedAt     time.Time
}

// NewCatalog creates an empty catalog for the given route types. Call Load
// before planning.
func NewCatalog(api CatalogAPI, routeTypes []int, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		api:        api,
		routeTypes: routeTypes,
		logger:     logger,
	}
}

// Load fetches routes and their stops and rebuilds both indexes. The catalog
// swaps in the new data wholesale only on full success, so a failed reload
// leaves the previous catalog intact.
func (c *Catalog) Load(ctx context.Context) error {
	routes, err := c.api.Routes(ctx, c.routeTypes)
	if err != nil {
		return err
	}
	if len(routes) == 0 {
		return types.NewAppError(types.ErrCodeDataNoRoutes,
			"transit provider returned no routes for the configured types", nil)
	}

	var (
		mu           sync.Mutex
		stops        = make(map[string]types.Stop)
		stopsByRoute = make(map[string][]string)
		routesByStop = make(map[string][]string)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, route := range routes {
		g.Go(func() error {
			routeStops, err := c.api.Stops(gctx, external.StopsFilter{RouteID: route.ID})
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, s := range routeStops {
				stops[s.ID] = s
				stopsByRoute[route.ID] = append(stopsByRoute[route.ID], s.ID)
				routesByStop[s.ID] = append(routesByStop[s.ID], route.ID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	routeIndex := make(map[string]types.Route, len(routes))
	for _, r := range routes {
		routeIndex[r.ID] = r
	}
	// Deterministic ordering keeps plan output stable across reloads.
	for _, ids := range routesByStop {
		sort.Strings(ids)
	}

	c.mu.Lock()
	c.routes = routeIndex
	c.stops = stops
	c.stopsByRoute = stopsByRoute
	c.routesByStop = routesByStop
	c.loadedAt = time.Now()
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "route catalog loaded",
		"routes", len(routeIndex),
		"stops", len(stops),
	)
	return nil
}

// Loaded reports whether the catalog holds any data.
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.routes) > 0 && len(c.stops) > 0
}

// RouteIDs returns all loaded route IDs, sorted.
func (c *Catalog) RouteIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.routes))
	for id := range c.routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stop looks up a stop by ID.
func (c *Catalog) Stop(id string) (types.Stop, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.stops[id]
	return s, ok
}

// AllStops returns a copy of every loaded stop.
func (c *Catalog) AllStops() []types.Stop {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Stop, 0, len(c.stops))
	for _, s := range c.stops {
		out = append(out, s)
	}
	return out
}

// AllStopIDs returns every loaded stop ID, sorted.
func (c *Catalog) AllStopIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.stops))
	for id := range c.stops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RoutesAt returns the route IDs serving a stop.
func (c *Catalog) RoutesAt(stopID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.routesByStop[stopID]...)
}

// StopsOn returns the stops served by a route.
func (c *Catalog) StopsOn(routeID string) []types.Stop {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.stopsByRoute[routeID]
	out := make([]types.Stop, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.stops[id])
	}
	return out
}
