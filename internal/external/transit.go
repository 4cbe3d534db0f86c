package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"transitpulse/internal/types"
)

// TransitClient talks to an MBTA-V3-style JSON:API transit data provider.
// It exposes the five read endpoints the engine consumes: routes and stops
// (static, cached by the planner's catalog), vehicles and predictions
// (polled by the transit feed), and schedules (the documented fallback when
// live predictions are empty).
type TransitClient struct {
	base    *BaseClient
	baseURL string
	apiKey  string
}

// NewTransitClient creates a TransitClient. baseURL must not have a trailing
// slash; apiKey may be empty for anonymous (rate-limited) access.
func NewTransitClient(base *BaseClient, baseURL, apiKey string) *TransitClient {
	return &TransitClient{
		base:    base,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// StopsFilter narrows a stops query. Exactly one of RouteID or Near should be
// set for a server-side filter; NameContains is applied client-side.
type StopsFilter struct {
	RouteID      string
	Near         *types.LatLng
	RadiusMeters float64
	NameContains string
}

// jsonAPIResource is a single resource in a JSON:API response document.
type jsonAPIResource struct {
	ID            string                     `json:"id"`
	Type          string                     `json:"type"`
	Attributes    json.RawMessage            `json:"attributes"`
	Relationships map[string]jsonAPIRelation `json:"relationships"`
}

type jsonAPIRelation struct {
	Data *struct {
		ID string `json:"id"`
	} `json:"data"`
}

// relatedID returns the id of a named relationship, or "" when absent.
func (r jsonAPIResource) relatedID(name string) string {
	rel, ok := r.Relationships[name]
	if !ok || rel.Data == nil {
		return ""
	}
	return rel.Data.ID
}

type jsonAPIDocument struct {
	Data []jsonAPIResource `json:"data"`
}

// Routes fetches static route metadata filtered by route type.
func (c *TransitClient) Routes(ctx context.Context, routeTypes []int) ([]types.Route, error) {
	q := url.Values{}
	if len(routeTypes) > 0 {
		q.Set("filter[type]", joinInts(routeTypes))
	}

	doc, err := c.get(ctx, "/routes", q)
	if err != nil {
		return nil, err
	}

	routes := make([]types.Route, 0, len(doc.Data))
	for _, res := range doc.Data {
		var attrs struct {
			ShortName string `json:"short_name"`
			LongName  string `json:"long_name"`
			Type      int    `json:"type"`
		}
		if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamMalformedReply,
				fmt.Sprintf("malformed route attributes for %q", res.ID), err)
		}
		routes = append(routes, types.Route{
			ID:        res.ID,
			ShortName: attrs.ShortName,
			LongName:  attrs.LongName,
			Type:      attrs.Type,
		})
	}
	return routes, nil
}

// Stops fetches static stop metadata. Stops with out-of-range coordinates are
// dropped rather than failing the whole response.
func (c *TransitClient) Stops(ctx context.Context, filter StopsFilter) ([]types.Stop, error) {
	q := url.Values{}
	switch {
	case filter.RouteID != "":
		q.Set("filter[route]", filter.RouteID)
	case filter.Near != nil:
		q.Set("filter[latitude]", strconv.FormatFloat(filter.Near.Latitude, 'f', -1, 64))
		q.Set("filter[longitude]", strconv.FormatFloat(filter.Near.Longitude, 'f', -1, 64))
		// The provider expresses radius in degrees.
		q.Set("filter[radius]", strconv.FormatFloat(filter.RadiusMeters/111000.0, 'f', -1, 64))
	default:
		return nil, types.NewAppError(types.ErrCodeValidationEmptyQuery,
			"stops query requires a route or location filter", nil)
	}

	doc, err := c.get(ctx, "/stops", q)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(filter.NameContains)
	stops := make([]types.Stop, 0, len(doc.Data))
	for _, res := range doc.Data {
		var attrs struct {
			Name      string  `json:"name"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		}
		if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamMalformedReply,
				fmt.Sprintf("malformed stop attributes for %q", res.ID), err)
		}

		stop := types.Stop{
			ID:            res.ID,
			Name:          attrs.Name,
			Latitude:      attrs.Latitude,
			Longitude:     attrs.Longitude,
			ParentStation: res.relatedID("parent_station"),
		}
		// Drop stops with invalid coordinates instead of failing the query.
		if stop.Coord().Validate() != nil {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(stop.Name), needle) {
			continue
		}
		stops = append(stops, stop)
	}
	return stops, nil
}

// Vehicles fetches live vehicle positions for the given routes.
func (c *TransitClient) Vehicles(ctx context.Context, routeIDs []string) ([]types.Vehicle, error) {
	if len(routeIDs) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationEmptyQuery,
			"vehicles query requires at least one route", nil)
	}

	q := url.Values{}
	q.Set("filter[route]", strings.Join(routeIDs, ","))

	doc, err := c.get(ctx, "/vehicles", q)
	if err != nil {
		return nil, err
	}

	vehicles := make([]types.Vehicle, 0, len(doc.Data))
	for _, res := range doc.Data {
		var attrs struct {
			Latitude      float64   `json:"latitude"`
			Longitude     float64   `json:"longitude"`
			Bearing       *float64  `json:"bearing"`
			CurrentStatus string    `json:"current_status"`
			UpdatedAt     time.Time `json:"updated_at"`
		}
		if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamMalformedReply,
				fmt.Sprintf("malformed vehicle attributes for %q", res.ID), err)
		}
		vehicles = append(vehicles, types.Vehicle{
			ID:        res.ID,
			RouteID:   res.relatedID("route"),
			Latitude:  attrs.Latitude,
			Longitude: attrs.Longitude,
			Bearing:   attrs.Bearing,
			Status:    types.VehicleStatus(strings.ToLower(attrs.CurrentStatus)),
			UpdatedAt: attrs.UpdatedAt,
		})
	}
	return vehicles, nil
}

// Predictions fetches live arrival/departure predictions for the given stops
// and routes. An empty result is not an error; the transit feed falls back to
// Schedules in that case.
func (c *TransitClient) Predictions(ctx context.Context, stopIDs, routeIDs []string) ([]types.Prediction, error) {
	if len(stopIDs) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationEmptyQuery,
			"predictions query requires at least one stop", nil)
	}

	q := url.Values{}
	q.Set("filter[stop]", strings.Join(stopIDs, ","))
	if len(routeIDs) > 0 {
		q.Set("filter[route]", strings.Join(routeIDs, ","))
	}

	doc, err := c.get(ctx, "/predictions", q)
	if err != nil {
		return nil, err
	}
	return c.decodeTimetable(doc, types.PredictionLive)
}

// Schedules fetches static timetable entries for a stop within the given
// window. Used only when live predictions are unavailable.
func (c *TransitClient) Schedules(ctx context.Context, stopIDs, routeIDs []string, minTime, maxTime time.Time) ([]types.Prediction, error) {
	if len(stopIDs) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationEmptyQuery,
			"schedules query requires at least one stop", nil)
	}

	q := url.Values{}
	q.Set("filter[stop]", strings.Join(stopIDs, ","))
	if len(routeIDs) > 0 {
		q.Set("filter[route]", strings.Join(routeIDs, ","))
	}
	q.Set("filter[date]", minTime.Format("2006-01-02"))
	q.Set("filter[min_time]", minTime.Format("15:04"))
	q.Set("filter[max_time]", maxTime.Format("15:04"))

	doc, err := c.get(ctx, "/schedules", q)
	if err != nil {
		return nil, err
	}
	return c.decodeTimetable(doc, types.PredictionScheduled)
}

// decodeTimetable decodes prediction/schedule resources, which share the same
// attribute shape.
func (c *TransitClient) decodeTimetable(doc *jsonAPIDocument, source types.PredictionSource) ([]types.Prediction, error) {
	out := make([]types.Prediction, 0, len(doc.Data))
	for _, res := range doc.Data {
		var attrs struct {
			ArrivalTime   *time.Time `json:"arrival_time"`
			DepartureTime *time.Time `json:"departure_time"`
			DirectionID   int        `json:"direction_id"`
		}
		if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamMalformedReply,
				fmt.Sprintf("malformed %s attributes for %q", res.Type, res.ID), err)
		}
		out = append(out, types.Prediction{
			ID:            res.ID,
			StopID:        res.relatedID("stop"),
			RouteID:       res.relatedID("route"),
			DirectionID:   attrs.DirectionID,
			ArrivalTime:   attrs.ArrivalTime,
			DepartureTime: attrs.DepartureTime,
			Source:        source,
		})
	}
	return out, nil
}

// get performs a GET against the provider and decodes the JSON:API document.
func (c *TransitClient) get(ctx context.Context, path string, q url.Values) (*jsonAPIDocument, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to build transit request", err)
	}
	req.Header.Set("Accept", "application/vnd.api+json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamTransit,
			fmt.Sprintf("transit provider request failed: GET %s", path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(types.ErrCodeUpstreamTransit,
			fmt.Sprintf("transit provider returned %d for GET %s", resp.StatusCode, path), nil)
	}

	var doc jsonAPIDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamMalformedReply,
			fmt.Sprintf("failed to decode transit response for GET %s", path), err)
	}
	return &doc, nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
