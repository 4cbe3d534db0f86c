package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"transitpulse/internal/types"
)

// DirectionsClient queries an OSRM-style walking-directions provider for the
// total distance and duration of the first leg of the first returned route.
// It is the "precise" walking provider; the walking estimator wraps it behind
// a circuit breaker with a heuristic fallback.
type DirectionsClient struct {
	base    *BaseClient
	baseURL string
}

// NewDirectionsClient creates a DirectionsClient. baseURL must not have a
// trailing slash.
func NewDirectionsClient(base *BaseClient, baseURL string) *DirectionsClient {
	return &DirectionsClient{base: base, baseURL: baseURL}
}

// directionsResponse is the subset of the provider response the engine reads.
type directionsResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Legs []struct {
			DistanceMeters  float64 `json:"distance"`
			DurationSeconds float64 `json:"duration"`
		} `json:"legs"`
	} `json:"routes"`
}

// Walk requests a walking-mode route and returns the distance in meters and
// the duration of the first leg of the first route. The response shape is
// validated (non-empty route/leg, positive numeric distance and duration)
// before being accepted.
func (c *DirectionsClient) Walk(ctx context.Context, origin, destination types.LatLng) (float64, time.Duration, error) {
	if err := origin.Validate(); err != nil {
		return 0, 0, err
	}
	if err := destination.Validate(); err != nil {
		return 0, 0, err
	}

	// OSRM coordinate order is longitude,latitude.
	u := fmt.Sprintf("%s/route/v1/foot/%f,%f;%f,%f?overview=false",
		c.baseURL,
		origin.Longitude, origin.Latitude,
		destination.Longitude, destination.Latitude,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, 0, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to build directions request", err)
	}

	resp, err := c.base.Do(req)
	if err != nil {
		return 0, 0, types.NewAppError(types.ErrCodeUpstreamDirections,
			"directions provider request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, types.NewAppError(types.ErrCodeUpstreamDirections,
			fmt.Sprintf("directions provider returned %d", resp.StatusCode), nil)
	}

	var body directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, 0, types.NewAppError(types.ErrCodeUpstreamMalformedReply,
			"failed to decode directions response", err)
	}

	if body.Code != "Ok" || len(body.Routes) == 0 || len(body.Routes[0].Legs) == 0 {
		return 0, 0, types.NewAppError(types.ErrCodeUpstreamMalformedReply,
			fmt.Sprintf("directions response has no usable route (code=%q)", body.Code), nil)
	}

	leg := body.Routes[0].Legs[0]
	if leg.DistanceMeters <= 0 || leg.DurationSeconds <= 0 {
		return 0, 0, types.NewAppError(types.ErrCodeUpstreamMalformedReply,
			"directions response has non-positive distance or duration", nil)
	}

	return leg.DistanceMeters, time.Duration(leg.DurationSeconds * float64(time.Second)), nil
}
