package types

import (
	"time"
)

// LatLng is a geographic coordinate pair (WGS 84).
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks the coordinate bounds. Out-of-range values are rejected
// immediately and never retried.
func (c LatLng) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 {
		return NewAppError(ErrCodeValidationInvalidLat,
			"latitude must be within [-90, 90]", nil)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return NewAppError(ErrCodeValidationInvalidLon,
			"longitude must be within [-180, 180]", nil)
	}
	return nil
}

// Position is a single accepted device location fix. Mutated only by the
// position tracker on each accepted fix; never retroactively edited.
type Position struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	HeadingDegrees *float64  `json:"heading_degrees,omitempty"`
	SpeedMPS       *float64  `json:"speed_mps,omitempty"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Coord returns the fix's coordinate pair.
func (p Position) Coord() LatLng {
	return LatLng{Latitude: p.Latitude, Longitude: p.Longitude}
}

// Validate checks the fix's coordinate bounds.
func (p Position) Validate() error {
	return p.Coord().Validate()
}

// TrackerState is the lifecycle state of the position tracker.
type TrackerState string

const (
	// TrackerInitializing means tracking was requested but no fix has been
	// accepted yet.
	TrackerInitializing TrackerState = "initializing"
	// TrackerTracking means fixes are arriving and being accepted.
	TrackerTracking TrackerState = "tracking"
	// TrackerStale means no accepted fix arrived within the stale threshold
	// while tracking was active. Recovered via Restart.
	TrackerStale TrackerState = "stale"
	// TrackerDenied means location permission was refused. Terminal.
	TrackerDenied TrackerState = "denied"
	// TrackerStopped means tracking is not active.
	TrackerStopped TrackerState = "stopped"
)
