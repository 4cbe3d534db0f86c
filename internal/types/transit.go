package types

import (
	"time"
)

// Route is static route metadata from the transit provider, cached
// indefinitely per session.
type Route struct {
	ID        string `json:"id"`
	ShortName string `json:"short_name"`
	LongName  string `json:"long_name"`
	Type      int    `json:"type"`
}

// Stop is static stop metadata from the transit provider. Results with
// invalid coordinates are dropped at decode time.
type Stop struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	ParentStation string  `json:"parent_station,omitempty"`
}

// Coord returns the stop's coordinate pair.
func (s Stop) Coord() LatLng {
	return LatLng{Latitude: s.Latitude, Longitude: s.Longitude}
}

// VehicleStatus describes a vehicle's relation to its current stop.
type VehicleStatus string

const (
	VehicleIncoming  VehicleStatus = "incoming_at"
	VehicleStopped   VehicleStatus = "stopped_at"
	VehicleInTransit VehicleStatus = "in_transit_to"
)

// Vehicle is a live vehicle position from the transit provider.
type Vehicle struct {
	ID        string        `json:"id"`
	RouteID   string        `json:"route_id"`
	Latitude  float64       `json:"latitude"`
	Longitude float64       `json:"longitude"`
	Bearing   *float64      `json:"bearing,omitempty"`
	Status    VehicleStatus `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// PredictionSource distinguishes live predictions from static schedule
// entries used as a fallback.
type PredictionSource string

const (
	// PredictionLive is a real-time arrival/departure estimate, preferred
	// over scheduled times.
	PredictionLive PredictionSource = "prediction"
	// PredictionScheduled is a static timetable entry used only when live
	// predictions are unavailable.
	PredictionScheduled PredictionSource = "schedule"
)

// Prediction is an arrival/departure time for a route at a stop. Either time
// may be absent (first/last stop of a trip).
type Prediction struct {
	ID            string           `json:"id"`
	StopID        string           `json:"stop_id"`
	RouteID       string           `json:"route_id"`
	DirectionID   int              `json:"direction_id"`
	ArrivalTime   *time.Time       `json:"arrival_time,omitempty"`
	DepartureTime *time.Time       `json:"departure_time,omitempty"`
	Source        PredictionSource `json:"source"`
}

// TransitSnapshot is the latest complete view of live transit state. Owned
// exclusively by the transit feed and replaced wholesale on each successful
// poll; consumers never observe a mix of old vehicles with new predictions
// beyond the documented partial-failure preservation.
type TransitSnapshot struct {
	Vehicles    []Vehicle    `json:"vehicles"`
	Predictions []Prediction `json:"predictions"`
}

// FeedStatus is the transit feed's health bundle, published alongside each
// snapshot.
type FeedStatus struct {
	Polling             bool      `json:"polling"`
	LowCoverage         bool      `json:"low_coverage"`
	StalePredictions    bool      `json:"stale_predictions"`
	LastUpdate          time.Time `json:"last_update"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}
