package types

import (
	"time"
)

// WalkSource identifies which provider produced a walking estimate.
type WalkSource string

const (
	// WalkSourcePrecise is the external directions service.
	WalkSourcePrecise WalkSource = "precise"
	// WalkSourceHeuristic is the great-circle fallback model.
	WalkSourceHeuristic WalkSource = "heuristic"
)

// WalkingEstimate is a walking distance/duration estimate between two
// geographic points. Immutable once produced; cached by rounded
// (origin, destination) pair with a fixed time-to-live.
type WalkingEstimate struct {
	DistanceMeters float64       `json:"distance_meters"`
	Duration       time.Duration `json:"duration"`
	Source         WalkSource    `json:"source"`
	ComputedAt     time.Time     `json:"computed_at"`
}
