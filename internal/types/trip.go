package types

import (
	"time"
)

// PlanStatus is the lifecycle state of a trip plan.
type PlanStatus string

const (
	PlanValid       PlanStatus = "valid"
	PlanRecomputing PlanStatus = "recomputing"
	PlanError       PlanStatus = "error"
)

// TripLeg is a single ride on one route between two stops.
type TripLeg struct {
	RouteID     string `json:"route_id"`
	FromStopID  string `json:"from_stop_id"`
	ToStopID    string `json:"to_stop_id"`
	DirectionID int    `json:"direction_id"`
}

// TripPlan is an ordered set of legs from an origin to a destination stop.
// Created when a destination is chosen, regenerated wholesale, and destroyed
// when the destination is cleared.
type TripPlan struct {
	ID          string              `json:"id"`
	Legs        []TripLeg           `json:"legs"`
	Transfer    *TransferEvaluation `json:"transfer,omitempty"`
	Status      PlanStatus          `json:"status"`
	Warning     string              `json:"warning,omitempty"`
	LastUpdated time.Time           `json:"last_updated"`
}

// LegTask is a downstream checklist item derived from a plan leg. Tasks
// reference their plan by ID so the supervisor can detect tasks orphaned by
// plan regeneration and rebuild them while preserving completion.
type LegTask struct {
	PlanID      string `json:"plan_id"`
	LegIndex    int    `json:"leg_index"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
}
