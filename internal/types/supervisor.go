// Package types defines the shared domain model for the transitpulse engine:
// positions, transit snapshots, walking estimates, transfer evaluations, trip
// plans, supervisor diagnostics, and the application error taxonomy.
//
// Each entity here is exclusively owned and mutated by exactly one component;
// everything published through accessors is a copy or immutable value.
package types

import (
	"time"
)

// Component identifies an audited engine component.
type Component string

const (
	ComponentTracker    Component = "position_tracker"
	ComponentFeed       Component = "transit_feed"
	ComponentPlanner    Component = "trip_planner"
	ComponentWalking    Component = "walking_estimator"
	ComponentSupervisor Component = "supervisor"
)

// DiagnosticEntry is a single bounded-log record (error or warning).
type DiagnosticEntry struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Component Component `json:"component"`
	Message   string    `json:"message"`
}

// AutoFixEntry records one corrective action issued by the supervisor,
// enabling forensic replay of what the system self-corrected and when.
type AutoFixEntry struct {
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	Category string    `json:"category"`
	Issue    string    `json:"issue"`
	Action   string    `json:"action"`
	Success  bool      `json:"success"`
}

// SupervisorState is the supervisor's published view of system health.
// Lives for the process lifetime; log entries are evicted oldest-first once
// bounds are exceeded.
type SupervisorState struct {
	Health         map[Component]bool `json:"health"`
	Errors         []DiagnosticEntry  `json:"errors"`
	Warnings       []DiagnosticEntry  `json:"warnings"`
	AutoFixHistory []AutoFixEntry     `json:"auto_fix_history"`
	LastAuditAt    time.Time          `json:"last_audit_at"`
	AuditCount     int64              `json:"audit_count"`
}
