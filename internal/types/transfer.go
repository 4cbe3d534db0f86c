package types

import (
	"time"
)

// TransferConfidence classifies how likely a transfer connection is to be
// made.
type TransferConfidence string

const (
	ConfidenceLikely   TransferConfidence = "likely"
	ConfidenceRisky    TransferConfidence = "risky"
	ConfidenceUnlikely TransferConfidence = "unlikely"
	ConfidenceUnknown  TransferConfidence = "unknown"
)

// TransferEvaluation is the result of scoring a single transfer connection.
// Recomputed on each evaluation cycle; never persisted beyond the latest
// value.
type TransferEvaluation struct {
	TransferStopID string             `json:"transfer_stop_id"`
	ArrivalTime    *time.Time         `json:"arrival_time,omitempty"`
	DepartureTime  *time.Time         `json:"departure_time,omitempty"`
	WalkDuration   time.Duration      `json:"walk_duration"`
	WalkSource     WalkSource         `json:"walk_source"`
	Buffer         *time.Duration     `json:"buffer,omitempty"`
	Confidence     TransferConfidence `json:"confidence"`
	Reason         string             `json:"reason"`
}
