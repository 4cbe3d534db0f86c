// Package transfer scores the connection embedded in a two-leg trip plan:
// given when the first vehicle arrives at the transfer stop, when the
// connecting vehicle departs, and how long the platform walk takes, it
// classifies the transfer as likely, risky, unlikely, or unknown.
//
// The classification itself is pure arithmetic over a buffer:
//
//	buffer = (departure - arrival) - walk - safetyBuffer
//
// Data gathering and classification are split so the boundary math stays
// deterministic and directly testable.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"transitpulse/internal/config"
	"transitpulse/internal/types"
)

// SnapshotSource supplies the latest transit snapshot. Satisfied by
// *feed.Feed.
type SnapshotSource interface {
	Snapshot() (types.TransitSnapshot, types.FeedStatus)
}

// WalkEstimator supplies walking estimates between coordinates. Satisfied by
// *walking.Estimator.
type WalkEstimator interface {
	Estimate(ctx context.Context, origin, destination types.LatLng) (types.WalkingEstimate, error)
}

// Request identifies the connection to score: the stop the first leg arrives
// at, the stop the second leg departs from, and the routes on each side.
// Arrival and departure stops usually share a parent station but are distinct
// platform stops.
type Request struct {
	ArrivalStop    types.Stop
	DepartureStop  types.Stop
	ArrivalRouteID string
	ConnectRouteID string
}

// Evaluator scores transfer connections against the live snapshot.
type Evaluator struct {
	feed   SnapshotSource
	walker WalkEstimator
	cfg    config.TransferConfig
	logger *slog.Logger
	nowFn  func() time.Time
}

// Config holds the dependencies for creating an Evaluator.
type Config struct {
	Feed     SnapshotSource
	Walker   WalkEstimator
	Transfer config.TransferConfig
	Logger   *slog.Logger
	NowFn    func() time.Time // defaults to time.Now
}

// New creates an Evaluator.
func New(cfg Config) *Evaluator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Evaluator{
		feed:   cfg.Feed,
		walker: cfg.Walker,
		cfg:    cfg.Transfer,
		logger: logger,
		nowFn:  nowFn,
	}
}

// Evaluate scores the requested connection. Missing inputs never produce an
// error: they yield an Unknown evaluation whose Reason names exactly what was
// missing, so the caller can render an honest answer instead of a guess.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) types.TransferEvaluation {
	eval := types.TransferEvaluation{
		TransferStopID: req.ArrivalStop.ID,
		Confidence:     types.ConfidenceUnknown,
	}

	snap, _ := e.feed.Snapshot()
	now := e.nowFn()

	arrival := nextArrival(snap.Predictions, req.ArrivalStop.ID, req.ArrivalRouteID, now)
	if arrival == nil {
		eval.Reason = fmt.Sprintf("no arrival prediction for route %s at stop %s",
			req.ArrivalRouteID, req.ArrivalStop.ID)
		return eval
	}
	eval.ArrivalTime = &arrival.at

	walk, err := e.walker.Estimate(ctx, req.ArrivalStop.Coord(), req.DepartureStop.Coord())
	if err != nil {
		eval.Reason = fmt.Sprintf("no walk estimate between stops %s and %s: %v",
			req.ArrivalStop.ID, req.DepartureStop.ID, err)
		return eval
	}
	eval.WalkDuration = walk.Duration
	eval.WalkSource = walk.Source

	departure := nextDeparture(snap.Predictions, req.DepartureStop.ID, req.ConnectRouteID, arrival.at)
	if departure == nil {
		eval.Reason = fmt.Sprintf("no departure prediction for route %s at stop %s",
			req.ConnectRouteID, req.DepartureStop.ID)
		return eval
	}
	eval.DepartureTime = &departure.at

	buffer := departure.at.Sub(arrival.at) - walk.Duration - e.cfg.SafetyBuffer
	eval.Buffer = &buffer
	eval.Confidence = Classify(e.cfg, buffer)
	eval.Reason = fmt.Sprintf("%s buffer after a %s walk and %s safety margin",
		buffer.Round(time.Second), walk.Duration.Round(time.Second), e.cfg.SafetyBuffer)

	if arrival.source == types.PredictionScheduled || departure.source == types.PredictionScheduled {
		eval.Reason += " (based on scheduled times, not live predictions)"
		e.logger.InfoContext(ctx, "transfer scored from scheduled times",
			"transfer_stop", req.ArrivalStop.ID,
			"confidence", eval.Confidence,
		)
	}
	return eval
}

// Classify maps a transfer buffer to a confidence class. Buffers at or above
// the likely threshold are Likely, buffers at or above the unlikely threshold
// are Risky, anything below (including negative) is Unlikely.
func Classify(cfg config.TransferConfig, buffer time.Duration) types.TransferConfidence {
	switch {
	case buffer >= cfg.LikelyThreshold:
		return types.ConfidenceLikely
	case buffer >= cfg.UnlikelyThreshold:
		return types.ConfidenceRisky
	default:
		return types.ConfidenceUnlikely
	}
}

type timetableEntry struct {
	at     time.Time
	source types.PredictionSource
}

// nextArrival finds the earliest arrival for the route at the stop that is
// not already in the past.
func nextArrival(predictions []types.Prediction, stopID, routeID string, now time.Time) *timetableEntry {
	var best *timetableEntry
	for _, p := range predictions {
		if p.StopID != stopID || p.RouteID != routeID || p.ArrivalTime == nil {
			continue
		}
		at := *p.ArrivalTime
		if at.Before(now) {
			continue
		}
		if best == nil || at.Before(best.at) {
			best = &timetableEntry{at: at, source: p.Source}
		}
	}
	return best
}

// nextDeparture finds the earliest departure for the connecting route at the
// stop strictly after the incoming arrival. Departures falling back to the
// arrival field cover providers that only publish one timestamp per stop.
func nextDeparture(predictions []types.Prediction, stopID, routeID string, after time.Time) *timetableEntry {
	var best *timetableEntry
	for _, p := range predictions {
		if p.StopID != stopID || p.RouteID != routeID {
			continue
		}
		ts := p.DepartureTime
		if ts == nil {
			ts = p.ArrivalTime
		}
		if ts == nil || !ts.After(after) {
			continue
		}
		if best == nil || ts.Before(best.at) {
			best = &timetableEntry{at: *ts, source: p.Source}
		}
	}
	return best
}
