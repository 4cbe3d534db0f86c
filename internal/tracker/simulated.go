package tracker

import (
	"context"
	"sync"
	"time"

	"transitpulse/internal/types"
)

// SimulatedSource is a LocationSource that interpolates fixes along a
// waypoint path at a fixed cadence. It backs local runs and demos where no
// real device location service exists.
type SimulatedSource struct {
	Waypoints []types.LatLng
	// StepFraction is how far along the remaining path each tick moves
	// (0..1]. Defaults to 0.05.
	StepFraction float64
	// Accuracy reported on every fix, in meters. Defaults to 10.
	Accuracy float64
	// NowFn defaults to time.Now.
	NowFn func() time.Time
}

// Watch implements LocationSource. Fixes are delivered from a goroutine
// every opts.MinInterval until the context is cancelled or the returned
// cancel function is called. Cancel blocks until the delivery goroutine has
// exited, so no callback runs after cancel returns.
func (s *SimulatedSource) Watch(ctx context.Context, opts WatchOptions, cb WatchCallbacks) (func(), error) {
	if len(s.Waypoints) == 0 {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			"simulated source requires at least one waypoint", nil)
	}

	step := s.StepFraction
	if step <= 0 || step > 1 {
		step = 0.05
	}
	accuracy := s.Accuracy
	if accuracy <= 0 {
		accuracy = 10
	}
	nowFn := s.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	interval := opts.MinInterval
	if interval <= 0 {
		interval = time.Second
	}

	watchCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		pos := s.Waypoints[0]
		target := 0
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
				if target < len(s.Waypoints)-1 {
					next := s.Waypoints[target+1]
					pos.Latitude += (next.Latitude - pos.Latitude) * step
					pos.Longitude += (next.Longitude - pos.Longitude) * step
					// Close enough: snap to the waypoint and advance.
					if absf(next.Latitude-pos.Latitude) < 1e-5 && absf(next.Longitude-pos.Longitude) < 1e-5 {
						pos = next
						target++
					}
				}
				cb.OnFix(types.Position{
					Latitude:       pos.Latitude,
					Longitude:      pos.Longitude,
					AccuracyMeters: accuracy,
					CapturedAt:     nowFn(),
				})
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}, nil
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
