package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitpulse/internal/config"
	"transitpulse/internal/types"
)

// --- Test Doubles ---

type stubFeed struct {
	snap types.TransitSnapshot
}

func (s *stubFeed) Snapshot() (types.TransitSnapshot, types.FeedStatus) {
	return s.snap, types.FeedStatus{Polling: true}
}

type stubWalker struct {
	estimate types.WalkingEstimate
	err      error
}

func (s *stubWalker) Estimate(context.Context, types.LatLng, types.LatLng) (types.WalkingEstimate, error) {
	return s.estimate, s.err
}

func transferTestConfig() config.TransferConfig {
	return config.TransferConfig{
		SafetyBuffer:      90 * time.Second,
		LikelyThreshold:   240 * time.Second,
		UnlikelyThreshold: 60 * time.Second,
	}
}

var (
	parkStreetRed = types.Stop{
		ID: "70075", Name: "Park Street", Latitude: 42.3564, Longitude: -71.0624, ParentStation: "place-pktrm",
	}
	parkStreetGreen = types.Stop{
		ID: "70200", Name: "Park Street", Latitude: 42.3566, Longitude: -71.0622, ParentStation: "place-pktrm",
	}
)

// scoringFixture wires a snapshot so that the buffer comes out to the given
// duration with a 2-minute walk and the standard safety margin.
func scoringFixture(buffer time.Duration) (*stubFeed, *stubWalker, *testingClock) {
	clock := &testingClock{now: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)}
	walk := 2 * time.Minute
	arrival := clock.now.Add(3 * time.Minute)
	departure := arrival.Add(buffer + walk + 90*time.Second)

	feed := &stubFeed{snap: types.TransitSnapshot{
		Predictions: []types.Prediction{
			{ID: "arr", StopID: parkStreetRed.ID, RouteID: "Red", ArrivalTime: &arrival, Source: types.PredictionLive},
			{ID: "dep", StopID: parkStreetGreen.ID, RouteID: "Green-B", DepartureTime: &departure, Source: types.PredictionLive},
		},
	}}
	walker := &stubWalker{estimate: types.WalkingEstimate{
		DistanceMeters: 160,
		Duration:       walk,
		Source:         types.WalkSourcePrecise,
		ComputedAt:     clock.now,
	}}
	return feed, walker, clock
}

type testingClock struct {
	now time.Time
}

func (c *testingClock) Now() time.Time { return c.now }

func newTestEvaluator(feed *stubFeed, walker *stubWalker, clock *testingClock) *Evaluator {
	return New(Config{
		Feed:     feed,
		Walker:   walker,
		Transfer: transferTestConfig(),
		NowFn:    clock.Now,
	})
}

func standardRequest() Request {
	return Request{
		ArrivalStop:    parkStreetRed,
		DepartureStop:  parkStreetGreen,
		ArrivalRouteID: "Red",
		ConnectRouteID: "Green-B",
	}
}

// --- Tests ---

func TestClassify_Boundaries(t *testing.T) {
	cfg := transferTestConfig()

	cases := []struct {
		name   string
		buffer time.Duration
		want   types.TransferConfidence
	}{
		{"well above likely", 10 * time.Minute, types.ConfidenceLikely},
		{"exactly at likely threshold", 240 * time.Second, types.ConfidenceLikely},
		{"one second under likely", 239 * time.Second, types.ConfidenceRisky},
		{"exactly at unlikely threshold", 60 * time.Second, types.ConfidenceRisky},
		{"one second under unlikely", 59 * time.Second, types.ConfidenceUnlikely},
		{"zero buffer", 0, types.ConfidenceUnlikely},
		{"negative buffer", -3 * time.Minute, types.ConfidenceUnlikely},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(cfg, tc.buffer))
		})
	}
}

func TestEvaluate_ComputesBufferFromSnapshot(t *testing.T) {
	feed, walker, clock := scoringFixture(5 * time.Minute)
	e := newTestEvaluator(feed, walker, clock)

	eval := e.Evaluate(context.Background(), standardRequest())

	require.NotNil(t, eval.Buffer)
	assert.Equal(t, 5*time.Minute, *eval.Buffer)
	assert.Equal(t, types.ConfidenceLikely, eval.Confidence)
	assert.Equal(t, types.WalkSourcePrecise, eval.WalkSource)
	assert.NotNil(t, eval.ArrivalTime)
	assert.NotNil(t, eval.DepartureTime)
}

func TestEvaluate_MissingArrivalYieldsUnknownNamingTheGap(t *testing.T) {
	feed, walker, clock := scoringFixture(5 * time.Minute)
	feed.snap.Predictions = feed.snap.Predictions[1:] // drop the arrival

	e := newTestEvaluator(feed, walker, clock)
	eval := e.Evaluate(context.Background(), standardRequest())

	assert.Equal(t, types.ConfidenceUnknown, eval.Confidence)
	assert.Nil(t, eval.Buffer)
	assert.Contains(t, eval.Reason, "no arrival prediction")
	assert.Contains(t, eval.Reason, "Red")
	assert.Contains(t, eval.Reason, parkStreetRed.ID)
}

func TestEvaluate_MissingDepartureYieldsUnknown(t *testing.T) {
	feed, walker, clock := scoringFixture(5 * time.Minute)
	feed.snap.Predictions = feed.snap.Predictions[:1] // drop the departure

	e := newTestEvaluator(feed, walker, clock)
	eval := e.Evaluate(context.Background(), standardRequest())

	assert.Equal(t, types.ConfidenceUnknown, eval.Confidence)
	assert.Contains(t, eval.Reason, "no departure prediction")
	assert.Contains(t, eval.Reason, "Green-B")
}

func TestEvaluate_WalkFailureYieldsUnknown(t *testing.T) {
	feed, walker, clock := scoringFixture(5 * time.Minute)
	walker.err = types.NewAppError(types.ErrCodeValidationInvalidLat, "bad latitude", nil)

	e := newTestEvaluator(feed, walker, clock)
	eval := e.Evaluate(context.Background(), standardRequest())

	assert.Equal(t, types.ConfidenceUnknown, eval.Confidence)
	assert.Contains(t, eval.Reason, "no walk estimate")
}

func TestEvaluate_ScheduledTimesAreCalledOut(t *testing.T) {
	feed, walker, clock := scoringFixture(5 * time.Minute)
	feed.snap.Predictions[1].Source = types.PredictionScheduled

	e := newTestEvaluator(feed, walker, clock)
	eval := e.Evaluate(context.Background(), standardRequest())

	assert.Equal(t, types.ConfidenceLikely, eval.Confidence)
	assert.Contains(t, eval.Reason, "scheduled times")
}

func TestEvaluate_PicksEarliestUpcomingArrival(t *testing.T) {
	feed, walker, clock := scoringFixture(5 * time.Minute)

	past := clock.now.Add(-2 * time.Minute)
	later := clock.now.Add(20 * time.Minute)
	feed.snap.Predictions = append(feed.snap.Predictions,
		types.Prediction{ID: "past", StopID: parkStreetRed.ID, RouteID: "Red", ArrivalTime: &past, Source: types.PredictionLive},
		types.Prediction{ID: "later", StopID: parkStreetRed.ID, RouteID: "Red", ArrivalTime: &later, Source: types.PredictionLive},
	)

	e := newTestEvaluator(feed, walker, clock)
	eval := e.Evaluate(context.Background(), standardRequest())

	require.NotNil(t, eval.ArrivalTime)
	assert.Equal(t, clock.now.Add(3*time.Minute), *eval.ArrivalTime,
		"the earliest arrival that is still upcoming must win")
}

func TestEvaluate_DepartureMustFollowArrival(t *testing.T) {
	feed, walker, clock := scoringFixture(5 * time.Minute)

	// A connecting departure before the incoming arrival is not catchable.
	early := clock.now.Add(time.Minute)
	feed.snap.Predictions = append(feed.snap.Predictions,
		types.Prediction{ID: "early", StopID: parkStreetGreen.ID, RouteID: "Green-B", DepartureTime: &early, Source: types.PredictionLive},
	)

	e := newTestEvaluator(feed, walker, clock)
	eval := e.Evaluate(context.Background(), standardRequest())

	require.NotNil(t, eval.Buffer)
	assert.Equal(t, 5*time.Minute, *eval.Buffer,
		"departures before the arrival must be skipped, not scored")
}
