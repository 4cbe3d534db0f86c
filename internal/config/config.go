// Package config defines the global configuration structure for the
// transitpulse engine. Configuration is loaded once at process initialization
// and is immutable thereafter. It follows 12-Factor App principles by
// strictly separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> Struct Defaults (Lowest)
//
// Any missing required value or invalid format causes the application to fail
// immediately on startup (fail fast).
//
// Behavioral thresholds (jump distance, safety buffer) are deliberately
// exposed as tunable parameters with documented defaults.
package config

import (
	"time"
)

// Config is the top-level configuration struct for the engine. It is
// populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"transitpulse-engine"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server     ServerConfig
	Transit    TransitConfig
	Tracker    TrackerConfig
	Walking    WalkingConfig
	Transfer   TransferConfig
	Planner    PlannerConfig
	Supervisor SupervisorConfig
	Engine     EngineConfig
}

// ServerConfig holds the diagnostic HTTP server settings.
type ServerConfig struct {
	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPath string `envconfig:"METRICS_PATH" default:"/metrics"`
}

// TransitConfig holds transit data provider connection and polling tuning.
type TransitConfig struct {
	BaseURL string `envconfig:"TRANSIT_BASE_URL" default:"https://api-v3.mbta.com" validate:"required,url"`
	APIKey  string `envconfig:"TRANSIT_API_KEY"`

	// Route types to include when loading the static catalog
	// (0=light rail, 1=subway, 2=commuter rail, 3=bus).
	RouteTypes []int `envconfig:"TRANSIT_ROUTE_TYPES" default:"0,1"`

	// Polling cadence
	PollInterval     time.Duration `envconfig:"FEED_POLL_INTERVAL" default:"8s"`
	BackoffInterval  time.Duration `envconfig:"FEED_BACKOFF_INTERVAL" default:"15s"`
	FailureThreshold int           `envconfig:"FEED_FAILURE_THRESHOLD" default:"2" validate:"min=1"`

	// Coverage and staleness flags
	EmptyVehicleCycles   int           `envconfig:"FEED_EMPTY_VEHICLE_CYCLES" default:"3" validate:"min=1"`
	PredictionStaleAfter time.Duration `envconfig:"FEED_PREDICTION_STALE_AFTER" default:"2m"`

	// Window used when falling back from predictions to schedules.
	ScheduleWindow time.Duration `envconfig:"FEED_SCHEDULE_WINDOW" default:"1h"`

	RequestTimeout time.Duration `envconfig:"TRANSIT_REQUEST_TIMEOUT" default:"10s"`
}

// TrackerConfig holds the anti-jitter filter and staleness thresholds.
type TrackerConfig struct {
	// A fix is discarded as a GPS glitch only when it jumps farther than
	// MaxJumpDistanceMeters in less than MinJumpInterval while reporting
	// accuracy better than PoorAccuracyMeters.
	MaxJumpDistanceMeters float64       `envconfig:"TRACKER_MAX_JUMP_METERS" default:"250" validate:"gt=0"`
	MinJumpInterval       time.Duration `envconfig:"TRACKER_MIN_JUMP_INTERVAL" default:"2s"`
	PoorAccuracyMeters    float64       `envconfig:"TRACKER_POOR_ACCURACY_METERS" default:"50" validate:"gt=0"`

	StaleAfter     time.Duration `envconfig:"TRACKER_STALE_AFTER" default:"10s"`
	AccuracyWindow int           `envconfig:"TRACKER_ACCURACY_WINDOW" default:"10" validate:"min=1"`

	// Watch options passed to the device location source.
	MinUpdateInterval time.Duration `envconfig:"TRACKER_MIN_UPDATE_INTERVAL" default:"1s"`
	MinUpdateMeters   float64       `envconfig:"TRACKER_MIN_UPDATE_METERS" default:"5"`
	HighAccuracy      bool          `envconfig:"TRACKER_HIGH_ACCURACY" default:"true"`
}

// WalkingConfig holds walking estimator provider, breaker, and cache tuning.
type WalkingConfig struct {
	DirectionsBaseURL string        `envconfig:"DIRECTIONS_BASE_URL" default:"https://router.project-osrm.org" validate:"required,url"`
	RequestTimeout    time.Duration `envconfig:"DIRECTIONS_REQUEST_TIMEOUT" default:"8s"`
	RetryDelay        time.Duration `envconfig:"DIRECTIONS_RETRY_DELAY" default:"500ms"`

	CacheTTL time.Duration `envconfig:"WALKING_CACHE_TTL" default:"10m"`

	// Circuit breaker: after BreakerThreshold consecutive precise-provider
	// failures, only the heuristic provider is used for FallbackWindow.
	BreakerThreshold uint32        `envconfig:"WALKING_BREAKER_THRESHOLD" default:"2" validate:"min=1"`
	FallbackWindow   time.Duration `envconfig:"WALKING_FALLBACK_WINDOW" default:"60s"`

	// Heuristic model parameters.
	DetourFactor      float64       `envconfig:"WALKING_DETOUR_FACTOR" default:"1.25" validate:"gte=1"`
	SpeedMPS          float64       `envconfig:"WALKING_SPEED_MPS" default:"1.4" validate:"gt=0"`
	MinSpeedMPS       float64       `envconfig:"WALKING_MIN_SPEED_MPS" default:"0.8" validate:"gt=0"`
	PlatformPenalty   time.Duration `envconfig:"WALKING_PLATFORM_PENALTY" default:"60s"`
	ComplexHubPenalty time.Duration `envconfig:"WALKING_COMPLEX_HUB_PENALTY" default:"180s"`

	// Plausible operating region for precise-provider input validation.
	RegionMinLat float64 `envconfig:"WALKING_REGION_MIN_LAT" default:"41.2"`
	RegionMaxLat float64 `envconfig:"WALKING_REGION_MAX_LAT" default:"43.0"`
	RegionMinLon float64 `envconfig:"WALKING_REGION_MIN_LON" default:"-73.5"`
	RegionMaxLon float64 `envconfig:"WALKING_REGION_MAX_LON" default:"-69.9"`
}

// TransferConfig holds transfer-confidence classification thresholds.
type TransferConfig struct {
	SafetyBuffer      time.Duration `envconfig:"TRANSFER_SAFETY_BUFFER" default:"90s"`
	LikelyThreshold   time.Duration `envconfig:"TRANSFER_LIKELY_THRESHOLD" default:"240s"`
	UnlikelyThreshold time.Duration `envconfig:"TRANSFER_UNLIKELY_THRESHOLD" default:"60s"`
}

// PlannerConfig holds trip planning search limits.
type PlannerConfig struct {
	MaxTransferWalkMeters float64 `envconfig:"PLANNER_MAX_TRANSFER_WALK_METERS" default:"500" validate:"gt=0"`

	// Guard against best-effort plans over implausible distances
	// (e.g., transcontinental origins caused by bad geocoding).
	MaxPlausibleTripMeters float64 `envconfig:"PLANNER_MAX_PLAUSIBLE_TRIP_METERS" default:"100000" validate:"gt=0"`
}

// SupervisorConfig holds the audit cadence, staleness thresholds, and
// diagnostic log bounds.
type SupervisorConfig struct {
	AuditInterval  time.Duration `envconfig:"SUPERVISOR_AUDIT_INTERVAL" default:"3s"`
	FeedStaleAfter time.Duration `envconfig:"SUPERVISOR_FEED_STALE_AFTER" default:"20s"`

	MaxErrorLog   int `envconfig:"SUPERVISOR_MAX_ERROR_LOG" default:"50" validate:"min=1"`
	MaxWarningLog int `envconfig:"SUPERVISOR_MAX_WARNING_LOG" default:"50" validate:"min=1"`
	MaxFixHistory int `envconfig:"SUPERVISOR_MAX_FIX_HISTORY" default:"20" validate:"min=1"`
}

// EngineConfig holds facade-level cadence settings.
type EngineConfig struct {
	// How often the transfer evaluation embedded in the active plan is
	// recomputed from the latest snapshot.
	EvaluationInterval time.Duration `envconfig:"ENGINE_EVALUATION_INTERVAL" default:"10s"`
}
