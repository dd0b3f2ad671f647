package permitflow

import (
	"log/slog"
	"time"
)

// Option configures an Engine.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	logger   *slog.Logger
	store    HistoryStore
	timeline TimelineSource
	pipeline *Pipeline
	clock    func() time.Time

	databaseURL string
	sqlitePath  string

	minBaselineSamples     int
	minNeighborhoodSamples int
	stallThreshold         float64
	predictionHorizon      int
	scenarioTimeout        time.Duration
}

// WithLogger sets the structured logger for the Engine.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithHistoryStore replaces the built-in history store adapters. Use this
// when permit history lives somewhere other than Postgres or SQLite.
func WithHistoryStore(s HistoryStore) Option {
	return func(o *resolvedOptions) { o.store = s }
}

// WithTimelineSource sets the live timeline collaborator. If not set, the
// engine derives timelines from each permit's last open history event.
func WithTimelineSource(ts TimelineSource) Option {
	return func(o *resolvedOptions) { o.timeline = ts }
}

// WithPipeline supplies the pipeline definition directly, overriding the
// PERMITFLOW_PIPELINE file.
func WithPipeline(p Pipeline) Option {
	return func(o *resolvedOptions) { o.pipeline = &p }
}

// WithClock overrides the engine clock. Tests use this to pin "now".
func WithClock(now func() time.Time) Option {
	return func(o *resolvedOptions) { o.clock = now }
}

// WithDatabaseURL overrides the history store connection string from config
// (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath points the engine at a local SQLite history store
// (PERMITFLOW_SQLITE_PATH env var).
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithMinBaselineSamples overrides the sample count below which a baseline
// group is flagged low-confidence (PERMITFLOW_MIN_BASELINE_SAMPLES).
func WithMinBaselineSamples(n int) Option {
	return func(o *resolvedOptions) { o.minBaselineSamples = n }
}

// WithMinNeighborhoodSamples overrides the transition count below which a
// neighborhood-filtered row falls back to the type-level row
// (PERMITFLOW_MIN_NEIGHBORHOOD_SAMPLES).
func WithMinNeighborhoodSamples(n int) Option {
	return func(o *resolvedOptions) { o.minNeighborhoodSamples = n }
}

// WithStallThreshold overrides the self-transition probability that flags
// stall risk (PERMITFLOW_STALL_THRESHOLD).
func WithStallThreshold(p float64) Option {
	return func(o *resolvedOptions) { o.stallThreshold = p }
}

// WithPredictionHorizon overrides the default multi-step prediction depth
// (PERMITFLOW_PREDICTION_HORIZON).
func WithPredictionHorizon(n int) Option {
	return func(o *resolvedOptions) { o.predictionHorizon = n }
}

// WithScenarioTimeout overrides the shared deadline across a scenario's
// concurrent sub-analyses (PERMITFLOW_SCENARIO_TIMEOUT).
func WithScenarioTimeout(d time.Duration) Option {
	return func(o *resolvedOptions) { o.scenarioTimeout = d }
}
