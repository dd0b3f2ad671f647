// Package permitflow is the public API for embedding the permit workflow
// intelligence engine.
//
// The engine models how permits move through a multi-agency review
// pipeline, predicts future movement, diagnoses why a specific permit is
// stuck, answers what-if questions, and prices the delay:
//
//	eng, err := permitflow.New(
//	    permitflow.WithLogger(logger),
//	    permitflow.WithPipeline(pipeline),
//	    permitflow.WithHistoryStore(store),
//	)
//	if err != nil { ... }
//	if err := eng.Refit(ctx); err != nil { ... }
//	diag, err := eng.Diagnose(ctx, permitID)
//
// The import graph enforces a strict no-cycle rule: permitflow (root)
// imports internal/*, but internal/* never imports permitflow. Public types
// (Diagnosis, ScenarioDelta, etc.) are standalone structs; conversion
// helpers live here because this is the only file that sees both sides of
// the boundary.
package permitflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/singleflight"

	"github.com/permitops/permitflow/internal/baseline"
	"github.com/permitops/permitflow/internal/config"
	"github.com/permitops/permitflow/internal/cost"
	"github.com/permitops/permitflow/internal/diagnose"
	"github.com/permitops/permitflow/internal/graph"
	"github.com/permitops/permitflow/internal/markov"
	"github.com/permitops/permitflow/internal/model"
	"github.com/permitops/permitflow/internal/scenario"
	"github.com/permitops/permitflow/internal/storage"
)

// Error kinds surfaced by the engine. Test with errors.Is.
var (
	// ErrUnknownPermitType: a permit type missing from the cost table.
	ErrUnknownPermitType = model.ErrUnknownPermitType
	// ErrInvalidPermitState: an empty or malformed trajectory.
	ErrInvalidPermitState = model.ErrInvalidPermitState
	// ErrDeadlineExceeded: the scenario deadline elapsed before all
	// sub-analyses completed.
	ErrDeadlineExceeded = model.ErrDeadlineExceeded
	// ErrNotFitted: a query arrived before the first Refit.
	ErrNotFitted = errors.New("permitflow: model not fitted; call Refit first")
)

// FailedSubAnalysis reports which scenario sub-analysis an error from
// Simulate originated in ("predict", "baseline", "diagnose", or "cost").
func FailedSubAnalysis(err error) (string, bool) {
	var sub *model.SubAnalysisError
	if errors.As(err, &sub) {
		return string(sub.Analysis), true
	}
	return "", false
}

// internalStore is the store shape the engine uses; both built-in adapters
// satisfy it, and WithHistoryStore implementations are wrapped into it.
type internalStore interface {
	FetchTrajectories(ctx context.Context, filter model.TrajectoryFilter) ([]model.Trajectory, error)
}

// snapshot is one immutable, fully-formed model generation. Refit builds a
// complete snapshot and publishes it atomically; readers never observe a
// half-updated pair.
type snapshot struct {
	mdl  *markov.Model
	base *baseline.Snapshot
	diag *diagnose.Engine
	est  *cost.Estimator
	orch *scenario.Orchestrator
}

// Engine is the permit workflow intelligence engine. Construct with New(),
// fit with Refit(), then query. All query methods are safe for concurrent
// use; the engine holds no global mutable state beyond the atomically
// swapped snapshot.
type Engine struct {
	cfg      config.Config
	graph    *graph.Graph
	store    internalStore
	timeline TimelineSource
	clock    func() time.Time
	costs    cost.Table
	actions  []diagnose.Action
	logger   *slog.Logger

	snap    atomic.Pointer[snapshot]
	refitSF singleflight.Group
	closeFn func()
}

// New initialises the engine: loads configuration, parses the pipeline
// definition, builds the station graph, and connects the history store.
// It does not fit anything; call Refit before querying.
func New(opts ...Option) (*Engine, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.minBaselineSamples > 0 {
		cfg.MinBaselineSamples = o.minBaselineSamples
	}
	if o.minNeighborhoodSamples > 0 {
		cfg.MinNeighborhoodSamples = o.minNeighborhoodSamples
	}
	if o.stallThreshold > 0 {
		cfg.StallThreshold = o.stallThreshold
	}
	if o.predictionHorizon > 0 {
		cfg.PredictionHorizon = o.predictionHorizon
	}
	if o.scenarioTimeout > 0 {
		cfg.ScenarioTimeout = o.scenarioTimeout
	}

	var pipeline config.Pipeline
	if o.pipeline != nil {
		pipeline = toInternalPipeline(*o.pipeline)
	} else {
		pipeline, err = config.LoadPipeline(cfg.PipelinePath)
		if err != nil {
			return nil, err
		}
	}

	g, err := graph.New(pipeline.Stations, pipeline.Edges, pipeline.Start)
	if err != nil {
		return nil, err
	}

	eng := &Engine{
		cfg:      cfg,
		graph:    g,
		timeline: o.timeline,
		clock:    o.clock,
		costs:    pipeline.Costs,
		actions:  pipeline.Actions,
		logger:   logger,
	}
	if eng.clock == nil {
		eng.clock = time.Now
	}

	switch {
	case o.store != nil:
		eng.store = &storeAdapter{s: o.store}
	case cfg.SQLitePath != "":
		s, err := storage.OpenSQLite(context.Background(), cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		eng.store = s
		eng.closeFn = func() { _ = s.Close() }
	case cfg.DatabaseURL != "":
		db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		eng.store = db
		eng.closeFn = db.Close
	default:
		return nil, fmt.Errorf("permitflow: no history store configured (set DATABASE_URL, PERMITFLOW_SQLITE_PATH, or WithHistoryStore)")
	}

	return eng, nil
}

// Close releases any store connections the engine opened itself.
func (e *Engine) Close() {
	if e.closeFn != nil {
		e.closeFn()
	}
}

// Refit re-fits the transition model and baselines over the full history
// and publishes the new snapshot atomically. Concurrent Refit calls are
// coalesced; readers keep using the previous snapshot until the new one is
// fully formed. Scheduling is the caller's job; the engine never refits on
// its own.
func (e *Engine) Refit(ctx context.Context) error {
	_, err, _ := e.refitSF.Do("refit", func() (any, error) {
		start := time.Now()
		trajectories, err := e.store.FetchTrajectories(ctx, model.TrajectoryFilter{})
		if err != nil {
			return nil, fmt.Errorf("permitflow: fetch history: %w", err)
		}

		mdl := markov.Fit(trajectories, e.graph, markov.Config{
			MinNeighborhoodSamples: e.cfg.MinNeighborhoodSamples,
			StallThreshold:         e.cfg.StallThreshold,
		}, e.logger)
		base := baseline.Fit(trajectories, e.cfg.MinBaselineSamples)
		diagEng := diagnose.New(e.graph, mdl, base, e.actions)
		est := cost.New(e.costs, mdl)

		e.snap.Store(&snapshot{
			mdl:  mdl,
			base: base,
			diag: diagEng,
			est:  est,
			orch: scenario.New(mdl, base, diagEng, est, e.cfg.PredictionHorizon, e.cfg.ScenarioTimeout),
		})
		e.logger.Info("permitflow: snapshot refit",
			"trajectories", len(trajectories),
			"elapsed", time.Since(start))
		return nil, nil
	})
	return err
}

func (e *Engine) snapshot() (*snapshot, error) {
	s := e.snap.Load()
	if s == nil {
		return nil, ErrNotFitted
	}
	return s, nil
}

// PredictNext returns the ordered (station, cumulative probability)
// sequence for the permit after horizon steps. horizon <= 0 uses the
// configured default. A permit at a terminal station gets an empty
// prediction, not an error.
func (e *Engine) PredictNext(ctx context.Context, permitID uuid.UUID, horizon int) (Prediction, error) {
	s, err := e.snapshot()
	if err != nil {
		return Prediction{}, err
	}
	if horizon <= 0 {
		horizon = e.cfg.PredictionHorizon
	}
	traj, err := e.trajectory(ctx, permitID)
	if err != nil {
		return Prediction{}, err
	}
	p, err := s.mdl.PredictNext(traj, horizon)
	if err != nil {
		return Prediction{}, err
	}
	return fromPrediction(permitID, p), nil
}

// Diagnose classifies the permit's current dwell against its baseline and
// returns the ranked remediation playbook. The live timeline is queried
// fresh for this call.
func (e *Engine) Diagnose(ctx context.Context, permitID uuid.UUID) (Diagnosis, error) {
	s, err := e.snapshot()
	if err != nil {
		return Diagnosis{}, err
	}
	traj, tl, err := e.permitView(ctx, permitID)
	if err != nil {
		return Diagnosis{}, err
	}
	d, err := s.diag.Diagnose(traj, tl)
	if err != nil {
		return Diagnosis{}, err
	}
	return fromDiagnosis(d), nil
}

// Estimate prices the permit's current delay. An unrecognized permit type
// is ErrUnknownPermitType, never a zero-cost default.
func (e *Engine) Estimate(ctx context.Context, permitID uuid.UUID) (CostEstimate, error) {
	s, err := e.snapshot()
	if err != nil {
		return CostEstimate{}, err
	}
	traj, tl, err := e.permitView(ctx, permitID)
	if err != nil {
		return CostEstimate{}, err
	}
	d, err := s.diag.Diagnose(traj, tl)
	if err != nil {
		return CostEstimate{}, err
	}
	c, err := s.est.Estimate(d, tl)
	if err != nil {
		return CostEstimate{}, err
	}
	return fromEstimate(c), nil
}

// Baseline looks up the dwell baseline for a (station, permit type,
// neighborhood) group from the current snapshot.
func (e *Engine) Baseline(station StationID, permitType, neighborhood string) (Baseline, error) {
	s, err := e.snapshot()
	if err != nil {
		return Baseline{}, err
	}
	b := s.base.Lookup(model.StationID(station), model.PermitType(permitType), model.Neighborhood(neighborhood))
	return fromBaseline(b), nil
}

// OpenPermits lists permits whose latest recorded event is still open,
// ordered as the store returns them. Batch callers iterate this to report
// on everything currently in flight.
func (e *Engine) OpenPermits(ctx context.Context) ([]uuid.UUID, error) {
	trajectories, err := e.store.FetchTrajectories(ctx, model.TrajectoryFilter{})
	if err != nil {
		return nil, fmt.Errorf("permitflow: fetch trajectories: %w", err)
	}
	var ids []uuid.UUID
	for _, t := range trajectories {
		if !t.Completed() {
			ids = append(ids, t.PermitID)
		}
	}
	return ids, nil
}

// BaselineRun is a reusable real (non-hypothetical) scenario branch.
// Callers issuing several Simulate calls against the same permit state pass
// it back to avoid recomputing the baseline branch.
type BaselineRun struct {
	permitID uuid.UUID
	run      scenario.Run
}

// ScenarioBaseline computes the real branch for the permit under the
// current snapshot.
func (e *Engine) ScenarioBaseline(ctx context.Context, permitID uuid.UUID) (*BaselineRun, error) {
	s, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	traj, tl, err := e.permitView(ctx, permitID)
	if err != nil {
		return nil, err
	}
	run, err := s.orch.Baseline(ctx, traj, tl)
	if err != nil {
		return nil, err
	}
	return &BaselineRun{permitID: permitID, run: run}, nil
}

// Simulate answers a what-if question: it applies the scenario's overrides,
// runs the four sub-analyses for the hypothetical branch concurrently under
// the shared deadline, and returns the structured delta against the real
// branch. Any sub-analysis failure fails the whole call (identify it with
// FailedSubAnalysis); no partial delta is ever returned. Deterministic
// given identical permit state, overrides, and snapshot.
func (e *Engine) Simulate(ctx context.Context, permitID uuid.UUID, sc Scenario, base *BaselineRun) (ScenarioDelta, error) {
	s, err := e.snapshot()
	if err != nil {
		return ScenarioDelta{}, err
	}
	traj, tl, err := e.permitView(ctx, permitID)
	if err != nil {
		return ScenarioDelta{}, err
	}

	var real *scenario.Run
	if base != nil {
		if base.permitID != permitID {
			return ScenarioDelta{}, fmt.Errorf("permitflow: baseline run belongs to permit %s, not %s", base.permitID, permitID)
		}
		real = &base.run
	}

	delta, err := s.orch.Simulate(ctx, traj, tl, toInternalScenario(sc), real)
	if err != nil {
		return ScenarioDelta{}, err
	}
	return fromDelta(permitID, delta), nil
}

// trajectory fetches one permit's history. A permit with no recorded
// events is an invalid state, not an empty diagnosis.
func (e *Engine) trajectory(ctx context.Context, permitID uuid.UUID) (model.Trajectory, error) {
	trajectories, err := e.store.FetchTrajectories(ctx, model.TrajectoryFilter{PermitIDs: []uuid.UUID{permitID}})
	if err != nil {
		return model.Trajectory{}, fmt.Errorf("permitflow: fetch trajectory: %w", err)
	}
	if len(trajectories) == 0 {
		return model.Trajectory{}, fmt.Errorf("%w: permit %s has no recorded events", ErrInvalidPermitState, permitID)
	}
	return trajectories[0], nil
}

// permitView assembles the (trajectory, live timeline) pair for a permit.
func (e *Engine) permitView(ctx context.Context, permitID uuid.UUID) (model.Trajectory, model.Timeline, error) {
	traj, err := e.trajectory(ctx, permitID)
	if err != nil {
		return model.Trajectory{}, model.Timeline{}, err
	}

	if e.timeline != nil {
		tl, err := e.timeline.Timeline(ctx, permitID)
		if err != nil {
			return model.Trajectory{}, model.Timeline{}, fmt.Errorf("permitflow: live timeline: %w", err)
		}
		return traj, model.Timeline{
			Station:    model.StationID(tl.Station),
			EnteredAt:  tl.EnteredAt,
			ObservedAt: tl.ObservedAt,
		}, nil
	}

	// Derived timeline: the last history event, observed now (or frozen at
	// its exit when the permit has already moved on).
	last := traj.Events[len(traj.Events)-1]
	observed := e.clock()
	if last.ExitedAt != nil {
		observed = *last.ExitedAt
	}
	return traj, model.Timeline{
		Station:    last.Station,
		EnteredAt:  last.EnteredAt,
		ObservedAt: observed,
	}, nil
}

// storeAdapter bridges a caller-supplied HistoryStore into the internal
// store shape.
type storeAdapter struct {
	s HistoryStore
}

func (a *storeAdapter) FetchTrajectories(ctx context.Context, f model.TrajectoryFilter) ([]model.Trajectory, error) {
	pub := TrajectoryFilter{
		PermitIDs:     f.PermitIDs,
		EnteredAfter:  f.EnteredAfter,
		EnteredBefore: f.EnteredBefore,
		CompletedOnly: f.CompletedOnly,
	}
	if f.PermitType != nil {
		pub.PermitType = string(*f.PermitType)
	}
	if f.Neighborhood != nil {
		pub.Neighborhood = string(*f.Neighborhood)
	}
	trajectories, err := a.s.FetchTrajectories(ctx, pub)
	if err != nil {
		return nil, err
	}
	out := make([]model.Trajectory, len(trajectories))
	for i, t := range trajectories {
		out[i] = toModelTrajectory(t)
	}
	return out, nil
}
