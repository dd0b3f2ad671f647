// Package scenario answers what-if questions by recombining the engine's
// sub-analyses under hypothetical overrides and diffing the result against
// the real, unmodified run.
//
// This is the one place in the engine with explicit concurrency
// coordination: the four sub-analyses of a branch are independent, fan out
// on an errgroup under a shared deadline, and must all complete. A partial
// scenario is misleading rather than merely incomplete, so any sub-analysis
// failure fails the whole call.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/permitops/permitflow/internal/baseline"
	"github.com/permitops/permitflow/internal/cost"
	"github.com/permitops/permitflow/internal/diagnose"
	"github.com/permitops/permitflow/internal/markov"
	"github.com/permitops/permitflow/internal/model"
)

// Run bundles the four sub-analysis results for one branch.
type Run struct {
	Prediction markov.Prediction
	Baseline   baseline.Baseline
	Diagnosis  diagnose.Diagnosis
	Cost       cost.Estimate
}

// Change is one delta field, explicitly marked changed or unchanged rather
// than just printed side by side.
type Change[T any] struct {
	Before  T
	After   T
	Changed bool
}

// Delta is the structural difference between the real and hypothetical runs.
type Delta struct {
	Name string

	PredictedStations Change[[]model.StationID]
	Severity          Change[model.Severity]
	TotalCost         Change[float64]
	StallRisk         Change[bool]

	Real         Run
	Hypothetical Run
}

// Scenario is a named override set.
type Scenario struct {
	Name      string
	Overrides []Override
}

// Orchestrator composes the transition model, diagnostics, and cost model
// over real and hypothetical permit views.
type Orchestrator struct {
	mdl       *markov.Model
	baselines *baseline.Snapshot
	diag      *diagnose.Engine
	est       *cost.Estimator

	horizon int
	timeout time.Duration
	tracer  trace.Tracer
}

// New wires an orchestrator against one immutable snapshot pair.
// horizon is the prediction depth used for both branches; timeout is the
// shared deadline across each branch's fan-out.
func New(mdl *markov.Model, b *baseline.Snapshot, diag *diagnose.Engine, est *cost.Estimator, horizon int, timeout time.Duration) *Orchestrator {
	if horizon <= 0 {
		horizon = 3
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Orchestrator{
		mdl:       mdl,
		baselines: b,
		diag:      diag,
		est:       est,
		horizon:   horizon,
		timeout:   timeout,
		tracer:    otel.Tracer("permitflow/scenario"),
	}
}

// Baseline computes the real (non-hypothetical) run so callers issuing
// several scenarios against the same permit state can reuse it.
func (o *Orchestrator) Baseline(ctx context.Context, t model.Trajectory, tl model.Timeline) (Run, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.runBranch(ctx, view{trajectory: t, timeline: tl})
}

// Simulate applies the scenario's overrides, runs both branches, and
// returns the field-wise delta. If real is non-nil it is reused as the
// baseline branch instead of recomputing it. Deterministic given identical
// permit state, overrides, and snapshots.
func (o *Orchestrator) Simulate(ctx context.Context, t model.Trajectory, tl model.Timeline, sc Scenario, real *Run) (Delta, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "scenario.simulate",
		trace.WithAttributes(attribute.String("scenario.name", sc.Name)))
	defer span.End()

	hypoView, err := applyOverrides(o.mdl.Graph(), view{trajectory: t, timeline: tl}, sc.Overrides)
	if err != nil {
		return Delta{}, err
	}

	if real == nil {
		base, err := o.runBranch(ctx, view{trajectory: t, timeline: tl})
		if err != nil {
			return Delta{}, err
		}
		real = &base
	}

	hypo, err := o.runBranch(ctx, hypoView)
	if err != nil {
		return Delta{}, err
	}

	return diff(sc.Name, *real, hypo), nil
}

// runBranch fans out the four sub-analyses and joins them all, or fails
// with the first error wrapped to identify its origin.
func (o *Orchestrator) runBranch(ctx context.Context, v view) (Run, error) {
	var run Run
	g, ctx := errgroup.WithContext(ctx)

	// The diagnosis feeds the cost estimate, so those two run as one task;
	// prediction and baseline lookup are fully independent. The analysis
	// set is closed: extending it means a new model.SubAnalysis constant
	// and a new task here.
	g.Go(o.task(ctx, model.SubAnalysisPredict, func() error {
		p, err := o.mdl.PredictNext(v.trajectory, o.horizon)
		if err != nil {
			return err
		}
		run.Prediction = p
		return nil
	}))
	g.Go(o.task(ctx, model.SubAnalysisBaseline, func() error {
		run.Baseline = o.baselines.Lookup(v.timeline.Station, v.trajectory.PermitType, v.trajectory.Neighborhood)
		return nil
	}))
	g.Go(func() error {
		err := o.task(ctx, model.SubAnalysisDiagnose, func() error {
			d, err := o.diag.Diagnose(v.trajectory, v.timeline)
			if err != nil {
				return err
			}
			run.Diagnosis = d
			return nil
		})()
		if err != nil {
			return err
		}
		return o.task(ctx, model.SubAnalysisCost, func() error {
			c, err := o.est.Estimate(run.Diagnosis, v.timeline)
			if err != nil {
				return err
			}
			run.Cost = c
			return nil
		})()
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Run{}, fmt.Errorf("%w: %v", model.ErrDeadlineExceeded, err)
		}
		return Run{}, err
	}
	return run, nil
}

// task wraps one sub-analysis with its span, deadline check, and
// origin-identifying error wrapper.
func (o *Orchestrator) task(ctx context.Context, name model.SubAnalysis, fn func() error) func() error {
	return func() error {
		_, span := o.tracer.Start(ctx, "scenario."+string(name))
		defer span.End()
		if err := ctx.Err(); err != nil {
			return &model.SubAnalysisError{Analysis: name, Err: err}
		}
		if err := fn(); err != nil {
			return &model.SubAnalysisError{Analysis: name, Err: err}
		}
		return nil
	}
}

func diff(name string, real, hypo Run) Delta {
	d := Delta{Name: name, Real: real, Hypothetical: hypo}

	before := stationList(real.Prediction)
	after := stationList(hypo.Prediction)
	d.PredictedStations = Change[[]model.StationID]{
		Before: before, After: after, Changed: !stationsEqual(before, after),
	}
	d.Severity = Change[model.Severity]{
		Before:  real.Diagnosis.Severity,
		After:   hypo.Diagnosis.Severity,
		Changed: real.Diagnosis.Severity != hypo.Diagnosis.Severity,
	}
	d.TotalCost = Change[float64]{
		Before:  real.Cost.Total,
		After:   hypo.Cost.Total,
		Changed: real.Cost.Total != hypo.Cost.Total,
	}
	d.StallRisk = Change[bool]{
		Before:  real.Prediction.StallRisk,
		After:   hypo.Prediction.StallRisk,
		Changed: real.Prediction.StallRisk != hypo.Prediction.StallRisk,
	}
	return d
}

func stationList(p markov.Prediction) []model.StationID {
	out := make([]model.StationID, len(p.Stations))
	for i, s := range p.Stations {
		out[i] = s.Station
	}
	return out
}

func stationsEqual(a, b []model.StationID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
