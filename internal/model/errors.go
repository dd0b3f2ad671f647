package model

import (
	"errors"
	"fmt"
)

// Sentinel error kinds surfaced to the embedding application. Sparse data is
// never an error: the model and baseline layers degrade through their
// fallback chains and flag confidence instead. These cover malformed or
// unrecognized inputs, where a silent default would corrupt downstream
// severity and financial reasoning.
var (
	// ErrUnknownPermitType is returned when a permit type is missing from
	// the configured cost table. Unknown categories are never priced at zero.
	ErrUnknownPermitType = errors.New("unknown permit type")

	// ErrInvalidPermitState is returned for an empty or malformed trajectory.
	ErrInvalidPermitState = errors.New("invalid permit state")

	// ErrDeadlineExceeded is returned when the scenario orchestrator's shared
	// deadline elapses before all sub-analyses complete.
	ErrDeadlineExceeded = errors.New("scenario deadline exceeded")
)

// SubAnalysis names one of the orchestrator's concurrent scenario branches.
// The set is closed: adding an analysis means adding a constant here and a
// dispatch entry in the orchestrator, keeping the fan-out exhaustive.
type SubAnalysis string

const (
	SubAnalysisPredict  SubAnalysis = "predict"
	SubAnalysisBaseline SubAnalysis = "baseline"
	SubAnalysisDiagnose SubAnalysis = "diagnose"
	SubAnalysisCost     SubAnalysis = "cost"
)

// SubAnalysisError wraps a failure from one scenario branch, identifying
// which sub-analysis failed. A scenario missing one dimension is misleading
// rather than merely incomplete, so the orchestrator fails the whole call.
type SubAnalysisError struct {
	Analysis SubAnalysis
	Err      error
}

func (e *SubAnalysisError) Error() string {
	return fmt.Sprintf("scenario sub-analysis %q failed: %v", e.Analysis, e.Err)
}

func (e *SubAnalysisError) Unwrap() error { return e.Err }
