package model

// Severity is the delay tier for a permit's current dwell, derived from how
// far the dwell exceeds the matched baseline's percentiles.
type Severity int

const (
	SeverityLow      Severity = iota // dwell below p50
	SeverityMedium                   // p50 up to and including p75
	SeverityHigh                     // above p75 up to and including p90
	SeverityCritical                 // above p90
)

var severityNames = map[Severity]string{
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "unknown"
}
