package domain

// Severity is the closed severity enum for an aggregated insight.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Insight is a derived record summarizing a repeated observation across
// nodes, keyed by (Type, Model, Tool, Pattern), per spec.md §3.
type Insight struct {
	ID            int64
	Type          string
	Model         string
	Tool          string
	Pattern       string
	Frequency     int
	MeanConfidence float64
	Severity      Severity
	WorkaroundHint string
	PromptText     string
	PromptIncluded bool
	PromptVersion  string
}
