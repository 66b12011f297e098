package domain

import "time"

// Outcome is the closed result enum for a segment's analysis, per
// spec.md §3's content attributes.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
	OutcomeAbandoned Outcome = "abandoned"
)

// LessonBucket is one of the seven disjoint lesson buckets spec.md §3
// requires the analyzer to sort lessons into.
type LessonBucket string

const (
	LessonProject  LessonBucket = "project"
	LessonTask     LessonBucket = "task"
	LessonUser     LessonBucket = "user"
	LessonModel    LessonBucket = "model"
	LessonTool     LessonBucket = "tool"
	LessonSkill    LessonBucket = "skill"
	LessonSubagent LessonBucket = "subagent"
)

// Classification groups the analyzer's task/project/stack tagging.
type Classification struct {
	TaskType  string   `json:"task_type"`
	Project   string   `json:"project"`
	Languages []string `json:"languages"`
	Flags     []string `json:"flags,omitempty"`
}

// Content groups the analyzer's narrative output for the segment.
type Content struct {
	Summary       string   `json:"summary"`
	Outcome       Outcome  `json:"outcome"`
	KeyDecisions  []string `json:"key_decisions,omitempty"`
	TouchedFiles  []string `json:"touched_files,omitempty"`
	ToolsUsed     []string `json:"tools_used,omitempty"`
	ErrorsObserved []string `json:"errors_observed,omitempty"`
}

// Lessons holds per-bucket lesson strings extracted from the segment.
type Lessons map[LessonBucket][]string

// Observations groups model-behavior notes.
type Observations struct {
	ModelsUsed       []string `json:"models_used,omitempty"`
	PromptingWins    []string `json:"prompting_wins,omitempty"`
	PromptingFailures []string `json:"prompting_failures,omitempty"`
	ModelQuirks      []string `json:"model_quirks,omitempty"`
	ToolUseErrors    []string `json:"tool_use_errors,omitempty"`
}

// Metadata groups the analyzer run's cost/timing accounting.
type Metadata struct {
	Tokens         int       `json:"tokens"`
	CostUSD        float64   `json:"cost_usd"`
	WallDuration   time.Duration `json:"wall_duration"`
	ObservedAt     time.Time `json:"observed_at"`
	AnalyzedAt     time.Time `json:"analyzed_at"`
	AnalyzerVersion string   `json:"analyzer_version"`
}

// Semantic groups tags/topics used by FTS and connection discovery.
type Semantic struct {
	Tags            []string `json:"tags,omitempty"`
	Topics          []string `json:"topics,omitempty"`
	RelatedProjects []string `json:"related_projects,omitempty"`
	Concepts        []string `json:"concepts,omitempty"`
}

// DaemonMeta groups bookkeeping the daemon itself recorded during
// analysis, as distinct from what the analyzer reported.
type DaemonMeta struct {
	Decisions     []string `json:"decisions,omitempty"`
	RLMSkillUsed  bool     `json:"rlm_skill_used"`
	SegmentTokens int      `json:"segment_tokens"`
}

// Signals holds optional friction/delight scoring. A nil *Signals means
// the analyzer did not report them for this node.
type Signals struct {
	FrictionScore float64  `json:"friction_score"`
	DelightScore  float64  `json:"delight_score"`
	DerivedFlags  []string `json:"derived_flags,omitempty"`
}

// Node is the analyzer's structured output for one segment, plus the
// derived relevance/archival state the Consolidation Scheduler maintains.
type Node struct {
	ID      string `json:"id"`
	Version int    `json:"version"`

	SessionFile  string `json:"session_file"`
	StartEntryID string `json:"start_entry_id"`
	EndEntryID   string `json:"end_entry_id"`
	Computer     string `json:"computer"`

	Classification Classification `json:"classification"`
	Content        Content        `json:"content"`
	Lessons        Lessons        `json:"lessons"`
	Observations   Observations   `json:"observations"`
	Metadata       Metadata       `json:"metadata"`
	Semantic       Semantic       `json:"semantic"`
	Daemon         DaemonMeta     `json:"daemon"`
	Signals        *Signals       `json:"signals,omitempty"`

	Relevance    float64   `json:"relevance"`
	Archived     bool      `json:"archived"`
	LastAccessed time.Time `json:"last_accessed"`

	// Extra holds the analyzer output's "extra" object, if it has one; it
	// is kept on the blob and ignored on the relational projection. Other
	// top-level fields this schema does not name are dropped on decode.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Segment reconstructs the originating Segment from a node's source triple.
func (n Node) Segment() Segment {
	return Segment{SessionFile: n.SessionFile, StartEntryID: n.StartEntryID, EndEntryID: n.EndEntryID, Computer: n.Computer}
}
