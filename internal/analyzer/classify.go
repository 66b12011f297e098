package analyzer

import (
	"encoding/json"
	"fmt"

	"pibrain/internal/domain"
)

// Exit-code convention for the analyzer subprocess, documented here since
// spec.md leaves "maps process exits... to one of [the five classes]"
// unspecified beyond naming the classes themselves. An analyzer
// implementation is expected to follow this convention; any other
// non-zero exit is treated conservatively as retryable-transient so a
// misbehaving analyzer fails open (wastes a retry) rather than closed
// (a permanently-stuck job).
const (
	exitPermanentInput  = 2
	exitPermanentConfig = 3
	exitResourceLimit   = 4
)

// classifyRun maps a failed subprocess invocation to a failure class.
func classifyRun(res runResult, err error) domain.AnalyzerFailureClass {
	switch {
	case res.timedOut:
		return domain.FailureRetryableTransient
	case res.canceled:
		return domain.FailureRetryableTransient
	case res.exitCode == exitPermanentInput:
		return domain.FailurePermanentInput
	case res.exitCode == exitPermanentConfig:
		return domain.FailurePermanentConfig
	case res.exitCode == exitResourceLimit:
		return domain.FailureRetryableResource
	case res.exitCode > 0:
		return domain.FailureRetryableTransient
	default:
		return domain.FailureUnknown
	}
}

// validateAndParse decodes the subprocess's stdout as one JSON document
// and checks it against the minimal required shape of the node schema
// (spec.md §3): a non-empty summary, a recognized outcome, and a
// classification. Anything else is a parse failure, returned as a plain
// error; the caller treats any validation failure as class `unknown`
// (conservative: a malformed response could be either a subprocess bug
// or bad input, and only the caller's retry budget can tell them apart).
func validateAndParse(stdout []byte, seg domain.Segment) (*domain.Node, error) {
	var node domain.Node
	if err := json.Unmarshal(stdout, &node); err != nil {
		return nil, fmt.Errorf("analyzer output is not valid JSON: %w", err)
	}

	if node.Content.Summary == "" {
		return nil, fmt.Errorf("analyzer output missing content.summary")
	}
	switch node.Content.Outcome {
	case domain.OutcomeSuccess, domain.OutcomePartial, domain.OutcomeFailed, domain.OutcomeAbandoned:
	default:
		return nil, fmt.Errorf("analyzer output has unrecognized outcome %q", node.Content.Outcome)
	}
	if node.Classification.TaskType == "" {
		return nil, fmt.Errorf("analyzer output missing classification.task_type")
	}

	node.SessionFile = seg.SessionFile
	node.StartEntryID = seg.StartEntryID
	node.EndEntryID = seg.EndEntryID
	node.Computer = seg.Computer
	node.ID = seg.ID()
	return &node, nil
}
