package scheduler

import (
	"context"

	"pibrain/internal/domain"
	"pibrain/internal/store"
)

// runPatternAggregation walks every node's observations and lessons,
// folding them into the insights/failure_patterns/model_stats aggregate
// tables, per spec.md §4.8. Unlike reanalysis and connection discovery
// it has no spec-named limit, so it walks the full node set each run;
// ListNodeIDs with a zero Limit returns everything.
func (s *Scheduler) runPatternAggregation(ctx context.Context, deps Deps) Result {
	start := s.now()
	res := Result{Job: JobPatternAggregation, Start: start, Details: map[string]interface{}{}}

	ids, err := deps.Store.ListNodeIDs(store.NodeQuery{})
	if err != nil {
		res.Err = err
		res.End = s.now()
		return res
	}

	var insights, failures, modelStats int
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		node, err := deps.Store.GetNode(id)
		if err != nil {
			continue
		}

		insights += aggregateLessons(deps, node)
		insights += aggregateModelQuirks(deps, node)
		failures += aggregateFailures(deps, node)
		modelStats += aggregateModelStats(deps, node)
	}

	res.ItemsProcessed = insights + failures + modelStats
	res.Details["nodes_walked"] = len(ids)
	res.Details["insights_upserted"] = insights
	res.Details["failure_patterns_upserted"] = failures
	res.Details["model_stats_upserted"] = modelStats
	res.End = s.now()
	return res
}

func aggregateLessons(deps Deps, node domain.Node) int {
	count := 0
	for bucket, lessons := range node.Lessons {
		for _, lesson := range lessons {
			if lesson == "" {
				continue
			}
			err := deps.Store.UpsertInsight(store.Insight{
				Type:       "lesson:" + string(bucket),
				Model:      firstOrEmpty(node.Observations.ModelsUsed),
				Pattern:    lesson,
				Confidence: 1.0,
			})
			if err == nil {
				count++
			}
		}
	}
	return count
}

func aggregateModelQuirks(deps Deps, node domain.Node) int {
	count := 0
	model := firstOrEmpty(node.Observations.ModelsUsed)
	for _, quirk := range node.Observations.ModelQuirks {
		if quirk == "" {
			continue
		}
		err := deps.Store.UpsertInsight(store.Insight{
			Type:       "model_quirk",
			Model:      model,
			Pattern:    quirk,
			Confidence: 1.0,
		})
		if err == nil {
			count++
		}
	}
	return count
}

func aggregateFailures(deps Deps, node domain.Node) int {
	count := 0
	tool := firstOrEmpty(node.Content.ToolsUsed)
	for _, e := range node.Observations.ToolUseErrors {
		if e == "" {
			continue
		}
		if err := deps.Store.UpsertFailurePattern(e, tool); err == nil {
			count++
		}
	}
	for _, e := range node.Content.ErrorsObserved {
		if e == "" {
			continue
		}
		if err := deps.Store.UpsertFailurePattern(e, tool); err == nil {
			count++
		}
	}
	return count
}

func aggregateModelStats(deps Deps, node domain.Node) int {
	count := 0
	success := node.Content.Outcome == domain.OutcomeSuccess
	for _, model := range node.Observations.ModelsUsed {
		if model == "" {
			continue
		}
		if err := deps.Store.UpsertModelStats(model, success); err == nil {
			count++
		}
	}
	return count
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}
