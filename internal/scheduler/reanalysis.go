package scheduler

import (
	"context"

	"pibrain/internal/domain"
	"pibrain/internal/store"
)

// runReanalysis selects up to cfg.ReanalysisLimit nodes, oldest
// analyzed-at first, and enqueues a reanalysis job for each one's
// segment. Dedup is delegated to the queue (HasExistingJob), per
// spec.md §4.8.
func (s *Scheduler) runReanalysis(ctx context.Context, deps Deps) Result {
	start := s.now()
	res := Result{Job: JobReanalysis, Start: start, Details: map[string]interface{}{}}

	ids, err := deps.Store.ListNodeIDs(store.NodeQuery{OrderBy: "analyzed_at_asc", Limit: s.cfg.ReanalysisLimit})
	if err != nil {
		res.Err = err
		res.End = s.now()
		return res
	}

	var enqueued, skipped int
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		node, err := deps.Store.GetNode(id)
		if err != nil {
			continue
		}
		seg := node.Segment()

		exists, err := deps.Queue.HasExistingJob(seg.SessionFile, seg.StartEntryID, seg.EndEntryID)
		if err != nil {
			continue
		}
		if exists {
			skipped++
			continue
		}

		job := domain.NewJob(domain.JobReanalysis, seg.SessionFile, &seg, nil, s.cfg.MaxRetries)
		if _, err := deps.Queue.Enqueue(job); err != nil {
			continue
		}
		enqueued++
	}

	res.ItemsProcessed = enqueued
	res.Details["candidates"] = len(ids)
	res.Details["skipped_existing"] = skipped
	res.End = s.now()
	return res
}
