package domain

import "sort"

// Statuses that are fully transparent to streak and rate math: they are
// skipped over, never counted and never terminate a walk. Everything else
// is meaningful in some way (success/failed count, the rest terminate).
func isTransparent(s PipelineStatus) bool {
	switch s {
	case StatusSkipped, StatusManual, StatusCanceled, StatusCancelled:
		return true
	}
	return false
}

// defaultBranchPipelines returns the pipelines on the given branch,
// newest first by creation time. An empty branch matches nothing: without
// a known default branch no pipeline can be attributed to it.
func defaultBranchPipelines(pipelines []Pipeline, branch string) []Pipeline {
	if branch == "" {
		return nil
	}
	var out []Pipeline
	for _, p := range pipelines {
		if p.Ref == branch {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// ConsecutiveFailures counts contiguous failed default-branch pipelines
// starting from the most recent one. Transparent statuses between two
// failures do not reset the count; any other status ends the walk.
func ConsecutiveFailures(pipelines []Pipeline, branch string) int {
	streak := 0
	for _, p := range defaultBranchPipelines(pipelines, branch) {
		switch {
		case p.Status == StatusFailed:
			streak++
		case isTransparent(p.Status):
			continue
		default:
			// success, running, pending, unknown all terminate.
			return streak
		}
	}
	return streak
}

// SuccessRate is successes/(successes+failures) over the default-branch
// pipelines. Nil when no pipeline in the subset has a countable status.
func SuccessRate(pipelines []Pipeline, branch string) *float64 {
	var successes, failures int
	for _, p := range defaultBranchPipelines(pipelines, branch) {
		switch p.Status {
		case StatusSuccess:
			successes++
		case StatusFailed:
			failures++
		}
	}
	total := successes + failures
	if total == 0 {
		return nil
	}
	rate := float64(successes) / float64(total)
	return &rate
}

// latestFacts summarizes the most recent default-branch pipeline of any
// status, or nil when none can be attributed.
func latestFacts(pipelines []Pipeline, branch string) *PipelineFacts {
	ordered := defaultBranchPipelines(pipelines, branch)
	if len(ordered) == 0 {
		return nil
	}
	p := ordered[0]
	status := p.Status
	ref := p.Ref
	updated := p.UpdatedAt
	facts := &PipelineFacts{Status: &status, Ref: &ref}
	if p.Duration != nil {
		d := *p.Duration
		facts.Duration = &d
	}
	if !updated.IsZero() {
		facts.UpdatedAt = &updated
	}
	return facts
}

// Enrich returns a fresh copy of projects with derived health fields
// attached. The input slices are read, never modified.
func Enrich(projects []Project, pipelines []Pipeline) []Project {
	byProject := make(map[int64][]Pipeline, len(projects))
	for _, p := range pipelines {
		byProject[p.ProjectID] = append(byProject[p.ProjectID], p)
	}

	out := make([]Project, len(projects))
	for i, pr := range projects {
		own := byProject[pr.ID]
		pr.ConsecutiveFailures = ConsecutiveFailures(own, pr.DefaultBranch)
		pr.SuccessRate = SuccessRate(own, pr.DefaultBranch)
		pr.LastDefaultPipeline = latestFacts(own, pr.DefaultBranch)
		out[i] = pr
	}
	return out
}

// Summarize computes the aggregate counts for one ingestion cycle.
// A project is active when at least one of its pipelines was fetched.
func Summarize(projects []Project, pipelines []Pipeline) Summary {
	s := Summary{
		TotalProjects: len(projects),
		StatusCounts:  make(map[PipelineStatus]int),
	}

	withPipelines := make(map[int64]bool)
	for _, p := range pipelines {
		s.StatusCounts[p.Status]++
		withPipelines[p.ProjectID] = true
	}
	for _, pr := range projects {
		if withPipelines[pr.ID] {
			s.ActiveProjects++
		}
	}

	s.SuccessCount = s.StatusCounts[StatusSuccess]
	s.FailedCount = s.StatusCounts[StatusFailed]
	s.RunningCount = s.StatusCounts[StatusRunning]
	return s
}

// ClassifyFailure maps an upstream failure reason to a failure domain.
// Called at the ingestion boundary so pipelines carry their classification
// from the moment they are mapped. The second return reports whether
// classification was attempted at all (false when no reason was provided).
func ClassifyFailure(reason string) (FailureDomain, bool) {
	switch reason {
	case "":
		return FailureUnclassified, false
	case "runner_system_failure", "stuck_or_timeout_failure",
		"scheduler_failure", "data_integrity_failure":
		return FailureInfra, true
	case "script_failure", "config_error":
		return FailureCode, true
	default:
		return FailureUnknown, true
	}
}
