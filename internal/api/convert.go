package api

import (
	"novelverse/internal/deps"
	"novelverse/internal/jobs"
	"novelverse/internal/transcode"
)

// FromJob converts a ledger row into its API representation.
func FromJob(job *jobs.Job) Job {
	if job == nil {
		return Job{}
	}
	out := Job{
		ID:            job.ID,
		RemoteID:      job.RemoteID,
		Mode:          job.Mode,
		CacheKey:      job.CacheKey,
		BookURL:       job.BookURL,
		Chapter:       job.Chapter,
		UserID:        job.UserID,
		SessionID:     job.SessionID,
		Status:        string(job.Status),
		Attempt:       job.Attempt,
		FramesRelayed: job.FramesRelayed,
		ErrorMessage:  job.ErrorMessage,
	}
	if !job.CreatedAt.IsZero() {
		out.CreatedAt = job.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !job.UpdatedAt.IsZero() {
		out.UpdatedAt = job.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	return out
}

// FromJobs converts a slice of ledger rows.
func FromJobs(list []*jobs.Job) []Job {
	out := make([]Job, 0, len(list))
	for _, job := range list {
		if job == nil {
			continue
		}
		out = append(out, FromJob(job))
	}
	return out
}

// FromJobStats keys ledger counts by status name.
func FromJobStats(stats map[jobs.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// FromDependencies converts dependency checks.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, len(statuses))
	for i, dep := range statuses {
		out[i] = DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Version:     dep.Version,
			Detail:      dep.Detail,
		}
	}
	return out
}

// FromPoolStats converts a transcode pool snapshot.
func FromPoolStats(stats transcode.PoolStats) PoolStatus {
	return PoolStatus{
		Capacity: stats.Capacity,
		InUse:    stats.InUse,
		Rejected: stats.Rejected,
	}
}
