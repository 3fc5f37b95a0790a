package jobaccess

import (
	"context"

	"novelverse/internal/api"
	"novelverse/internal/jobs"
)

// Access reads the job ledger regardless of whether a daemon is serving it.
type Access interface {
	Stats(ctx context.Context) (map[string]int, error)
	List(ctx context.Context, statuses []string, limit int) ([]api.Job, error)
}

// NewAPIAccess returns an Access backed by the daemon HTTP API.
func NewAPIAccess(client *api.Client) Access {
	return &apiAccess{client: client}
}

// NewStoreAccess returns an Access backed by direct ledger access.
func NewStoreAccess(store *jobs.Store) Access {
	return &storeAccess{store: store}
}

type apiAccess struct {
	client *api.Client
}

func (a *apiAccess) Stats(ctx context.Context) (map[string]int, error) {
	resp, err := a.client.Status(ctx)
	if err != nil {
		return nil, err
	}
	return resp.JobStats, nil
}

func (a *apiAccess) List(ctx context.Context, statuses []string, limit int) ([]api.Job, error) {
	return a.client.Jobs(ctx, api.JobQuery{Statuses: statuses, Limit: limit})
}

type storeAccess struct {
	store *jobs.Store
}

func (a *storeAccess) Stats(ctx context.Context) (map[string]int, error) {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return api.FromJobStats(stats), nil
}

func (a *storeAccess) List(ctx context.Context, statuses []string, limit int) ([]api.Job, error) {
	parsed, err := ParseStatuses(statuses)
	if err != nil {
		return nil, err
	}
	list, err := a.store.List(ctx, limit, parsed...)
	if err != nil {
		return nil, err
	}
	return api.FromJobs(list), nil
}
